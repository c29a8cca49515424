package raft

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/ironquorum/raft/pkg/log"
	"github.com/ironquorum/raft/pkg/metrics"
	"github.com/rs/zerolog"
)

// Completion is the continuation every mutating library operation takes.
// It is invoked exactly once, once the operation reaches a terminal status
// (committed-and-applied, rejected, or cancelled by shutdown): on the
// reactor goroutine, or synchronously on the caller's goroutine with
// ErrShutdown if the node has already stopped when the request is made.
type Completion func(index Index, result interface{}, err error)

// Options bundles the collaborators a Node is constructed with.
type Options struct {
	ID        ServerID
	Config    Config
	Transport Transport
	Log       LogStore
	Stable    StableStore
	Snapshots SnapshotStore
	FSM       FSM
}

type commandRequest struct {
	payload []byte
	isNoop  bool
	done    Completion
}

type membershipRequest struct {
	kind    membershipKind
	server  Server
	done    Completion
}

type membershipKind uint8

const (
	membershipAdd membershipKind = iota
	membershipPromote
	membershipRemove
	membershipTransfer
)

// Node is a single Raft server: the consensus state machine, wired to a
// durable log, a snapshot store, a transport, and a user FSM. All mutable
// state is owned by a single reactor goroutine; Node's exported methods
// only ever enqueue a request and return.
type Node struct {
	id  ServerID
	cfg Config

	transport Transport
	logStore  LogStore
	stable    StableStore
	snapshots SnapshotStore
	fsm       FSM

	logger zerolog.Logger
	rng    *rand.Rand

	persist persistentState
	vol     volatileState

	config              Configuration
	uncommittedConfig   bool
	uncommittedConfigAt Index

	peers     map[ServerID]*peerState
	candidate *candidateState
	promotion *promotionState

	lastIncludedIndex Index
	lastIncludedTerm  Term

	inboundSnapshot   *inboundSnapshot
	outboundSnapshots map[ServerID]*outboundSnapshot

	lastLeaderContact time.Time
	electionDeadline  time.Time
	lastHeartbeatSent time.Time

	pendingCompletions map[Index]Completion

	observers observerList

	inbox     chan Message
	submitCh  chan *commandRequest
	memberCh  chan *membershipRequest
	stopCh    chan struct{}
	stoppedCh chan struct{}

	started bool
	bytesSinceSnapshot uint64
}

// New constructs a Node in the stopped state. Call Bootstrap (first node
// only) or rely on existing on-disk state, then Start.
func New(opts Options) (*Node, error) {
	if opts.ID == 0 {
		return nil, fmt.Errorf("raft: server id must be nonzero")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Transport == nil || opts.Log == nil || opts.Stable == nil || opts.FSM == nil {
		return nil, fmt.Errorf("raft: transport, log, stable store, and fsm are required")
	}

	n := &Node{
		id:                 opts.ID,
		cfg:                opts.Config,
		transport:          opts.Transport,
		logStore:           opts.Log,
		stable:             opts.Stable,
		snapshots:          opts.Snapshots,
		fsm:                opts.FSM,
		logger:             log.WithComponent("raft").With().Uint64("node_id", uint64(opts.ID)).Logger(),
		rng:                rand.New(rand.NewSource(int64(opts.ID) ^ time.Now().UnixNano())),
		peers:              make(map[ServerID]*peerState),
		pendingCompletions: make(map[Index]Completion),
		outboundSnapshots:  make(map[ServerID]*outboundSnapshot),
		inbox:              make(chan Message, 256),
		submitCh:           make(chan *commandRequest, 64),
		memberCh:           make(chan *membershipRequest, 8),
		stopCh:             make(chan struct{}),
		stoppedCh:          make(chan struct{}),
	}
	n.vol.role = Follower
	return n, nil
}

// Bootstrap persists an initial configuration at log index 1. It must only
// be called once, on exactly one node of a new cluster, before Start.
func (n *Node) Bootstrap(servers []Server) error {
	if n.logStore.LastIndex() != 0 {
		return fmt.Errorf("raft: cannot bootstrap a node with an existing log")
	}
	cfg := Configuration{Servers: append([]Server(nil), servers...)}
	payload, err := encodeConfiguration(cfg)
	if err != nil {
		return err
	}
	entry := Entry{Term: 1, Index: 1, Type: EntryConfiguration, Payload: payload}
	if err := n.logStore.Append([]Entry{entry}); err != nil {
		return ioError(err)
	}
	if err := n.stable.SetTermAndVote(1, 0, false); err != nil {
		return ioError(err)
	}
	return nil
}

// Start loads persisted state, restores the latest snapshot if any, and
// launches the reactor goroutine. The node begins as a follower.
func (n *Node) Start() error {
	if n.started {
		return fmt.Errorf("raft: already started")
	}
	if err := n.restoreFromStable(); err != nil {
		return err
	}
	if err := n.restoreFromSnapshot(); err != nil {
		return err
	}
	n.config = n.loadLatestConfiguration()
	n.transport.RecvStream(func(msg Message) {
		select {
		case n.inbox <- msg:
		case <-n.stopCh:
		}
	})
	n.resetElectionTimer()
	n.started = true
	go n.run()
	return nil
}

// Stop cooperatively shuts the reactor down: in-flight disk writes are
// awaited (not cancelled), outbound sends are abandoned, and pending
// completions fire with ErrCancelled.
func (n *Node) Stop() {
	if !n.started {
		return
	}
	close(n.stopCh)
	<-n.stoppedCh
}

func (n *Node) restoreFromStable() error {
	term, votedFor, hasVotedFor, err := n.stable.GetTermAndVote()
	if err != nil {
		return ioError(err)
	}
	n.persist.currentTerm = term
	n.persist.votedFor = votedFor
	n.persist.hasVotedFor = hasVotedFor
	return nil
}

func (n *Node) restoreFromSnapshot() error {
	if n.snapshots == nil {
		return nil
	}
	metas, err := n.snapshots.List()
	if err != nil {
		return ioError(err)
	}
	if len(metas) == 0 {
		return nil
	}
	meta := metas[0]
	_, r, err := n.snapshots.Open(meta.ID)
	if err != nil {
		return ioError(err)
	}
	defer r.Close()
	if restorer, ok := n.fsm.(SnapshotRestorer); ok {
		data, readErr := io.ReadAll(r)
		if readErr != nil {
			return ioError(readErr)
		}
		if err := restorer.SnapshotRestore(data); err != nil {
			return corruptError(err)
		}
	}
	n.lastIncludedIndex = meta.LastIncludedIndex
	n.lastIncludedTerm = meta.LastIncludedTerm
	n.vol.lastApplied = meta.LastIncludedIndex
	n.vol.commitIndex = meta.LastIncludedIndex
	return nil
}

// loadLatestConfiguration scans the retained log (newest entry first) for
// the most recent configuration entry; falling back to the snapshot's
// configuration, or an empty configuration for a brand new node.
func (n *Node) loadLatestConfiguration() Configuration {
	for idx := n.logStore.LastIndex(); idx >= n.logStore.FirstIndex() && idx > 0; idx-- {
		entry, ok, err := n.logStore.Get(idx)
		if err != nil || !ok {
			continue
		}
		if entry.Type == EntryConfiguration {
			cfg, err := decodeConfiguration(entry.Payload)
			if err == nil {
				if idx > n.vol.commitIndex {
					n.uncommittedConfig = true
					n.uncommittedConfigAt = idx
				}
				return cfg
			}
		}
	}
	return Configuration{}
}

// Role returns the node's current role.
func (n *Node) Role() Role { return n.vol.role }

// CurrentTerm returns the node's current term.
func (n *Node) CurrentTerm() Term { return n.persist.currentTerm }

// LeaderHint returns the last known leader and whether one is known.
func (n *Node) LeaderHint() (ServerID, bool) { return n.vol.leaderHint, n.vol.hasLeaderHint }

// RegisterObserver adds a watch callback, invoked synchronously on the
// reactor goroutine for leader and term transitions.
func (n *Node) RegisterObserver(fn Observer) error {
	return n.observers.register(fn)
}

// SubmitCommand appends payload as a new log entry if this node is leader.
// done is invoked once the entry is either committed and applied (result
// is the FSM's return value), or fails.
func (n *Node) SubmitCommand(payload []byte, done Completion) {
	req := &commandRequest{payload: payload, done: done}
	select {
	case n.submitCh <- req:
	case <-n.stopCh:
		done(0, nil, ErrShutdown)
	}
}

// AddServer adds a new non-voting server to the configuration.
func (n *Node) AddServer(id ServerID, address string, done Completion) {
	n.sendMembership(&membershipRequest{kind: membershipAdd, server: Server{ID: id, Address: address, Role: RoleNonVoter}, done: done})
}

// PromoteServer begins the bounded catch-up process to turn a non-voter
// into a voter.
func (n *Node) PromoteServer(id ServerID, done Completion) {
	n.sendMembership(&membershipRequest{kind: membershipPromote, server: Server{ID: id}, done: done})
}

// RemoveServer removes a server from the configuration.
func (n *Node) RemoveServer(id ServerID, done Completion) {
	n.sendMembership(&membershipRequest{kind: membershipRemove, server: Server{ID: id}, done: done})
}

// TransferLeadership asks this node (if leader) to hand off leadership to
// target via TimeoutNow. TimeoutNow is sent only if target is already
// fully caught up; otherwise the leader starts replicating to it and done
// fails with ErrBusy.
func (n *Node) TransferLeadership(target ServerID, done Completion) {
	n.sendMembership(&membershipRequest{kind: membershipTransfer, server: Server{ID: target}, done: done})
}

func (n *Node) sendMembership(req *membershipRequest) {
	select {
	case n.memberCh <- req:
	case <-n.stopCh:
		req.done(0, nil, ErrShutdown)
	}
}

// reportMetrics pushes the node's current state to the package-level
// Prometheus gauges. Called once per reactor tick; kept here rather than
// as a pkg/metrics collector to avoid a metrics<->raft import cycle.
func (n *Node) reportMetrics() {
	metrics.RaftTerm.Set(float64(n.persist.currentTerm))
	metrics.RaftCommitIndex.Set(float64(n.vol.commitIndex))
	metrics.RaftLastAppliedIndex.Set(float64(n.vol.lastApplied))
	metrics.RaftLastLogIndex.Set(float64(n.logStore.LastIndex()))
	metrics.RaftPeersTotal.Set(float64(len(n.config.Servers)))
	if n.vol.role == Leader {
		metrics.RaftIsLeader.Set(1)
	} else {
		metrics.RaftIsLeader.Set(0)
	}
	for _, r := range []Role{Follower, Candidate, Leader} {
		v := 0.0
		if n.vol.role == r {
			v = 1
		}
		metrics.RaftRole.WithLabelValues(r.String()).Set(v)
	}
}
