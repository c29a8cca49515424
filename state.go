package raft

import "time"

// Role is the discriminated state of a Raft server.
type Role uint8

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// persistentState must be flushed to stable storage before a node acts on
// any message that depends on it: current_term and voted_for.
type persistentState struct {
	currentTerm Term
	votedFor    ServerID
	hasVotedFor bool
}

// volatileState is reset on role transitions and never persisted directly
// (commit_index and last_applied are recoverable from the log/snapshot).
type volatileState struct {
	commitIndex   Index
	lastApplied   Index
	role          Role
	leaderHint    ServerID
	hasLeaderHint bool
}

// peerState is the leader's per-peer bookkeeping for replication.
type peerState struct {
	nextIndex          Index
	matchIndex         Index
	inFlight           int
	lastContact        time.Time
	lastSentAt         time.Time
	installingSnapshot bool
	// snapshotOffset tracks how far an in-progress InstallSnapshot stream
	// has progressed, in bytes.
	snapshotOffset uint64
	// pending holds, in send order, the last log index covered by each
	// outstanding AppendEntries batch sent to this peer. AppendEntriesResult
	// carries no batch identifier, so results are correlated to sends
	// FIFO — correct as long as the transport preserves per-peer order,
	// which the RPC transport does. It lets replicateToPeer advance
	// nextIndex speculatively at send time instead of only on ack, so
	// multiple batches can genuinely be in flight at once.
	pending []Index
}

// popPending removes and returns the oldest outstanding batch's last index,
// or ok=false if none is tracked.
func (ps *peerState) popPending() (Index, bool) {
	if len(ps.pending) == 0 {
		return 0, false
	}
	v := ps.pending[0]
	ps.pending = ps.pending[1:]
	return v, true
}

// candidateState tracks an in-progress election (or pre-election).
type candidateState struct {
	preVote        bool
	votesReceived  map[ServerID]bool
	electionStart  time.Time
	currentElapsed time.Duration
}

func newCandidateState(preVote bool, now time.Time) *candidateState {
	return &candidateState{
		preVote:       preVote,
		votesReceived: make(map[ServerID]bool),
		electionStart: now,
	}
}

func (c *candidateState) grant(id ServerID) {
	c.votesReceived[id] = true
}

func (c *candidateState) count() int {
	return len(c.votesReceived)
}
