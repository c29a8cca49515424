package rafttest

import (
	"fmt"
	"net"
	"time"

	"github.com/ironquorum/raft"
	"github.com/ironquorum/raft/pkg/rpctransport"
)

// TestNode bundles one cluster member's Node with the collaborators it
// was built from, so a test can inspect or restart it.
type TestNode struct {
	ID        raft.ServerID
	Address   string
	Node      *raft.Node
	FSM       *RecordingFSM
	Log       *MemLogStore
	Stable    *MemStableStore
	Snapshots *MemSnapshotStore
	transport *rpctransport.Transport
}

// Cluster is a set of Nodes wired together over real loopback TCP
// connections, for tests that need genuine election and replication
// behavior rather than a mocked Transport.
type Cluster struct {
	Nodes     []*TestNode
	Config    raft.Config
	addresses map[raft.ServerID]string
}

// NewCluster builds n nodes listening on distinct loopback ports, each
// aware of every other node's address, and bootstraps node 1 with all n
// as an initial voting configuration. It does not start any node.
func NewCluster(n int, cfg raft.Config) (*Cluster, error) {
	addresses := make(map[raft.ServerID]string, n)
	listeners := make(map[raft.ServerID]net.Listener, n)
	for i := 1; i <= n; i++ {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("rafttest: listen: %w", err)
		}
		listeners[raft.ServerID(i)] = lis
		addresses[raft.ServerID(i)] = lis.Addr().String()
	}
	// rpctransport.New opens its own listener; release the probe
	// listeners immediately so the port is free for it to bind again.
	for _, lis := range listeners {
		lis.Close()
	}

	servers := make([]raft.Server, 0, n)
	for i := 1; i <= n; i++ {
		servers = append(servers, raft.Server{ID: raft.ServerID(i), Address: addresses[raft.ServerID(i)], Role: raft.RoleVoter})
	}

	c := &Cluster{Config: cfg, addresses: addresses}
	for i := 1; i <= n; i++ {
		id := raft.ServerID(i)
		peers := make(map[raft.ServerID]string, n-1)
		for peerID, addr := range addresses {
			if peerID != id {
				peers[peerID] = addr
			}
		}

		transport, err := rpctransport.New(rpctransport.Options{
			LocalID:       id,
			ListenAddress: addresses[id],
			Peers:         peers,
			Codec:         &rpctransport.GobCodec{},
		})
		if err != nil {
			return nil, fmt.Errorf("rafttest: transport for node %d: %w", id, err)
		}

		logStore := NewMemLogStore()
		stable := NewMemStableStore()
		snapshots := NewMemSnapshotStore()
		fsm := NewRecordingFSM()

		node, err := raft.New(raft.Options{
			ID:        id,
			Config:    cfg,
			Transport: transport,
			Log:       logStore,
			Stable:    stable,
			Snapshots: snapshots,
			FSM:       fsm,
		})
		if err != nil {
			return nil, fmt.Errorf("rafttest: node %d: %w", id, err)
		}
		if i == 1 {
			if err := node.Bootstrap(servers); err != nil {
				return nil, fmt.Errorf("rafttest: bootstrap: %w", err)
			}
		}

		c.Nodes = append(c.Nodes, &TestNode{
			ID: id, Address: addresses[id], Node: node, FSM: fsm,
			Log: logStore, Stable: stable, Snapshots: snapshots, transport: transport,
		})
	}
	return c, nil
}

// Start starts every node.
func (c *Cluster) Start() error {
	for _, n := range c.Nodes {
		if err := n.Node.Start(); err != nil {
			return fmt.Errorf("rafttest: start node %d: %w", n.ID, err)
		}
	}
	return nil
}

// Stop stops every node and closes its transport.
func (c *Cluster) Stop() {
	for _, n := range c.Nodes {
		n.Node.Stop()
		n.transport.Close()
	}
}

// AddNode builds (but does not start, and does not add to any Node's
// configuration) one more cluster member aware of every existing member's
// address, and registers the new member's address with every existing
// node's transport so a subsequent leader.Node.AddServer can actually
// reach it once the configuration change lands.
func (c *Cluster) AddNode(id raft.ServerID) (*TestNode, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("rafttest: listen: %w", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	peers := make(map[raft.ServerID]string, len(c.addresses))
	for peerID, peerAddr := range c.addresses {
		peers[peerID] = peerAddr
	}
	c.addresses[id] = addr

	transport, err := rpctransport.New(rpctransport.Options{
		LocalID:       id,
		ListenAddress: addr,
		Peers:         peers,
		Codec:         &rpctransport.GobCodec{},
	})
	if err != nil {
		return nil, fmt.Errorf("rafttest: transport for node %d: %w", id, err)
	}
	for _, existing := range c.Nodes {
		existing.transport.AddPeer(id, addr)
	}

	logStore := NewMemLogStore()
	stable := NewMemStableStore()
	snapshots := NewMemSnapshotStore()
	fsm := NewRecordingFSM()
	node, err := raft.New(raft.Options{
		ID:        id,
		Config:    c.Config,
		Transport: transport,
		Log:       logStore,
		Stable:    stable,
		Snapshots: snapshots,
		FSM:       fsm,
	})
	if err != nil {
		return nil, fmt.Errorf("rafttest: node %d: %w", id, err)
	}

	tn := &TestNode{
		ID: id, Address: addr, Node: node, FSM: fsm,
		Log: logStore, Stable: stable, Snapshots: snapshots, transport: transport,
	}
	c.Nodes = append(c.Nodes, tn)
	return tn, nil
}

// RestartNode stops (if still running) and discards the Node and Transport
// for id, then builds and starts a fresh pair bound to the same address and
// backed by the SAME Log/Stable/Snapshots/FSM — simulating a process crash
// and restart where only what was durably persisted survives.
func (c *Cluster) RestartNode(id raft.ServerID) (*TestNode, error) {
	var old *TestNode
	var idx int
	for i, n := range c.Nodes {
		if n.ID == id {
			old, idx = n, i
			break
		}
	}
	if old == nil {
		return nil, fmt.Errorf("rafttest: no node %d in cluster", id)
	}
	old.Node.Stop()
	old.transport.Close()

	peers := make(map[raft.ServerID]string, len(c.addresses))
	for peerID, peerAddr := range c.addresses {
		if peerID != id {
			peers[peerID] = peerAddr
		}
	}
	transport, err := rpctransport.New(rpctransport.Options{
		LocalID:       id,
		ListenAddress: old.Address,
		Peers:         peers,
		Codec:         &rpctransport.GobCodec{},
	})
	if err != nil {
		return nil, fmt.Errorf("rafttest: transport for node %d: %w", id, err)
	}
	for _, n := range c.Nodes {
		if n.ID != id {
			n.transport.AddPeer(id, old.Address)
		}
	}

	node, err := raft.New(raft.Options{
		ID:        id,
		Config:    c.Config,
		Transport: transport,
		Log:       old.Log,
		Stable:    old.Stable,
		Snapshots: old.Snapshots,
		FSM:       old.FSM,
	})
	if err != nil {
		return nil, fmt.Errorf("rafttest: node %d: %w", id, err)
	}

	if err := node.Start(); err != nil {
		return nil, fmt.Errorf("rafttest: restart node %d: %w", id, err)
	}

	restarted := &TestNode{
		ID: id, Address: old.Address, Node: node, FSM: old.FSM,
		Log: old.Log, Stable: old.Stable, Snapshots: old.Snapshots, transport: transport,
	}
	c.Nodes[idx] = restarted
	return restarted, nil
}

// WaitForLeader polls every node until one reports Role() == raft.Leader
// and returns the first such node, or timeout elapses. It does not check
// that no other node also reports Leader.
func (c *Cluster) WaitForLeader(timeout time.Duration) (*TestNode, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range c.Nodes {
			if n.Node.Role() == raft.Leader {
				return n, nil
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, fmt.Errorf("rafttest: no leader elected within %s", timeout)
}

// SubmitAndWait submits payload via leader and blocks until it commits,
// returning the error the completion callback reports, if any.
func SubmitAndWait(leader *TestNode, payload []byte, timeout time.Duration) (raft.Index, error) {
	type out struct {
		index raft.Index
		err   error
	}
	ch := make(chan out, 1)
	leader.Node.SubmitCommand(payload, func(index raft.Index, result interface{}, err error) {
		ch <- out{index: index, err: err}
	})
	select {
	case r := <-ch:
		return r.index, r.err
	case <-time.After(timeout):
		return 0, fmt.Errorf("rafttest: submit did not complete within %s", timeout)
	}
}
