// Package raft implements single-decree-per-index Raft consensus: leader
// election with a pre-vote phase, pipelined log replication with
// conflict-hint backed next_index recovery, single-server membership
// changes with bounded catch-up rounds, and snapshot-based log compaction.
//
// A Node owns every mutable piece of consensus state on a single reactor
// goroutine; external callers never touch that state directly. SubmitCommand,
// AddServer, PromoteServer, RemoveServer, and TransferLeadership all enqueue
// a request and return, with results delivered to a Completion once the
// reactor has processed them.
//
// Durable storage (LogStore, StableStore), snapshotting (SnapshotStore), and
// peer communication (Transport) are supplied by the embedder; see
// pkg/raftlog, pkg/snapshotstore, and pkg/rpctransport for reference
// implementations, and pkg/kvfsm for a sample FSM.
package raft
