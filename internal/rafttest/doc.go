// Package rafttest is an in-process, multi-node Raft test harness: it
// wires real raft.Node instances together over real pkg/rpctransport TCP
// connections on loopback, backed by in-memory log/stable/snapshot
// stores, so tests exercise the actual reactor, election, and
// replication code paths without touching disk or a real network.
//
// It is not a mock of any collaborator interface; every piece a Cluster
// assembles is the same concrete type a production deployment would use,
// except the stores, which trade durability for speed since a test
// cluster's state never needs to survive the test process.
package rafttest
