// Package kvfsm is a minimal replicated key-value store used as the
// reference FSM for cmd/raftd (the integration test harness uses its own
// RecordingFSM instead). Applied
// state lives in a single bbolt bucket; SnapshotCapture/SnapshotRestore
// serialize the whole bucket as a gob-encoded map so a snapshot can be
// installed into a fresh store without bbolt-specific bookkeeping.
package kvfsm
