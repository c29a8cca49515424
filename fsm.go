package raft

// FSM is the user state machine that consumes committed commands. Apply is
// invoked on the reactor goroutine in strict commit order; it must not
// block on I/O that depends on the reactor itself.
type FSM interface {
	Apply(entry Entry) interface{}
}

// SnapshotCapturer lets an FSM provide its state for a snapshot. Capture
// is called synchronously on the reactor goroutine and must return a
// self-contained byte slice; it must not retain references into live FSM
// state that could mutate concurrently.
type SnapshotCapturer interface {
	SnapshotCapture() ([]byte, error)
}

// SnapshotRestorer lets an FSM load state captured by SnapshotCapturer, or
// installed via InstallSnapshot from a leader. Restore replaces the FSM's
// entire state; it is only ever called before the FSM resumes taking
// Applies for entries above the snapshot's last included index.
type SnapshotRestorer interface {
	SnapshotRestore(data []byte) error
}
