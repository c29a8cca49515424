package rafttest

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/ironquorum/raft"
)

// RecordingFSM appends every command payload it applies, in order, so a
// test can assert that every node in a cluster ends up with the same
// applied sequence. It also implements SnapshotCapture/SnapshotRestore so
// it doubles as the FSM for snapshot/catch-up scenarios.
type RecordingFSM struct {
	mu      sync.Mutex
	applied [][]byte
}

// NewRecordingFSM returns an FSM with no applied entries.
func NewRecordingFSM() *RecordingFSM {
	return &RecordingFSM{}
}

func (f *RecordingFSM) Apply(entry raft.Entry) interface{} {
	if entry.Type != raft.EntryCommand {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, append([]byte(nil), entry.Payload...))
	return len(f.applied)
}

// Applied returns a snapshot of every command payload applied so far, in
// commit order.
func (f *RecordingFSM) Applied() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.applied))
	copy(out, f.applied)
	return out
}

func (f *RecordingFSM) SnapshotCapture() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f.applied); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *RecordingFSM) SnapshotRestore(data []byte) error {
	var applied [][]byte
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&applied); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = applied
	return nil
}
