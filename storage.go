package raft

import "io"

// LogStore is the volatile index over durable entries: a contiguous window
// spanning [snapshot_last_index+1, last_index]. Implementations are not
// required to be safe for concurrent use from more than one goroutine —
// the reactor is the sole mutator, per the concurrency model. See
// pkg/raftlog for the reference segment-file implementation backed by
// pkg/diskio.
type LogStore interface {
	// Append appends entries, which must be contiguous and start at
	// LastIndex()+1.
	Append(entries []Entry) error
	// Get returns the entry at index, or ok=false if it is outside the
	// currently retained window.
	Get(index Index) (entry Entry, ok bool, err error)
	// TermOf is equivalent to Get(index).Term but allows an implementation
	// to avoid fetching the payload.
	TermOf(index Index) (term Term, ok bool, err error)
	// FirstIndex returns the index of the oldest retained entry, or 0 if
	// the log is empty.
	FirstIndex() Index
	// LastIndex returns the index of the newest entry, or 0 if the log is
	// empty.
	LastIndex() Index
	// TruncateSuffix deletes all entries at or after fromIndex.
	TruncateSuffix(fromIndex Index) error
	// TruncatePrefix deletes all entries at or before throughIndex. Fails
	// with ErrBusy if any acquired range overlaps [FirstIndex, throughIndex].
	TruncatePrefix(throughIndex Index) error
	// Acquire pins [from, to] against TruncatePrefix for the duration of an
	// in-flight replication batch; the returned func releases the pin.
	Acquire(from, to Index) (release func(), err error)
}

// StableStore persists the fields that must be durable before a node acts
// externally on a message that depends on them: current_term and
// voted_for. A concrete implementation typically backs onto the
// metadata1/metadata2 rotation described in the storage layout (see
// pkg/raftlog).
type StableStore interface {
	SetTermAndVote(term Term, votedFor ServerID, hasVotedFor bool) error
	GetTermAndVote() (term Term, votedFor ServerID, hasVotedFor bool, err error)
}

// SnapshotMeta describes a snapshot without its payload.
type SnapshotMeta struct {
	ID                string
	LastIncludedIndex Index
	LastIncludedTerm  Term
	Configuration     Configuration
}

// SnapshotSink receives a snapshot payload being written. Close finalizes
// the snapshot (atomic temp-then-rename); Cancel discards it.
type SnapshotSink interface {
	io.Writer
	ID() string
	Close() error
	Cancel() error
}

// SnapshotStore is the durable store for FSM snapshots: take/persist,
// install, restore. See pkg/snapshotstore for the reference
// temp-file-then-rename implementation.
type SnapshotStore interface {
	// Create begins writing a new snapshot for the given metadata.
	Create(lastIncludedIndex Index, lastIncludedTerm Term, configuration Configuration) (SnapshotSink, error)
	// Open returns a reader for the payload of the snapshot with the given
	// ID, along with its metadata.
	Open(id string) (SnapshotMeta, io.ReadCloser, error)
	// List returns all known snapshots, newest first.
	List() ([]SnapshotMeta, error)
}
