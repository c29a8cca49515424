package rafttest

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/ironquorum/raft"
)

// MemSnapshotStore is an in-memory raft.SnapshotStore.
type MemSnapshotStore struct {
	mu      sync.Mutex
	counter int
	entries map[string]memSnapshot
}

type memSnapshot struct {
	meta    raft.SnapshotMeta
	payload []byte
}

// NewMemSnapshotStore returns an empty snapshot store.
func NewMemSnapshotStore() *MemSnapshotStore {
	return &MemSnapshotStore{entries: make(map[string]memSnapshot)}
}

type memSink struct {
	store *MemSnapshotStore
	id    string
	meta  raft.SnapshotMeta
	buf   bytes.Buffer
	done  bool
}

func (s *MemSnapshotStore) Create(lastIncludedIndex raft.Index, lastIncludedTerm raft.Term, configuration raft.Configuration) (raft.SnapshotSink, error) {
	s.mu.Lock()
	s.counter++
	id := fmt.Sprintf("snapshot-%d-%d-%d", lastIncludedIndex, lastIncludedTerm, s.counter)
	s.mu.Unlock()

	return &memSink{
		store: s,
		id:    id,
		meta: raft.SnapshotMeta{
			ID:                id,
			LastIncludedIndex: lastIncludedIndex,
			LastIncludedTerm:  lastIncludedTerm,
			Configuration:     configuration,
		},
	}, nil
}

func (sk *memSink) Write(p []byte) (int, error) { return sk.buf.Write(p) }
func (sk *memSink) ID() string                  { return sk.id }

func (sk *memSink) Close() error {
	if sk.done {
		return nil
	}
	sk.done = true
	sk.store.mu.Lock()
	defer sk.store.mu.Unlock()
	sk.store.entries[sk.id] = memSnapshot{meta: sk.meta, payload: sk.buf.Bytes()}
	return nil
}

func (sk *memSink) Cancel() error {
	sk.done = true
	return nil
}

func (s *MemSnapshotStore) Open(id string) (raft.SnapshotMeta, io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.entries[id]
	if !ok {
		return raft.SnapshotMeta{}, nil, fmt.Errorf("rafttest: no such snapshot %q", id)
	}
	return snap.meta, io.NopCloser(bytes.NewReader(snap.payload)), nil
}

func (s *MemSnapshotStore) List() ([]raft.SnapshotMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metas := make([]raft.SnapshotMeta, 0, len(s.entries))
	for _, snap := range s.entries {
		metas = append(metas, snap.meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].LastIncludedIndex > metas[j].LastIncludedIndex
	})
	return metas, nil
}
