package rafttest

import (
	"fmt"
	"sync"

	"github.com/ironquorum/raft"
)

// MemLogStore is a slice-backed raft.LogStore with no durability at all.
// Acquire is honored (TruncatePrefix fails over a pinned range) so tests
// that exercise snapshot/replication interplay see the same ErrBusy
// behavior a durable implementation would produce.
type MemLogStore struct {
	mu      sync.Mutex
	entries []raft.Entry // entries[i] has Index == entries[0].Index+i
	first   raft.Index
	pins    []pin
}

type pin struct{ from, to raft.Index }

// NewMemLogStore returns an empty log store.
func NewMemLogStore() *MemLogStore {
	return &MemLogStore{}
}

func (s *MemLogStore) Append(entries []raft.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(entries) == 0 {
		return nil
	}
	want := s.lastIndexLocked() + 1
	if entries[0].Index != want {
		return fmt.Errorf("rafttest: append at %d, want %d", entries[0].Index, want)
	}
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *MemLogStore) Get(index raft.Index) (raft.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.offsetLocked(index)
	if !ok {
		return raft.Entry{}, false, nil
	}
	return s.entries[i], true, nil
}

func (s *MemLogStore) TermOf(index raft.Index) (raft.Term, bool, error) {
	entry, ok, err := s.Get(index)
	return entry.Term, ok, err
}

func (s *MemLogStore) FirstIndex() raft.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return 0
	}
	return s.entries[0].Index
}

func (s *MemLogStore) LastIndex() raft.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndexLocked()
}

func (s *MemLogStore) lastIndexLocked() raft.Index {
	if len(s.entries) == 0 {
		return 0
	}
	return s.entries[len(s.entries)-1].Index
}

func (s *MemLogStore) offsetLocked(index raft.Index) (int, bool) {
	if len(s.entries) == 0 {
		return 0, false
	}
	first := s.entries[0].Index
	last := s.entries[len(s.entries)-1].Index
	if index < first || index > last {
		return 0, false
	}
	return int(index - first), true
}

func (s *MemLogStore) TruncateSuffix(fromIndex raft.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.offsetLocked(fromIndex)
	if !ok {
		if fromIndex > s.lastIndexLocked() {
			return nil
		}
		s.entries = nil
		return nil
	}
	s.entries = s.entries[:i]
	return nil
}

func (s *MemLogStore) TruncatePrefix(throughIndex raft.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pins {
		if throughIndex >= p.from {
			return raft.ErrBusy
		}
	}
	i, ok := s.offsetLocked(throughIndex)
	if !ok {
		if throughIndex < s.lastIndexLocked() {
			return nil
		}
		s.entries = nil
		return nil
	}
	s.entries = s.entries[i+1:]
	return nil
}

func (s *MemLogStore) Acquire(from, to raft.Index) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := pin{from: from, to: to}
	s.pins = append(s.pins, p)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.pins {
			if existing == p {
				s.pins = append(s.pins[:i], s.pins[i+1:]...)
				return
			}
		}
	}, nil
}

// MemStableStore is an in-memory raft.StableStore.
type MemStableStore struct {
	mu          sync.Mutex
	term        raft.Term
	votedFor    raft.ServerID
	hasVotedFor bool
}

// NewMemStableStore returns a store with term 0 and no vote recorded.
func NewMemStableStore() *MemStableStore {
	return &MemStableStore{}
}

func (s *MemStableStore) SetTermAndVote(term raft.Term, votedFor raft.ServerID, hasVotedFor bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term, s.votedFor, s.hasVotedFor = term, votedFor, hasVotedFor
	return nil
}

func (s *MemStableStore) GetTermAndVote() (raft.Term, raft.ServerID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, s.votedFor, s.hasVotedFor, nil
}
