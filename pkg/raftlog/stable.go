package raftlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/ironquorum/raft"
)

// StableStore persists current_term and voted_for across two alternating
// files (metadata1/metadata2): every write goes to whichever file was not
// most recently written, so a crash mid-write always leaves the other
// file holding the last good value. Each record is a fixed-size
// [seq uint64][term uint64][votedFor uint64][hasVotedFor byte][crc32]
// payload; the record with the higher seq and a matching checksum wins.
type StableStore struct {
	mu   sync.Mutex
	a, b string
	seq  uint64

	term        raft.Term
	votedFor    raft.ServerID
	hasVotedFor bool
}

const stableRecordSize = 8 + 8 + 8 + 1 + 4

// OpenStableStore loads (or creates) the metadata1/metadata2 pair in dir.
func OpenStableStore(dir string) (*StableStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &StableStore{
		a: filepath.Join(dir, "metadata1"),
		b: filepath.Join(dir, "metadata2"),
	}

	recA, okA := readStableRecord(s.a)
	recB, okB := readStableRecord(s.b)

	switch {
	case okA && okB:
		if recA.seq >= recB.seq {
			s.applyRecord(recA)
		} else {
			s.applyRecord(recB)
		}
	case okA:
		s.applyRecord(recA)
	case okB:
		s.applyRecord(recB)
	}
	return s, nil
}

func (s *StableStore) applyRecord(r stableRecord) {
	s.seq = r.seq
	s.term = raft.Term(r.term)
	s.votedFor = raft.ServerID(r.votedFor)
	s.hasVotedFor = r.hasVotedFor
}

type stableRecord struct {
	seq         uint64
	term        uint64
	votedFor    uint64
	hasVotedFor bool
}

func readStableRecord(path string) (stableRecord, bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) != stableRecordSize {
		return stableRecord{}, false
	}
	want := binary.BigEndian.Uint32(data[stableRecordSize-4:])
	got := crc32.ChecksumIEEE(data[:stableRecordSize-4])
	if want != got {
		return stableRecord{}, false
	}
	return stableRecord{
		seq:         binary.BigEndian.Uint64(data[0:8]),
		term:        binary.BigEndian.Uint64(data[8:16]),
		votedFor:    binary.BigEndian.Uint64(data[16:24]),
		hasVotedFor: data[24] == 1,
	}, true
}

func writeStableRecord(path string, r stableRecord) error {
	buf := make([]byte, stableRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], r.seq)
	binary.BigEndian.PutUint64(buf[8:16], r.term)
	binary.BigEndian.PutUint64(buf[16:24], r.votedFor)
	if r.hasVotedFor {
		buf[24] = 1
	}
	binary.BigEndian.PutUint32(buf[stableRecordSize-4:], crc32.ChecksumIEEE(buf[:stableRecordSize-4]))

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SetTermAndVote durably persists term/votedFor/hasVotedFor, alternating
// which of the two metadata files receives the write.
func (s *StableStore) SetTermAndVote(term raft.Term, votedFor raft.ServerID, hasVotedFor bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rec := stableRecord{seq: s.seq, term: uint64(term), votedFor: uint64(votedFor), hasVotedFor: hasVotedFor}
	target := s.a
	if s.seq%2 == 0 {
		target = s.b
	}
	if err := writeStableRecord(target, rec); err != nil {
		return fmt.Errorf("raftlog: persist term/vote: %w", err)
	}
	s.term = term
	s.votedFor = votedFor
	s.hasVotedFor = hasVotedFor
	return nil
}

// GetTermAndVote returns the currently persisted term/votedFor pair.
func (s *StableStore) GetTermAndVote() (raft.Term, raft.ServerID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, s.votedFor, s.hasVotedFor, nil
}
