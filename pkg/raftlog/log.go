package raftlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ironquorum/raft"
)

// defaultSegmentEntries bounds how many entries accumulate in one segment
// before a new one is rolled; kept small enough that TruncatePrefix after
// a snapshot can drop whole segment files instead of rewriting one giant
// file in place.
const defaultSegmentEntries = 4096

// defaultPreallocateBytes is the fixed size each new segment file is
// preallocated to before its first write.
const defaultPreallocateBytes = 16 * 1024 * 1024

// Log is the reference LogStore implementation: an ordered list of
// segment files, each holding a contiguous run of entries, backed by
// pkg/diskio for durability.
type Log struct {
	dir string

	mu       sync.Mutex
	segments []*segment
	pins     []pinnedRange
	nextSeq  int64
}

type pinnedRange struct {
	from, to raft.Index
}

// Open loads (or creates) a log rooted at dir, rebuilding its in-memory
// index from whatever segment files are already present.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("raftlog: create log directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if _, _, ok := parseSegmentName(e.Name()); ok {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	// Zero-padded decimal names sort in creation order; an "open-*" name
	// always sorts after every sealed "first-last" name since 'o' > '0'-'9',
	// so the at-most-one open segment naturally lands last.
	sort.Strings(paths)

	l := &Log{dir: dir}
	for _, p := range paths {
		s, err := openSegment(p)
		if err != nil {
			return nil, fmt.Errorf("raftlog: open segment %s: %w", p, err)
		}
		if len(s.records) == 0 {
			s.close()
			os.Remove(p)
			continue
		}
		if s.seq >= l.nextSeq {
			l.nextSeq = s.seq + 1
		}
		l.segments = append(l.segments, s)
	}
	return l, nil
}

// Append appends entries, which must be contiguous and start at
// LastIndex()+1. A new segment is rolled once the active one holds
// defaultSegmentEntries entries.
func (l *Log) Append(entries []raft.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range entries {
		active, err := l.activeSegmentLocked(e.Index)
		if err != nil {
			return err
		}
		if err := active.append([]raft.Entry{e}); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) activeSegmentLocked(nextIndex raft.Index) (*segment, error) {
	if len(l.segments) == 0 {
		return l.rollSegmentLocked(nextIndex)
	}
	last := l.segments[len(l.segments)-1]
	if len(last.records) >= defaultSegmentEntries {
		return l.rollSegmentLocked(nextIndex)
	}
	return last, nil
}

func (l *Log) rollSegmentLocked(firstIndex raft.Index) (*segment, error) {
	if len(l.segments) > 0 {
		if err := l.segments[len(l.segments)-1].seal(l.dir); err != nil {
			return nil, fmt.Errorf("raftlog: seal segment: %w", err)
		}
	}
	seq := l.nextSeq
	l.nextSeq++
	s, err := createSegment(l.dir, seq, firstIndex, defaultPreallocateBytes)
	if err != nil {
		return nil, err
	}
	l.segments = append(l.segments, s)
	return s, nil
}

// Get returns the entry at index, or ok=false if it is outside the
// currently retained window.
func (l *Log) Get(index raft.Index) (raft.Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.segmentFor(index)
	if s == nil {
		return raft.Entry{}, false, nil
	}
	e, ok := s.get(index)
	return e, ok, nil
}

// TermOf is equivalent to Get(index).Term but avoids decoding the payload.
func (l *Log) TermOf(index raft.Index) (raft.Term, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.segmentFor(index)
	if s == nil {
		return 0, false, nil
	}
	term, ok := s.termOf(index)
	return term, ok, nil
}

func (l *Log) segmentFor(index raft.Index) *segment {
	for _, s := range l.segments {
		if index >= s.firstIndex && index <= s.lastIndex {
			return s
		}
	}
	return nil
}

// FirstIndex returns the index of the oldest retained entry, or 0 if the
// log is empty.
func (l *Log) FirstIndex() raft.Index {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.segments) == 0 {
		return 0
	}
	return l.segments[0].firstIndex
}

// LastIndex returns the index of the newest entry, or 0 if the log is
// empty.
func (l *Log) LastIndex() raft.Index {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.segments) == 0 {
		return 0
	}
	return l.segments[len(l.segments)-1].lastIndex
}

// TruncateSuffix deletes all entries at or after fromIndex, dropping
// whole segment files that start at or after fromIndex and truncating the
// one segment fromIndex falls inside of.
func (l *Log) TruncateSuffix(fromIndex raft.Index) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var kept []*segment
	for _, s := range l.segments {
		switch {
		case s.lastIndex < fromIndex:
			kept = append(kept, s)
		case s.firstIndex >= fromIndex:
			s.close()
			os.Remove(s.path)
		default:
			if err := s.truncateSuffix(fromIndex); err != nil {
				return err
			}
			kept = append(kept, s)
		}
	}
	l.segments = kept

	// A truncated segment that had already been sealed but is now the
	// log's last (active) segment must become "open-<seq>" again: a
	// sealed name promises no more writes will land in that file, and
	// further appends are about to.
	if n := len(l.segments); n > 0 {
		last := l.segments[n-1]
		if last.sealed {
			seq := l.nextSeq
			l.nextSeq++
			if err := last.unseal(l.dir, seq); err != nil {
				return fmt.Errorf("raftlog: unseal segment: %w", err)
			}
		}
	}
	return nil
}

// TruncatePrefix deletes all entries at or before throughIndex by removing
// whole segment files fully below throughIndex. It fails with ErrBusy if
// any acquired range overlaps [FirstIndex, throughIndex], and never
// truncates partway through a segment — a segment straddling throughIndex
// is kept whole, matching the append-only nature of a sealed segment file.
func (l *Log) TruncatePrefix(throughIndex raft.Index) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.pins {
		if p.from <= throughIndex {
			return &raft.Error{Kind: raft.KindBusy}
		}
	}

	var kept []*segment
	for _, s := range l.segments {
		if s.lastIndex <= throughIndex {
			s.close()
			os.Remove(s.path)
			continue
		}
		kept = append(kept, s)
	}
	l.segments = kept
	return nil
}

// Acquire pins [from, to] against TruncatePrefix for the duration of an
// in-flight replication batch.
func (l *Log) Acquire(from, to raft.Index) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pin := pinnedRange{from: from, to: to}
	l.pins = append(l.pins, pin)
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, p := range l.pins {
			if p == pin {
				l.pins = append(l.pins[:i], l.pins[i+1:]...)
				break
			}
		}
	}
	return release, nil
}

// Close releases every segment's file descriptors.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, s := range l.segments {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
