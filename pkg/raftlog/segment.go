package raftlog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ironquorum/raft"
	"github.com/ironquorum/raft/pkg/diskio"
)

// segmentRecord is the on-disk encoding of one log entry: a 4-byte
// big-endian length prefix followed by a gob-encoded raft.Entry.
type segmentRecord struct {
	offset int64
	length int
	term   raft.Term
	index  raft.Index
}

// segment is one durable file plus the in-memory index over the entries
// it holds. A segment is named "open-<seq>" for as long as it is being
// appended to; once full it is sealed — renamed to "<first>-<last>", the
// indices it covers — and a new open segment is rolled. Zero-padded
// decimal fields keep a directory listing sorted in creation order, since
// ASCII digits all sort before the letters of "open-".
type segment struct {
	path       string
	seq        int64
	sealed     bool
	firstIndex raft.Index
	lastIndex  raft.Index
	writer     diskio.Writer
	file       *os.File
	records    []segmentRecord
	cursor     int64
}

func openSegmentPath(dir string, seq int64) string {
	return filepath.Join(dir, fmt.Sprintf("open-%020d", seq))
}

func sealedSegmentPath(dir string, first, last raft.Index) string {
	return filepath.Join(dir, fmt.Sprintf("%020d-%020d", first, last))
}

// parseSegmentName reports whether a directory entry is a segment file at
// all, and if so, its sequence number (meaningful only while open).
func parseSegmentName(name string) (seq int64, sealed bool, ok bool) {
	if rest, found := strings.CutPrefix(name, "open-"); found {
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return 0, false, false
		}
		return n, false, true
	}
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return 0, false, false
	}
	if _, err := strconv.ParseUint(parts[0], 10, 64); err != nil {
		return 0, false, false
	}
	if _, err := strconv.ParseUint(parts[1], 10, 64); err != nil {
		return 0, false, false
	}
	return 0, true, true
}

// createSegment opens a brand new, empty open-<seq> segment that will
// hold entries starting at firstIndex.
func createSegment(dir string, seq int64, firstIndex raft.Index, preallocate int64) (*segment, error) {
	path := openSegmentPath(dir, seq)
	w, err := diskio.Open(diskio.Options{Path: path, Preallocate: preallocate})
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		w.Close()
		return nil, err
	}
	return &segment{path: path, seq: seq, firstIndex: firstIndex, writer: w, file: f}, nil
}

// openSegment reopens an existing segment file (open or sealed) and
// rebuilds its in-memory record index by scanning every length-prefixed
// record from the start.
func openSegment(path string) (*segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rf, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	seq, sealed, _ := parseSegmentName(filepath.Base(path))
	s := &segment{path: path, seq: seq, sealed: sealed, file: rf}
	r := bufio.NewReader(bytes.NewReader(data))
	var offset int64
	first := true
	for {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			break
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}
		var e raft.Entry
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&e); err != nil {
			break
		}
		s.records = append(s.records, segmentRecord{offset: offset, length: int(length) + 4, term: e.Term, index: e.Index})
		if first {
			s.firstIndex = e.Index
			first = false
		}
		s.lastIndex = e.Index
		offset += int64(length) + 4
	}
	s.cursor = offset

	w, err := diskio.Open(diskio.Options{Path: path})
	if err != nil {
		rf.Close()
		return nil, err
	}
	s.writer = w
	return s, nil
}

// seal closes the segment's writer and renames its file from "open-<seq>"
// to "<first>-<last>", marking it read-only from the log's point of view.
// A sealed segment keeps no writer open until (if ever) unsealLocked
// reopens it for further appends.
func (s *segment) seal(dir string) error {
	if s.sealed {
		return nil
	}
	newPath := sealedSegmentPath(dir, s.firstIndex, s.lastIndex)
	if err := s.writer.Close(); err != nil {
		return err
	}
	s.writer = nil
	if err := os.Rename(s.path, newPath); err != nil {
		return err
	}
	if s.file != nil {
		s.file.Close()
	}
	f, err := os.Open(newPath)
	if err != nil {
		return err
	}
	s.file = f
	s.path = newPath
	s.sealed = true
	return nil
}

// unseal renames a previously-sealed segment back to "open-<seq>" and
// reopens it for writing. Only reached when TruncateSuffix shrinks the
// log down to (or into) a segment that had already been sealed, making it
// the log's active segment again.
func (s *segment) unseal(dir string, seq int64) error {
	newPath := openSegmentPath(dir, seq)
	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
	if err := os.Rename(s.path, newPath); err != nil {
		return err
	}
	if s.file != nil {
		s.file.Close()
	}
	f, err := os.Open(newPath)
	if err != nil {
		return err
	}
	s.file = f
	s.path = newPath
	s.seq = seq
	s.sealed = false

	w, err := diskio.Open(diskio.Options{Path: newPath})
	if err != nil {
		return err
	}
	s.writer = w
	return nil
}

// append durably writes entries (already known to be contiguous and to
// belong to this segment) and updates the in-memory index once durable.
func (s *segment) append(entries []raft.Entry) error {
	var buf bytes.Buffer
	newRecords := make([]segmentRecord, 0, len(entries))
	offset := s.cursor
	for _, e := range entries {
		var payload bytes.Buffer
		if err := gob.NewEncoder(&payload).Encode(e); err != nil {
			return err
		}
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(payload.Len()))
		buf.Write(lenPrefix[:])
		buf.Write(payload.Bytes())
		newRecords = append(newRecords, segmentRecord{offset: offset, length: payload.Len() + 4, term: e.Term, index: e.Index})
		offset += int64(payload.Len() + 4)
	}

	done := make(chan error, 1)
	s.writer.Submit(diskio.Batch{Data: buf.Bytes()}, func(err error) { done <- err })
	if err := <-done; err != nil {
		return err
	}

	s.records = append(s.records, newRecords...)
	s.cursor = offset
	if s.firstIndex == 0 && len(entries) > 0 {
		s.firstIndex = entries[0].Index
	}
	if len(entries) > 0 {
		s.lastIndex = entries[len(entries)-1].Index
	}
	return nil
}

func (s *segment) get(index raft.Index) (raft.Entry, bool) {
	rec, ok := s.findRecord(index)
	if !ok {
		return raft.Entry{}, false
	}
	payload := make([]byte, rec.length-4)
	if _, err := s.file.ReadAt(payload, rec.offset+4); err != nil {
		return raft.Entry{}, false
	}
	var e raft.Entry
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&e); err != nil {
		return raft.Entry{}, false
	}
	return e, true
}

func (s *segment) termOf(index raft.Index) (raft.Term, bool) {
	rec, ok := s.findRecord(index)
	if !ok {
		return 0, false
	}
	return rec.term, true
}

func (s *segment) findRecord(index raft.Index) (segmentRecord, bool) {
	if index < s.firstIndex || index > s.lastIndex {
		return segmentRecord{}, false
	}
	pos := int(index - s.firstIndex)
	if pos < 0 || pos >= len(s.records) {
		return segmentRecord{}, false
	}
	return s.records[pos], true
}

// truncateSuffix drops every record at or after fromIndex. The backing
// writer is closed and reopened positioned at the new end of file, since
// diskio.Writer has no in-place truncate of its own. The segment's sealed
// state is left to the caller: a segment truncated back below full may
// need unsealing if it becomes the log's new active segment.
func (s *segment) truncateSuffix(fromIndex raft.Index) error {
	rec, ok := s.findRecord(fromIndex)
	if !ok {
		return nil
	}
	newLen := rec.offset
	if s.writer != nil {
		s.writer.Close()
	}
	if err := os.Truncate(s.path, newLen); err != nil {
		return err
	}
	w, err := diskio.Open(diskio.Options{Path: s.path})
	if err != nil {
		return err
	}
	s.writer = w
	pos := int(fromIndex - s.firstIndex)
	s.records = s.records[:pos]
	s.cursor = newLen
	if len(s.records) == 0 {
		s.lastIndex = s.firstIndex - 1
	} else {
		s.lastIndex = s.records[len(s.records)-1].index
	}
	return nil
}

func (s *segment) close() error {
	var err error
	if s.writer != nil {
		err = s.writer.Close()
	}
	if s.file != nil {
		s.file.Close()
	}
	return err
}
