// Package raftlog is the reference LogStore and StableStore implementation
// for the root raft package: an in-memory index of entry headers over a
// contiguous window of durable segment files, backed by pkg/diskio for the
// actual appends, plus a separately rotated current_term/voted_for file.
//
// A Log keeps every retained entry's header (term, index, segment offset,
// length) in per-segment in-memory slices for O(1) lookup. Payload bytes
// stay in the segment file: every Get reads and decodes them into an owned
// copy. mmap-backed payload references are not used.
package raftlog
