package snapshotstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ironquorum/raft"
)

// Store is the reference SnapshotStore: each snapshot is a pair of files,
// snapshot-<index>-<term>-<uuid> (the payload) and the same name with a
// .meta suffix (the gob-encoded metadata), written via temp-file-then-
// rename so a reader never observes a partially written snapshot.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open returns a Store rooted at dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshotstore: create directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

type metaFile struct {
	LastIncludedIndex raft.Index
	LastIncludedTerm  raft.Term
	Configuration     raft.Configuration
}

func snapshotID(lastIncludedIndex raft.Index, lastIncludedTerm raft.Term) string {
	return fmt.Sprintf("snapshot-%020d-%020d-%s", lastIncludedIndex, lastIncludedTerm, uuid.NewString())
}

// sink is the in-progress write side of Create; it buffers into a temp
// file and only becomes visible (via rename) on Close.
type sink struct {
	store     *Store
	id        string
	tmpPath   string
	finalPath string
	metaPath  string
	meta      metaFile
	f         *os.File
	closed    bool
}

// Create begins writing a new snapshot for the given metadata.
func (s *Store) Create(lastIncludedIndex raft.Index, lastIncludedTerm raft.Term, configuration raft.Configuration) (raft.SnapshotSink, error) {
	id := snapshotID(lastIncludedIndex, lastIncludedTerm)
	finalPath := filepath.Join(s.dir, id)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: create temp file: %w", err)
	}

	return &sink{
		store:     s,
		id:        id,
		tmpPath:   tmpPath,
		finalPath: finalPath,
		metaPath:  finalPath + ".meta",
		meta:      metaFile{LastIncludedIndex: lastIncludedIndex, LastIncludedTerm: lastIncludedTerm, Configuration: configuration},
		f:         f,
	}, nil
}

func (sk *sink) Write(p []byte) (int, error) {
	return sk.f.Write(p)
}

func (sk *sink) ID() string { return sk.id }

// Close finalizes the snapshot: fsync and rename the payload into place,
// write the .meta sidecar to a temp file and rename it into place (the
// sidecar gets no fsync of its own), then fsync the directory so the
// renames themselves are durable.
func (sk *sink) Close() error {
	if sk.closed {
		return nil
	}
	sk.closed = true

	if err := sk.f.Sync(); err != nil {
		sk.f.Close()
		return fmt.Errorf("snapshotstore: sync payload: %w", err)
	}
	if err := sk.f.Close(); err != nil {
		return fmt.Errorf("snapshotstore: close payload: %w", err)
	}
	if err := os.Rename(sk.tmpPath, sk.finalPath); err != nil {
		return fmt.Errorf("snapshotstore: rename payload into place: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sk.meta); err != nil {
		return fmt.Errorf("snapshotstore: encode metadata: %w", err)
	}
	metaTmp := sk.metaPath + ".tmp"
	if err := os.WriteFile(metaTmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("snapshotstore: write metadata: %w", err)
	}
	if err := os.Rename(metaTmp, sk.metaPath); err != nil {
		return fmt.Errorf("snapshotstore: rename metadata into place: %w", err)
	}

	dirFile, err := os.Open(sk.store.dir)
	if err != nil {
		return err
	}
	defer dirFile.Close()
	return dirFile.Sync()
}

// Cancel discards the in-progress snapshot, leaving no trace on disk.
func (sk *sink) Cancel() error {
	if sk.closed {
		return nil
	}
	sk.closed = true
	sk.f.Close()
	return os.Remove(sk.tmpPath)
}

// Open returns a reader for the payload of the snapshot with the given ID.
func (s *Store) Open(id string) (raft.SnapshotMeta, io.ReadCloser, error) {
	metaPath := filepath.Join(s.dir, id+".meta")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return raft.SnapshotMeta{}, nil, fmt.Errorf("snapshotstore: read metadata: %w", err)
	}
	var mf metaFile
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&mf); err != nil {
		return raft.SnapshotMeta{}, nil, fmt.Errorf("snapshotstore: decode metadata: %w", err)
	}

	f, err := os.Open(filepath.Join(s.dir, id))
	if err != nil {
		return raft.SnapshotMeta{}, nil, fmt.Errorf("snapshotstore: open payload: %w", err)
	}

	meta := raft.SnapshotMeta{
		ID:                id,
		LastIncludedIndex: mf.LastIncludedIndex,
		LastIncludedTerm:  mf.LastIncludedTerm,
		Configuration:     mf.Configuration,
	}
	return meta, f, nil
}

// List returns all known snapshots, newest first (by last included index,
// then term, which the lexical filename ordering already matches).
func (s *Store) List() ([]raft.SnapshotMeta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".meta") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		if strings.HasPrefix(name, "snapshot-") {
			ids = append(ids, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	metas := make([]raft.SnapshotMeta, 0, len(ids))
	for _, id := range ids {
		meta, reader, err := s.Open(id)
		if err != nil {
			continue
		}
		reader.Close()
		metas = append(metas, meta)
	}
	return metas, nil
}
