package kvfsm

import (
	"bytes"
	"encoding/gob"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/ironquorum/raft"
	"github.com/ironquorum/raft/pkg/log"
)

var bucketKV = []byte("kv")

// FSM is the bbolt-backed key-value state machine. It implements
// raft.FSM, raft.SnapshotCapturer, and raft.SnapshotRestorer.
type FSM struct {
	db *bolt.DB
}

// Open creates (or reopens) a key-value store at path.
func Open(path string) (*FSM, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("kvfsm: open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kvfsm: create bucket: %w", err)
	}
	return &FSM{db: db}, nil
}

// Close releases the underlying database handle.
func (f *FSM) Close() error {
	return f.db.Close()
}

// Get reads a value directly, bypassing the log — callers that need
// linearizable reads should instead route through a Raft barrier entry.
func (f *FSM) Get(key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := f.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		value = append([]byte(nil), v...)
		return nil
	})
	return value, found, err
}

// Apply implements raft.FSM. Barrier entries carry no payload and are a
// no-op; malformed commands are logged and ignored rather than returned
// as an error, since a bad command must never stall the committed log.
func (f *FSM) Apply(entry raft.Entry) interface{} {
	if entry.Type != raft.EntryCommand {
		return nil
	}
	cmd, err := decodeCommand(entry.Payload)
	if err != nil {
		log.WithComponent("kvfsm").Error().Err(err).Uint64("index", uint64(entry.Index)).Msg("discarding malformed command")
		return Result{Applied: false}
	}

	var result Result
	err = f.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		existing := b.Get([]byte(cmd.Key))
		if existing != nil {
			result.Existed = true
			result.Previous = append([]byte(nil), existing...)
		}
		switch cmd.Op {
		case OpPut:
			return b.Put([]byte(cmd.Key), cmd.Value)
		case OpDelete:
			return b.Delete([]byte(cmd.Key))
		default:
			return fmt.Errorf("unknown op %d", cmd.Op)
		}
	})
	if err != nil {
		log.WithComponent("kvfsm").Error().Err(err).Msg("apply failed")
		return Result{Applied: false}
	}
	result.Applied = true
	return result
}

// SnapshotCapture implements raft.SnapshotCapturer by gob-encoding every
// key/value pair in the bucket into a self-contained byte slice.
func (f *FSM) SnapshotCapture() ([]byte, error) {
	snapshot := make(map[string][]byte)
	err := f.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		return b.ForEach(func(k, v []byte) error {
			snapshot[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("kvfsm: capture snapshot: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return nil, fmt.Errorf("kvfsm: encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// SnapshotRestore implements raft.SnapshotRestorer: it replaces the
// bucket's entire contents with what's encoded in data.
func (f *FSM) SnapshotRestore(data []byte) error {
	var snapshot map[string][]byte
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snapshot); err != nil {
		return fmt.Errorf("kvfsm: decode snapshot: %w", err)
	}

	return f.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketKV); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketKV)
		if err != nil {
			return err
		}
		for k, v := range snapshot {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}
