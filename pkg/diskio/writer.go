package diskio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ironquorum/raft/pkg/log"
	"github.com/ironquorum/raft/pkg/metrics"
)

// ErrWriterClosed is returned by Submit once Close has been requested.
var ErrWriterClosed = errors.New("diskio: writer is closed")

// ErrWriterErrored names the writer's persistent-error state. The writers
// in this package do not return it: once an I/O error has been latched,
// Submit and Sync fail fast with that first error instead, and a fresh
// Writer must be opened over the same (or a new) segment.
var ErrWriterErrored = errors.New("diskio: writer is in a persistent error state, rebuild required")

// Batch is a set of already-encoded, contiguous bytes to append as one
// unit. It carries no offset: a Writer places it at its own write cursor,
// which starts at zero when the Writer is opened and advances by the bytes
// each batch occupies (rounded up to the alignment block on the AIO path).
type Batch struct {
	Data []byte
}

// Capabilities describes what a Writer negotiated with the underlying
// filesystem/kernel at Open time. Never fixed at compile time: Open probes
// and reports what it actually got.
type Capabilities struct {
	SupportsDirect bool
	SupportsAIO    bool
}

// Writer appends batches to one segment file, surfacing durability
// completions asynchronously. Implementations must serialize Submit calls
// in submission order — the caller (pkg/raftlog) treats within-segment
// writes as totally ordered.
type Writer interface {
	// Submit appends batch at the writer's current cursor. onComplete is
	// invoked exactly once, with a nil error once the batch is durable or a
	// non-nil error otherwise. If the writer is closed (ErrWriterClosed) or
	// already in its persistent-error state, onComplete runs synchronously
	// on the caller's goroutine before Submit returns; otherwise it runs on
	// another goroutine.
	Submit(batch Batch, onComplete func(error))
	// Capabilities reports what submission path this writer negotiated.
	Capabilities() Capabilities
	// Sync on the AIO path blocks until every previously submitted batch
	// has completed. On the fallback path it fsyncs the file without
	// waiting for batches still queued for a worker.
	Sync() error
	// Close drains outstanding submissions and releases the segment's
	// file descriptor (and AIO context, if any). Idempotent.
	Close() error
}

// Options configures Open.
type Options struct {
	// Path is the segment file to create or append to.
	Path string
	// Preallocate is the fixed size to preallocate the segment to before
	// the first write, mirroring a posix_fallocate call.
	Preallocate int64
	// DisableDirect forces the O_DSYNC + worker-pool fallback path even
	// when the platform would otherwise support AIO/O_DIRECT. Used by
	// tests and by deployments on filesystems known not to support
	// O_DIRECT correctly (e.g. some network filesystems).
	DisableDirect bool
}

// Open creates (or appends to) a segment file and returns a Writer using
// whichever submission path the platform and Options actually support.
// The directory containing Path is fsynced after the segment file is
// created, per the "directory fsync follows segment creation" contract.
func Open(opts Options) (Writer, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("diskio: path is required")
	}
	logger := log.WithComponent("diskio").With().Str("path", opts.Path).Logger()

	existed := fileExists(opts.Path)
	w, err := openPlatform(opts, logger)
	if err != nil {
		return nil, err
	}
	if !existed {
		if err := fsyncDir(filepath.Dir(opts.Path)); err != nil {
			w.Close()
			return nil, fmt.Errorf("diskio: fsync directory: %w", err)
		}
	}
	return w, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// errorLatch is shared plumbing between submission paths: once any
// operation fails, every subsequent Submit fails fast without touching the
// file descriptor again.
type errorLatch struct {
	mu  sync.Mutex
	err error
}

func (e *errorLatch) set(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		e.err = err
	}
}

func (e *errorLatch) get() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func recordAppendLatency(timer *metrics.Timer) {
	timer.ObserveDuration(metrics.RaftLogAppendLatencySeconds)
}

func recordSyncLatency(timer *metrics.Timer) {
	timer.ObserveDuration(metrics.RaftDiskSyncLatencySeconds)
}

func recordBytes(n int) {
	metrics.RaftLogBytesWrittenTotal.Add(float64(n))
}
