package diskio

import (
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ironquorum/raft/pkg/metrics"
)

// fallbackWriter is the worker-pool path: ordinary writes, each followed by
// an fsync, against a file descriptor opened with O_DSYNC on Linux and
// without it elsewhere (other.go), used on any platform/filesystem combination
// that doesn't support the AIO + O_DIRECT path. A small pool of worker
// goroutines keeps submission non-blocking from the reactor's point of
// view even though each individual write blocks its worker.
type fallbackWriter struct {
	f      *os.File
	logger zerolog.Logger

	mu     sync.Mutex
	cursor int64
	closed bool
	latch  errorLatch

	jobs   chan fallbackJob
	wg     sync.WaitGroup
}

type fallbackJob struct {
	offset     int64
	data       []byte
	onComplete func(error)
}

const fallbackWorkerCount = 2

func newFallbackWriter(f *os.File, logger zerolog.Logger) *fallbackWriter {
	w := &fallbackWriter{
		f:      f,
		logger: logger,
		jobs:   make(chan fallbackJob, 64),
	}
	for i := 0; i < fallbackWorkerCount; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	return w
}

func (w *fallbackWriter) worker() {
	defer w.wg.Done()
	for job := range w.jobs {
		if err := w.latch.get(); err != nil {
			job.onComplete(err)
			continue
		}
		timer := metrics.NewTimer()
		_, err := w.f.WriteAt(job.data, job.offset)
		if err == nil {
			err = w.f.Sync()
		}
		recordSyncLatency(timer)
		if err != nil {
			w.latch.set(err)
			w.logger.Error().Err(err).Msg("fallback disk write failed, writer entering error state")
			job.onComplete(err)
			continue
		}
		recordBytes(len(job.data))
		job.onComplete(nil)
	}
}

func (w *fallbackWriter) Submit(batch Batch, onComplete func(error)) {
	if err := w.latch.get(); err != nil {
		onComplete(err)
		return
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		onComplete(ErrWriterClosed)
		return
	}
	offset := w.cursor
	w.cursor += int64(len(batch.Data))
	w.mu.Unlock()

	select {
	case w.jobs <- fallbackJob{offset: offset, data: batch.Data, onComplete: onComplete}:
	default:
		// Queue is full; hand the job to a goroutine that enqueues it once
		// a worker frees space, rather than blocking the caller of Submit.
		go func() {
			w.jobs <- fallbackJob{offset: offset, data: batch.Data, onComplete: onComplete}
		}()
	}
}

func (w *fallbackWriter) Capabilities() Capabilities {
	return Capabilities{SupportsDirect: false, SupportsAIO: false}
}

func (w *fallbackWriter) Sync() error {
	if err := w.latch.get(); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *fallbackWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.jobs)
	w.wg.Wait()
	return w.f.Close()
}
