package diskio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironquorum/raft/pkg/log"
)

func TestFallbackWriter_SubmitOrdersByOffset(t *testing.T) {
	dir := t.TempDir()
	f, err := os.OpenFile(filepath.Join(dir, "segment"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)

	w := newFallbackWriter(f, log.WithComponent("diskio-test"))
	defer w.Close()

	type result struct {
		err error
	}
	done := make(chan result, 2)

	w.Submit(Batch{Data: []byte("hello")}, func(err error) { done <- result{err} })
	w.Submit(Batch{Data: []byte("world")}, func(err error) { done <- result{err} })

	for i := 0; i < 2; i++ {
		r := <-done
		assert.NoError(t, r.err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "segment"))
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(data))
}

func TestFallbackWriter_ClosedRejectsSubmit(t *testing.T) {
	dir := t.TempDir()
	f, err := os.OpenFile(filepath.Join(dir, "segment"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)

	w := newFallbackWriter(f, log.WithComponent("diskio-test"))
	require.NoError(t, w.Close())

	done := make(chan error, 1)
	w.Submit(Batch{Data: []byte("late")}, func(err error) { done <- err })
	assert.ErrorIs(t, <-done, ErrWriterClosed)
}

func TestErrorLatch_FirstErrorWins(t *testing.T) {
	var latch errorLatch
	assert.NoError(t, latch.get())
	first := assert.AnError
	latch.set(first)
	latch.set(errors.New("second"))
	assert.Equal(t, first, latch.get())
}

func TestOpen_PreallocatesAndFsyncsDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-0")

	w, err := Open(Options{Path: path, Preallocate: 4096, DisableDirect: true})
	require.NoError(t, err)
	defer w.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.Size(), int64(4096))
}
