package kvfsm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironquorum/raft"
)

func openTestFSM(t *testing.T) *FSM {
	t.Helper()
	f, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func applyPut(t *testing.T, f *FSM, index raft.Index, key string, value []byte) Result {
	t.Helper()
	payload, err := EncodeCommand(Command{Op: OpPut, Key: key, Value: value})
	require.NoError(t, err)
	res, ok := f.Apply(raft.Entry{Type: raft.EntryCommand, Index: index, Payload: payload}).(Result)
	require.True(t, ok)
	return res
}

func TestFSM_PutThenGet(t *testing.T) {
	f := openTestFSM(t)

	res := applyPut(t, f, 1, "a", []byte("1"))
	assert.True(t, res.Applied)
	assert.False(t, res.Existed)

	value, found, err := f.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), value)
}

func TestFSM_PutReportsPreviousValue(t *testing.T) {
	f := openTestFSM(t)
	applyPut(t, f, 1, "a", []byte("1"))

	res := applyPut(t, f, 2, "a", []byte("2"))
	assert.True(t, res.Existed)
	assert.Equal(t, []byte("1"), res.Previous)
}

func TestFSM_Delete(t *testing.T) {
	f := openTestFSM(t)
	applyPut(t, f, 1, "a", []byte("1"))

	payload, err := EncodeCommand(Command{Op: OpDelete, Key: "a"})
	require.NoError(t, err)
	res, ok := f.Apply(raft.Entry{Type: raft.EntryCommand, Index: 2, Payload: payload}).(Result)
	require.True(t, ok)
	assert.True(t, res.Applied)
	assert.True(t, res.Existed)

	_, found, err := f.Get("a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFSM_BarrierEntryIsNoop(t *testing.T) {
	f := openTestFSM(t)
	result := f.Apply(raft.Entry{Type: raft.EntryBarrier, Index: 1})
	assert.Nil(t, result)
}

func TestFSM_MalformedCommandDoesNotPanic(t *testing.T) {
	f := openTestFSM(t)
	res, ok := f.Apply(raft.Entry{Type: raft.EntryCommand, Index: 1, Payload: []byte("garbage")}).(Result)
	require.True(t, ok)
	assert.False(t, res.Applied)
}

func TestFSM_SnapshotCaptureRestoreRoundtrip(t *testing.T) {
	f := openTestFSM(t)
	applyPut(t, f, 1, "a", []byte("1"))
	applyPut(t, f, 2, "b", []byte("2"))

	snapshot, err := f.SnapshotCapture()
	require.NoError(t, err)

	g := openTestFSM(t)
	applyPut(t, g, 1, "stale", []byte("x"))
	require.NoError(t, g.SnapshotRestore(snapshot))

	_, found, err := g.Get("stale")
	require.NoError(t, err)
	assert.False(t, found)

	value, found, err := g.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), value)

	value, found, err = g.Get("b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("2"), value)
}
