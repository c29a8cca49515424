package raftlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironquorum/raft"
)

func appendEntries(t *testing.T, l *Log, n int, startIndex raft.Index, term raft.Term) {
	t.Helper()
	for i := 0; i < n; i++ {
		idx := startIndex + raft.Index(i)
		err := l.Append([]raft.Entry{{Term: term, Index: idx, Type: raft.EntryCommand, Payload: []byte("v")}})
		require.NoError(t, err)
	}
}

func TestLog_AppendGetTermOf(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	appendEntries(t, l, 5, 1, 1)

	assert.Equal(t, raft.Index(1), l.FirstIndex())
	assert.Equal(t, raft.Index(5), l.LastIndex())

	e, ok, err := l.Get(3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, raft.Index(3), e.Index)
	assert.Equal(t, raft.Term(1), e.Term)

	term, ok, err := l.TermOf(5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, raft.Term(1), term)

	_, ok, err = l.Get(99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLog_TruncateSuffix(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	appendEntries(t, l, 5, 1, 1)
	require.NoError(t, l.TruncateSuffix(3))

	assert.Equal(t, raft.Index(2), l.LastIndex())
	_, ok, _ := l.Get(3)
	assert.False(t, ok)

	appendEntries(t, l, 1, 3, 2)
	e, ok, _ := l.Get(3)
	require.True(t, ok)
	assert.Equal(t, raft.Term(2), e.Term)
}

func TestLog_TruncatePrefixRespectsAcquire(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	appendEntries(t, l, 3, 1, 1)

	release, err := l.Acquire(1, 3)
	require.NoError(t, err)

	err = l.TruncatePrefix(2)
	assert.ErrorIs(t, err, &raft.Error{Kind: raft.KindBusy})

	release()

	require.NoError(t, l.TruncatePrefix(2))
	assert.Equal(t, raft.Index(1), l.FirstIndex())
}

func TestLog_SealsFullSegmentAndRollsNewOpenSegment(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	appendEntries(t, l, defaultSegmentEntries+2, 1, 1)

	sealed, err := filepath.Glob(filepath.Join(dir, "[0-9]*-[0-9]*"))
	require.NoError(t, err)
	assert.Len(t, sealed, 1, "the full first segment should have been sealed to a first-last name")

	open, err := filepath.Glob(filepath.Join(dir, "open-*"))
	require.NoError(t, err)
	assert.Len(t, open, 1, "exactly one segment should remain open for further appends")

	// Entries remain readable across the seal boundary.
	e, ok, err := l.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, raft.Index(1), e.Index)

	e, ok, err = l.Get(defaultSegmentEntries + 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, raft.Index(defaultSegmentEntries+2), e.Index)
}

func TestLog_TruncateSuffixUnsealsASealedSegment(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	defer l.Close()

	appendEntries(t, l, defaultSegmentEntries+2, 1, 1)
	sealedBefore, err := filepath.Glob(filepath.Join(dir, "[0-9]*-[0-9]*"))
	require.NoError(t, err)
	require.Len(t, sealedBefore, 1)

	// Truncate back into the middle of the sealed first segment.
	require.NoError(t, l.TruncateSuffix(2))

	open, err := filepath.Glob(filepath.Join(dir, "open-*"))
	require.NoError(t, err)
	assert.Len(t, open, 1, "the truncated segment should be unsealed back to an open name")

	sealedAfter, err := filepath.Glob(filepath.Join(dir, "[0-9]*-[0-9]*"))
	require.NoError(t, err)
	assert.Len(t, sealedAfter, 0)

	appendEntries(t, l, 1, 2, 2)
	e, ok, err := l.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, raft.Term(2), e.Term)
}

func TestLog_ReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	appendEntries(t, l, 3, 1, 1)
	require.NoError(t, l.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, raft.Index(1), reopened.FirstIndex())
	assert.Equal(t, raft.Index(3), reopened.LastIndex())
	e, ok, err := reopened.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, raft.Index(2), e.Index)
}

func TestOpenStableStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStableStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SetTermAndVote(4, 7, true))

	reopened, err := OpenStableStore(dir)
	require.NoError(t, err)
	term, votedFor, hasVoted, err := reopened.GetTermAndVote()
	require.NoError(t, err)
	assert.Equal(t, raft.Term(4), term)
	assert.Equal(t, raft.ServerID(7), votedFor)
	assert.True(t, hasVoted)
}

func TestOpenStableStore_AlternatesFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStableStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SetTermAndVote(1, 1, true))
	require.NoError(t, s.SetTermAndVote(2, 1, true))
	require.NoError(t, s.SetTermAndVote(3, 1, true))

	matches, err := filepath.Glob(filepath.Join(dir, "metadata*"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}
