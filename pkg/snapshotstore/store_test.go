package snapshotstore

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironquorum/raft"
)

func testConfiguration() raft.Configuration {
	return raft.Configuration{Servers: []raft.Server{
		{ID: 1, Address: "127.0.0.1:8001", Role: raft.RoleVoter},
		{ID: 2, Address: "127.0.0.1:8002", Role: raft.RoleVoter},
	}}
}

func TestStore_CreateCloseOpenRoundtrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	sink, err := s.Create(10, 3, testConfiguration())
	require.NoError(t, err)

	_, err = sink.Write([]byte("fsm-state-bytes"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	meta, r, err := s.Open(sink.ID())
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, raft.Index(10), meta.LastIncludedIndex)
	assert.Equal(t, raft.Term(3), meta.LastIncludedTerm)
	assert.Equal(t, testConfiguration(), meta.Configuration)

	payload, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "fsm-state-bytes", string(payload))
}

func TestStore_CancelLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	sink, err := s.Create(1, 1, testConfiguration())
	require.NoError(t, err)
	_, err = sink.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, sink.Cancel())

	metas, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestStore_ListOrdersNewestFirst(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, idx := range []raft.Index{5, 20, 12} {
		sink, err := s.Create(idx, 1, testConfiguration())
		require.NoError(t, err)
		require.NoError(t, sink.Close())
	}

	metas, err := s.List()
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, raft.Index(20), metas[0].LastIncludedIndex)
	assert.Equal(t, raft.Index(12), metas[1].LastIncludedIndex)
	assert.Equal(t, raft.Index(5), metas[2].LastIncludedIndex)
}

func TestStore_DoubleCloseIsNoop(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	sink, err := s.Create(1, 1, testConfiguration())
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	assert.NoError(t, sink.Close())
}
