package raftconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironquorum/raft"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raftd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaultsForAbsentFields(t *testing.T) {
	path := writeConfig(t, `
node_id: 1
bind_addr: "127.0.0.1:9001"
data_dir: "/tmp/raftd-1"
peers:
  - id: 2
    address: "127.0.0.1:9002"
`)
	f, err := Load(path)
	require.NoError(t, err)

	defaults := raft.DefaultConfig()
	assert.Equal(t, defaults.ElectionTimeout, f.ElectionTimeout.Get())
	assert.Equal(t, defaults.HeartbeatInterval, f.HeartbeatInterval.Get())
	assert.Equal(t, defaults.SnapshotThreshold, f.SnapshotThreshold)
}

func TestLoad_ParsesExplicitDurations(t *testing.T) {
	path := writeConfig(t, `
node_id: 1
bind_addr: "127.0.0.1:9001"
data_dir: "/tmp/raftd-1"
election_timeout: "2s"
heartbeat_interval: "250ms"
`)
	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, f.ElectionTimeout.Get())
	assert.Equal(t, 250*time.Millisecond, f.HeartbeatInterval.Get())
}

func TestLoad_RejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `bind_addr: "127.0.0.1:9001"`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestFile_TransportPeersExcludesSelf(t *testing.T) {
	f := &File{
		NodeID: 1,
		Peers: []Peer{
			{ID: 1, Address: "127.0.0.1:9001"},
			{ID: 2, Address: "127.0.0.1:9002"},
			{ID: 3, Address: "127.0.0.1:9003"},
		},
	}
	peers := f.TransportPeers()
	assert.Len(t, peers, 2)
	assert.Equal(t, "127.0.0.1:9002", peers[2])
	assert.Equal(t, "127.0.0.1:9003", peers[3])
	_, hasSelf := peers[1]
	assert.False(t, hasSelf)
}

func TestFile_BootstrapServersIncludesSelfFirst(t *testing.T) {
	f := &File{
		NodeID:   1,
		BindAddr: "127.0.0.1:9001",
		Peers: []Peer{
			{ID: 2, Address: "127.0.0.1:9002"},
		},
	}
	servers := f.BootstrapServers()
	require.Len(t, servers, 2)
	assert.Equal(t, raft.ServerID(1), servers[0].ID)
	assert.Equal(t, raft.RoleVoter, servers[0].Role)
}

func TestFile_RaftConfigRoundTrips(t *testing.T) {
	f := &File{
		ElectionTimeout:    Duration(3 * time.Second),
		HeartbeatInterval:  Duration(300 * time.Millisecond),
		SnapshotThreshold:  2048,
		MaxInFlightAppends: 4,
	}
	cfg := f.RaftConfig()
	assert.Equal(t, 3*time.Second, cfg.ElectionTimeout)
	assert.Equal(t, uint64(2048), cfg.SnapshotThreshold)
	assert.Equal(t, 4, cfg.MaxInFlightAppends)
}
