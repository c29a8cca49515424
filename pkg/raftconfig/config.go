package raftconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ironquorum/raft"
)

// Duration wraps time.Duration so it can be written in a YAML file as a
// human string ("1s", "250ms") instead of a raw nanosecond count.
type Duration time.Duration

func (d Duration) Get() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("raftconfig: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Peer names one other server in the cluster's initial configuration.
type Peer struct {
	ID      raft.ServerID `yaml:"id"`
	Address string        `yaml:"address"`
}

// File is the on-disk shape of a node's configuration file.
type File struct {
	NodeID         raft.ServerID `yaml:"node_id"`
	BindAddr       string        `yaml:"bind_addr"`
	ControlAPIAddr string        `yaml:"control_api_addr"`
	DataDir        string        `yaml:"data_dir"`
	Bootstrap      bool          `yaml:"bootstrap"`
	Peers          []Peer        `yaml:"peers"`

	ElectionTimeout         Duration `yaml:"election_timeout"`
	HeartbeatInterval       Duration `yaml:"heartbeat_interval"`
	InstallSnapshotTrailing uint64   `yaml:"install_snapshot_trailing"`
	SnapshotThreshold       uint64   `yaml:"snapshot_threshold"`
	MaxInFlightAppends      int      `yaml:"max_in_flight_appends"`
	MaxEntriesPerAppend     int      `yaml:"max_entries_per_append"`
	TickInterval            Duration `yaml:"tick_interval"`
	MaxPromotionRounds      int      `yaml:"max_promotion_rounds"`
}

// Load reads and parses the YAML file at path, filling any field absent
// from the file with raft.DefaultConfig's value.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("raftconfig: read %s: %w", path, err)
	}

	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("raftconfig: parse %s: %w", path, err)
	}
	f.applyDefaults()

	if f.NodeID == 0 {
		return nil, fmt.Errorf("raftconfig: node_id is required")
	}
	if f.BindAddr == "" {
		return nil, fmt.Errorf("raftconfig: bind_addr is required")
	}
	if f.DataDir == "" {
		return nil, fmt.Errorf("raftconfig: data_dir is required")
	}
	return f, nil
}

// applyDefaults fills every zero-valued tunable from raft.DefaultConfig.
func (f *File) applyDefaults() {
	defaults := raft.DefaultConfig()
	if f.ElectionTimeout == 0 {
		f.ElectionTimeout = Duration(defaults.ElectionTimeout)
	}
	if f.HeartbeatInterval == 0 {
		f.HeartbeatInterval = Duration(defaults.HeartbeatInterval)
	}
	if f.InstallSnapshotTrailing == 0 {
		f.InstallSnapshotTrailing = defaults.InstallSnapshotTrailing
	}
	if f.SnapshotThreshold == 0 {
		f.SnapshotThreshold = defaults.SnapshotThreshold
	}
	if f.MaxInFlightAppends == 0 {
		f.MaxInFlightAppends = defaults.MaxInFlightAppends
	}
	if f.MaxEntriesPerAppend == 0 {
		f.MaxEntriesPerAppend = defaults.MaxEntriesPerAppend
	}
	if f.TickInterval == 0 {
		f.TickInterval = Duration(defaults.TickInterval)
	}
	if f.MaxPromotionRounds == 0 {
		f.MaxPromotionRounds = defaults.MaxPromotionRounds
	}
}

// RaftConfig builds the raft.Config the loaded tunables describe.
func (f *File) RaftConfig() raft.Config {
	return raft.Config{
		ElectionTimeout:         f.ElectionTimeout.Get(),
		HeartbeatInterval:       f.HeartbeatInterval.Get(),
		InstallSnapshotTrailing: f.InstallSnapshotTrailing,
		SnapshotThreshold:       f.SnapshotThreshold,
		MaxInFlightAppends:      f.MaxInFlightAppends,
		MaxEntriesPerAppend:     f.MaxEntriesPerAppend,
		TickInterval:            f.TickInterval.Get(),
		MaxPromotionRounds:      f.MaxPromotionRounds,
	}
}

// TransportPeers returns the peer address map rpctransport.Options wants:
// every configured peer except this node itself.
func (f *File) TransportPeers() map[raft.ServerID]string {
	peers := make(map[raft.ServerID]string, len(f.Peers))
	for _, p := range f.Peers {
		if p.ID != f.NodeID {
			peers[p.ID] = p.Address
		}
	}
	return peers
}

// BootstrapServers returns the full voter set (this node plus every
// configured peer) for a first-node Bootstrap call.
func (f *File) BootstrapServers() []raft.Server {
	servers := make([]raft.Server, 0, len(f.Peers)+1)
	servers = append(servers, raft.Server{ID: f.NodeID, Address: f.BindAddr, Role: raft.RoleVoter})
	for _, p := range f.Peers {
		servers = append(servers, raft.Server{ID: p.ID, Address: p.Address, Role: raft.RoleVoter})
	}
	return servers
}
