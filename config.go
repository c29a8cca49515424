package raft

import (
	"fmt"
	"time"
)

// ServerRole is the membership role of a server within a Configuration.
type ServerRole uint8

const (
	// RoleVoter contributes to quorum and receives votes.
	RoleVoter ServerRole = iota
	// RoleNonVoter receives replication but does not vote.
	RoleNonVoter
	// RoleSpare is a known address not yet participating in replication;
	// a target for a future add-server operation.
	RoleSpare
)

func (r ServerRole) String() string {
	switch r {
	case RoleVoter:
		return "voter"
	case RoleNonVoter:
		return "non-voter"
	case RoleSpare:
		return "spare"
	default:
		return "unknown"
	}
}

// ServerID uniquely identifies a server within a Configuration. Zero is
// never a valid ID.
type ServerID uint64

// Server is one member of a Configuration.
type Server struct {
	ID      ServerID
	Address string
	Role    ServerRole
}

// Configuration is the ordered set of servers participating in the cluster
// at a point in the log.
type Configuration struct {
	Servers []Server
}

// Clone returns a deep copy safe to mutate independently of the receiver.
func (c Configuration) Clone() Configuration {
	servers := make([]Server, len(c.Servers))
	copy(servers, c.Servers)
	return Configuration{Servers: servers}
}

// Get returns the server with the given ID, if present.
func (c Configuration) Get(id ServerID) (Server, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

// Voters returns the IDs of all voting servers.
func (c Configuration) Voters() []ServerID {
	var out []ServerID
	for _, s := range c.Servers {
		if s.Role == RoleVoter {
			out = append(out, s.ID)
		}
	}
	return out
}

// QuorumSize returns the number of voters required for a majority.
func (c Configuration) QuorumSize() int {
	voters := len(c.Voters())
	return voters/2 + 1
}

// HasQuorum reports whether matchCount voters (including, if applicable,
// the leader itself) constitutes a majority of the current voter set.
func (c Configuration) HasQuorum(matchCount int) bool {
	return matchCount >= c.QuorumSize()
}

// withServer returns a copy of c with server s inserted or replacing an
// existing entry of the same ID.
func (c Configuration) withServer(s Server) Configuration {
	next := c.Clone()
	for i, existing := range next.Servers {
		if existing.ID == s.ID {
			next.Servers[i] = s
			return next
		}
	}
	next.Servers = append(next.Servers, s)
	return next
}

// withoutServer returns a copy of c with the server of the given ID removed.
func (c Configuration) withoutServer(id ServerID) Configuration {
	next := Configuration{Servers: make([]Server, 0, len(c.Servers))}
	for _, s := range c.Servers {
		if s.ID != id {
			next.Servers = append(next.Servers, s)
		}
	}
	return next
}

// Config holds the timer and tunable parameters for a Node, loaded by
// pkg/raftconfig from YAML in a deployed binary, or set directly by tests.
type Config struct {
	// ElectionTimeout is the base follower/candidate timeout; the node
	// actually waits a jittered value uniform in [T, 2T).
	ElectionTimeout time.Duration
	// HeartbeatInterval is how often a leader sends AppendEntries to idle
	// peers.
	HeartbeatInterval time.Duration
	// InstallSnapshotTrailing is the number of log entries kept behind a
	// new snapshot's last included index when the log prefix is discarded.
	// Replication does not use them for a peer whose next index is at or
	// below that index: such a peer is sent the snapshot.
	InstallSnapshotTrailing uint64
	// SnapshotThreshold is the number of entries since the last snapshot
	// that triggers a new one.
	SnapshotThreshold uint64
	// MaxInFlightAppends bounds the pipelined, unacknowledged AppendEntries
	// batches per peer.
	MaxInFlightAppends int
	// MaxEntriesPerAppend bounds how many entries travel in one
	// AppendEntries batch.
	MaxEntriesPerAppend int
	// TickInterval is the coarse reactor tick used to check timers.
	TickInterval time.Duration
	// MaxPromotionRounds bounds the number of catch-up rounds the leader
	// runs before failing an add/promote operation with ErrBusy.
	MaxPromotionRounds int
}

// DefaultConfig returns the documented default timer parameters.
func DefaultConfig() Config {
	return Config{
		ElectionTimeout:         1000 * time.Millisecond,
		HeartbeatInterval:       100 * time.Millisecond,
		InstallSnapshotTrailing: 8192,
		SnapshotThreshold:       1024,
		MaxInFlightAppends:      8,
		MaxEntriesPerAppend:     64,
		TickInterval:            15 * time.Millisecond,
		MaxPromotionRounds:      10,
	}
}

// Validate returns an error describing the first invalid field found, or
// nil if cfg is usable.
func (cfg Config) Validate() error {
	if cfg.ElectionTimeout <= 0 {
		return fmt.Errorf("raft: election timeout must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("raft: heartbeat interval must be positive")
	}
	if cfg.HeartbeatInterval >= cfg.ElectionTimeout {
		return fmt.Errorf("raft: heartbeat interval must be smaller than election timeout")
	}
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("raft: tick interval must be positive")
	}
	if cfg.MaxInFlightAppends <= 0 {
		return fmt.Errorf("raft: max in-flight appends must be positive")
	}
	if cfg.MaxEntriesPerAppend <= 0 {
		return fmt.Errorf("raft: max entries per append must be positive")
	}
	if cfg.MaxPromotionRounds <= 0 {
		return fmt.Errorf("raft: max promotion rounds must be positive")
	}
	return nil
}
