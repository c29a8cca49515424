package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeVoterConfig() Configuration {
	return Configuration{Servers: []Server{
		{ID: 1, Address: "127.0.0.1:9001", Role: RoleVoter},
		{ID: 2, Address: "127.0.0.1:9002", Role: RoleVoter},
		{ID: 3, Address: "127.0.0.1:9003", Role: RoleVoter},
	}}
}

func TestConfiguration_QuorumSize(t *testing.T) {
	cases := []struct {
		name    string
		servers []Server
		want    int
	}{
		{"single voter", []Server{{ID: 1, Role: RoleVoter}}, 1},
		{"three voters", threeVoterConfig().Servers, 2},
		{"four voters", []Server{{ID: 1, Role: RoleVoter}, {ID: 2, Role: RoleVoter}, {ID: 3, Role: RoleVoter}, {ID: 4, Role: RoleVoter}}, 3},
		{"voters plus non-voters", []Server{
			{ID: 1, Role: RoleVoter}, {ID: 2, Role: RoleVoter}, {ID: 3, Role: RoleVoter},
			{ID: 4, Role: RoleNonVoter}, {ID: 5, Role: RoleSpare},
		}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Configuration{Servers: tc.servers}
			assert.Equal(t, tc.want, cfg.QuorumSize())
		})
	}
}

func TestConfiguration_HasQuorum(t *testing.T) {
	cfg := threeVoterConfig()
	assert.False(t, cfg.HasQuorum(1))
	assert.True(t, cfg.HasQuorum(2))
	assert.True(t, cfg.HasQuorum(3))
}

func TestConfiguration_GetAndVoters(t *testing.T) {
	cfg := threeVoterConfig()
	s, ok := cfg.Get(2)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9002", s.Address)

	_, ok = cfg.Get(99)
	assert.False(t, ok)

	assert.ElementsMatch(t, []ServerID{1, 2, 3}, cfg.Voters())
}

func TestConfiguration_WithServerInsertsOrReplaces(t *testing.T) {
	cfg := threeVoterConfig()

	withNew := cfg.withServer(Server{ID: 4, Address: "127.0.0.1:9004", Role: RoleNonVoter})
	assert.Len(t, withNew.Servers, 4)
	assert.Len(t, cfg.Servers, 3, "original configuration must not be mutated")

	replaced := cfg.withServer(Server{ID: 2, Address: "127.0.0.1:9099", Role: RoleVoter})
	s, ok := replaced.Get(2)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9099", s.Address)
	assert.Len(t, replaced.Servers, 3)
}

func TestConfiguration_WithoutServerRemoves(t *testing.T) {
	cfg := threeVoterConfig()
	next := cfg.withoutServer(2)
	assert.Len(t, next.Servers, 2)
	_, ok := next.Get(2)
	assert.False(t, ok)
	assert.Len(t, cfg.Servers, 3, "original configuration must not be mutated")
}

func TestConfiguration_CloneIsIndependent(t *testing.T) {
	cfg := threeVoterConfig()
	clone := cfg.Clone()
	clone.Servers[0].Address = "changed"
	assert.NotEqual(t, cfg.Servers[0].Address, clone.Servers[0].Address)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfig_ValidateRejectsBadFields(t *testing.T) {
	base := DefaultConfig()

	cases := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero election timeout", func(c *Config) { c.ElectionTimeout = 0 }},
		{"zero heartbeat interval", func(c *Config) { c.HeartbeatInterval = 0 }},
		{"heartbeat not smaller than election timeout", func(c *Config) {
			c.HeartbeatInterval = c.ElectionTimeout
		}},
		{"zero tick interval", func(c *Config) { c.TickInterval = 0 }},
		{"zero max in-flight appends", func(c *Config) { c.MaxInFlightAppends = 0 }},
		{"zero max entries per append", func(c *Config) { c.MaxEntriesPerAppend = 0 }},
		{"zero max promotion rounds", func(c *Config) { c.MaxPromotionRounds = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestServerRole_String(t *testing.T) {
	assert.Equal(t, "voter", RoleVoter.String())
	assert.Equal(t, "non-voter", RoleNonVoter.String())
	assert.Equal(t, "spare", RoleSpare.String())
	assert.Equal(t, "unknown", ServerRole(255).String())
}

func TestConfig_HeartbeatStrictlySmallerThanElection(t *testing.T) {
	cfg := DefaultConfig()
	assert.Less(t, cfg.HeartbeatInterval, cfg.ElectionTimeout)
}
