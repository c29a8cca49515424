package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationEncodeDecodeRoundTrips(t *testing.T) {
	cfg := Configuration{Servers: []Server{
		{ID: 1, Address: "127.0.0.1:9001", Role: RoleVoter},
		{ID: 2, Address: "127.0.0.1:9002", Role: RoleNonVoter},
	}}

	payload, err := encodeConfiguration(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, payload)

	decoded, err := decodeConfiguration(payload)
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)
}

func TestDecodeConfigurationRejectsGarbage(t *testing.T) {
	_, err := decodeConfiguration([]byte("not a gob stream"))
	assert.Error(t, err)
}

func TestDecodeConfigurationRejectsEmptyPayload(t *testing.T) {
	_, err := decodeConfiguration(nil)
	assert.Error(t, err)
}
