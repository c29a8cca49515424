package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRole_String(t *testing.T) {
	assert.Equal(t, "follower", Follower.String())
	assert.Equal(t, "candidate", Candidate.String())
	assert.Equal(t, "leader", Leader.String())
	assert.Equal(t, "unknown", Role(255).String())
}

func TestCandidateState_GrantAndCount(t *testing.T) {
	c := newCandidateState(true, time.Now())
	assert.Equal(t, 0, c.count())

	c.grant(1)
	c.grant(2)
	c.grant(1) // granting the same voter twice must not double-count
	assert.Equal(t, 2, c.count())
	assert.True(t, c.preVote)
}
