package raft

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByKindOnly(t *testing.T) {
	hinted := notLeaderError(7, true)
	assert.True(t, errors.Is(hinted, ErrNotLeader))
	assert.False(t, errors.Is(hinted, ErrBusy))
}

func TestError_WrappingPreservesKind(t *testing.T) {
	wrapped := fmt.Errorf("submitting command: %w", ErrShutdown)
	assert.True(t, errors.Is(wrapped, ErrShutdown))
	assert.False(t, errors.Is(wrapped, ErrNoLeader))
}

func TestIsKind(t *testing.T) {
	err := ioError(errors.New("disk full"))
	assert.True(t, IsKind(err, KindIOError))
	assert.False(t, IsKind(err, KindCorrupt))
	assert.False(t, IsKind(errors.New("plain"), KindIOError))
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("checksum mismatch")
	err := corruptError(cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestError_MessageIncludesLeaderHintWhenKnown(t *testing.T) {
	withHint := notLeaderError(3, true)
	assert.Contains(t, withHint.Error(), "3")

	withoutHint := notLeaderError(0, false)
	assert.NotContains(t, withoutHint.Error(), "leader is")
}

func TestError_MessageIncludesCauseWhenSet(t *testing.T) {
	err := ioError(errors.New("write failed"))
	assert.Contains(t, err.Error(), "write failed")
}

func TestIsKind_FalseForNonErrorType(t *testing.T) {
	assert.False(t, IsKind(nil, KindBusy))
}
