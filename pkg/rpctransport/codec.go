package rpctransport

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/ironquorum/raft"
)

// wireVersion is bumped whenever the gob schema below changes in a way
// that isn't wire-compatible.
const wireVersion = 1

// GobCodec implements raft.Codec over encoding/gob. It is registered as
// the default codec for Transport but is usable standalone, e.g. to
// encode a Message for a test fixture.
type GobCodec struct{}

// wireMessage mirrors raft.Message with exported fields already in place
// for gob; it exists so the wire schema isn't implicitly whatever
// raft.Message happens to look like today.
type wireMessage struct {
	Type raft.MessageType
	From raft.ServerID
	To   raft.ServerID

	RequestVote           *raft.RequestVote
	RequestVoteResult     *raft.RequestVoteResult
	AppendEntries         *raft.AppendEntries
	AppendEntriesResult   *raft.AppendEntriesResult
	InstallSnapshot       *raft.InstallSnapshot
	InstallSnapshotResult *raft.InstallSnapshotResult
	TimeoutNow            *raft.TimeoutNow
}

// Encode serializes msg into a gob-encoded payload (the framing layer adds
// the version byte and length prefix around this).
func (GobCodec) Encode(msg raft.Message) ([]byte, error) {
	wm := wireMessage{
		Type:                  msg.Type,
		From:                  msg.From,
		To:                    msg.To,
		RequestVote:           msg.RequestVote,
		RequestVoteResult:     msg.RequestVoteResult,
		AppendEntries:         msg.AppendEntries,
		AppendEntriesResult:   msg.AppendEntriesResult,
		InstallSnapshot:       msg.InstallSnapshot,
		InstallSnapshotResult: msg.InstallSnapshotResult,
		TimeoutNow:            msg.TimeoutNow,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&wm); err != nil {
		return nil, fmt.Errorf("rpctransport: encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func (GobCodec) Decode(data []byte) (raft.Message, error) {
	var wm wireMessage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wm); err != nil {
		return raft.Message{}, fmt.Errorf("rpctransport: decode message: %w", err)
	}
	return raft.Message{
		Type:                  wm.Type,
		From:                  wm.From,
		To:                    wm.To,
		RequestVote:           wm.RequestVote,
		RequestVoteResult:     wm.RequestVoteResult,
		AppendEntries:         wm.AppendEntries,
		AppendEntriesResult:   wm.AppendEntriesResult,
		InstallSnapshot:       wm.InstallSnapshot,
		InstallSnapshotResult: wm.InstallSnapshotResult,
		TimeoutNow:            wm.TimeoutNow,
	}, nil
}
