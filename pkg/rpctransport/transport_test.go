package rpctransport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironquorum/raft"
)

func TestCodec_EncodeDecodeRoundtrip(t *testing.T) {
	codec := GobCodec{}
	msg := raft.Message{
		Type: raft.MsgAppendEntries,
		From: 1,
		To:   2,
		AppendEntries: &raft.AppendEntries{
			Term:         4,
			LeaderID:     1,
			PrevLogIndex: 10,
			PrevLogTerm:  3,
			LeaderCommit: 9,
			Entries: []raft.Entry{
				{Term: 4, Index: 11, Type: raft.EntryCommand, Payload: []byte("x")},
			},
		},
	}

	data, err := codec.Encode(msg)
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.Type, decoded.Type)
	assert.Equal(t, msg.From, decoded.From)
	assert.Equal(t, msg.To, decoded.To)
	require.NotNil(t, decoded.AppendEntries)
	assert.Equal(t, *msg.AppendEntries, *decoded.AppendEntries)
}

func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	return "127.0.0.1:0"
}

func TestTransport_SendDeliversToPeer(t *testing.T) {
	a, err := New(Options{LocalID: 1, ListenAddress: freeLoopbackAddr(t)})
	require.NoError(t, err)
	defer a.Close()

	b, err := New(Options{LocalID: 2, ListenAddress: freeLoopbackAddr(t)})
	require.NoError(t, err)
	defer b.Close()

	a.AddPeer(2, b.listener.Addr().String())

	var mu sync.Mutex
	var received *raft.Message
	recvCh := make(chan struct{})
	b.RecvStream(func(msg raft.Message) {
		mu.Lock()
		received = &msg
		mu.Unlock()
		close(recvCh)
	})

	done := make(chan error, 1)
	a.Send(context.Background(), 2, raft.Message{
		Type: raft.MsgRequestVote,
		From: 1,
		To:   2,
		RequestVote: &raft.RequestVote{
			Term:        3,
			CandidateID: 1,
		},
	}, func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send never completed")
	}

	select {
	case <-recvCh:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received message")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, received)
	assert.Equal(t, raft.MsgRequestVote, received.Type)
	require.NotNil(t, received.RequestVote)
	assert.Equal(t, raft.Term(3), received.RequestVote.Term)
}

func TestTransport_SendToUnknownPeerFails(t *testing.T) {
	a, err := New(Options{LocalID: 1, ListenAddress: freeLoopbackAddr(t)})
	require.NoError(t, err)
	defer a.Close()

	done := make(chan error, 1)
	a.Send(context.Background(), 99, raft.Message{Type: raft.MsgRequestVote}, func(err error) { done <- err })

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("send never completed")
	}
}

func TestTransport_CloseFailsQueuedSends(t *testing.T) {
	a, err := New(Options{LocalID: 1, ListenAddress: freeLoopbackAddr(t)})
	require.NoError(t, err)

	a.AddPeer(2, "127.0.0.1:1") // unreachable, forces the queue to sit idle

	done := make(chan error, 1)
	a.Send(context.Background(), 2, raft.Message{Type: raft.MsgRequestVote}, func(err error) { done <- err })

	require.NoError(t, a.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queued send was never failed on close")
	}
}
