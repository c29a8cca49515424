package controlapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ironquorum/raft"
)

// fakeNode is a hand-rolled stand-in for *raft.Node, letting these tests
// drive the gRPC-facing conversions without a running reactor.
type fakeNode struct {
	submitIndex  raft.Index
	submitResult interface{}
	err          error

	registered chan raft.Observer
}

func (f *fakeNode) SubmitCommand(payload []byte, done raft.Completion) {
	done(f.submitIndex, f.submitResult, f.err)
}

func (f *fakeNode) AddServer(id raft.ServerID, address string, done raft.Completion) {
	done(f.submitIndex, nil, f.err)
}

func (f *fakeNode) PromoteServer(id raft.ServerID, done raft.Completion) {
	done(f.submitIndex, nil, f.err)
}

func (f *fakeNode) RemoveServer(id raft.ServerID, done raft.Completion) {
	done(f.submitIndex, nil, f.err)
}

func (f *fakeNode) TransferLeadership(target raft.ServerID, done raft.Completion) {
	done(f.submitIndex, nil, f.err)
}

func (f *fakeNode) RegisterObserver(fn raft.Observer) error {
	if f.registered != nil {
		f.registered <- fn
	}
	return nil
}

func TestServer_SubmitCommandSuccess(t *testing.T) {
	s := &server{n: &fakeNode{submitIndex: 42, submitResult: "ok"}}

	resp, err := s.SubmitCommand(context.Background(), wrapperspb.Bytes([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, float64(42), resp.GetFields()["index"].GetNumberValue())
	assert.Equal(t, "ok", resp.GetFields()["result"].GetStringValue())
}

func TestServer_SubmitCommandNotLeaderTranslatesToFailedPrecondition(t *testing.T) {
	s := &server{n: &fakeNode{err: raft.ErrNotLeader}}

	_, err := s.SubmitCommand(context.Background(), wrapperspb.Bytes(nil))
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestServer_AddServerRequiresIDAndAddress(t *testing.T) {
	s := &server{n: &fakeNode{}}

	req, err := structpb.NewStruct(map[string]interface{}{"id": float64(0), "address": ""})
	require.NoError(t, err)

	_, err = s.AddServer(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_AddServerSuccess(t *testing.T) {
	s := &server{n: &fakeNode{submitIndex: 7}}

	req, err := structpb.NewStruct(map[string]interface{}{"id": float64(2), "address": "127.0.0.1:9000"})
	require.NoError(t, err)

	resp, err := s.AddServer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, float64(7), resp.GetFields()["index"].GetNumberValue())
}

func TestServer_PromoteRemoveTransferDelegateToNode(t *testing.T) {
	s := &server{n: &fakeNode{submitIndex: 9}}

	resp, err := s.PromoteServer(context.Background(), wrapperspb.UInt64(3))
	require.NoError(t, err)
	assert.Equal(t, float64(9), resp.GetFields()["index"].GetNumberValue())

	resp, err = s.RemoveServer(context.Background(), wrapperspb.UInt64(3))
	require.NoError(t, err)
	assert.Equal(t, float64(9), resp.GetFields()["index"].GetNumberValue())

	resp, err = s.TransferLeadership(context.Background(), wrapperspb.UInt64(3))
	require.NoError(t, err)
	assert.Equal(t, float64(9), resp.GetFields()["index"].GetNumberValue())
}

func TestServer_SubmitCommandRespectsContextCancellation(t *testing.T) {
	blocked := make(chan raft.Completion, 1)
	s := &server{n: blockingNode{blocked: blocked}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SubmitCommand(ctx, wrapperspb.Bytes(nil))
	require.Error(t, err)
	assert.Equal(t, codes.Canceled, status.Code(err))
}

// blockingNode never calls its completion, so SubmitCommand only returns
// once ctx is done.
type blockingNode struct {
	blocked chan raft.Completion
}

func (b blockingNode) SubmitCommand(payload []byte, done raft.Completion) { b.blocked <- done }
func (b blockingNode) AddServer(id raft.ServerID, address string, done raft.Completion) {}
func (b blockingNode) PromoteServer(id raft.ServerID, done raft.Completion)              {}
func (b blockingNode) RemoveServer(id raft.ServerID, done raft.Completion)               {}
func (b blockingNode) TransferLeadership(target raft.ServerID, done raft.Completion)     {}
func (b blockingNode) RegisterObserver(fn raft.Observer) error                           { return nil }

func TestServer_WatchEventsDeliversObserverEvents(t *testing.T) {
	fn := &fakeNode{registered: make(chan raft.Observer, 1)}
	s := &server{n: fn}

	stream := &fakeWatchStream{ctx: context.Background(), sent: make(chan *structpb.Struct, 4)}
	go s.WatchEvents(nil, stream)

	observer := <-fn.registered
	observer(raft.Event{Kind: raft.EventLeaderChange, Term: 5, LeaderID: 1, HasLeader: true})

	got := <-stream.sent
	assert.Equal(t, "leader_change", got.GetFields()["kind"].GetStringValue())
	assert.Equal(t, float64(5), got.GetFields()["term"].GetNumberValue())
	assert.Equal(t, float64(1), got.GetFields()["leader_id"].GetNumberValue())
}

// fakeWatchStream is a minimal WatchEventsServer for exercising
// Server.WatchEvents without a real gRPC connection.
type fakeWatchStream struct {
	ctx  context.Context
	sent chan *structpb.Struct
}

func (f *fakeWatchStream) Send(m *structpb.Struct) error {
	f.sent <- m
	return nil
}
func (f *fakeWatchStream) Context() context.Context         { return f.ctx }
func (f *fakeWatchStream) SendMsg(m interface{}) error       { return nil }
func (f *fakeWatchStream) RecvMsg(m interface{}) error       { return nil }
func (f *fakeWatchStream) SendHeader(metadata.MD) error      { return nil }
func (f *fakeWatchStream) SetHeader(metadata.MD) error       { return nil }
func (f *fakeWatchStream) SetTrailer(metadata.MD)            {}
