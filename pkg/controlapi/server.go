package controlapi

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ironquorum/raft"
	"github.com/ironquorum/raft/pkg/log"
	"github.com/ironquorum/raft/pkg/metrics"
)

// node is the subset of *raft.Node the server needs, narrowed so tests can
// supply a stand-in without constructing a full reactor.
type node interface {
	SubmitCommand(payload []byte, done raft.Completion)
	AddServer(id raft.ServerID, address string, done raft.Completion)
	PromoteServer(id raft.ServerID, done raft.Completion)
	RemoveServer(id raft.ServerID, done raft.Completion)
	TransferLeadership(target raft.ServerID, done raft.Completion)
	RegisterObserver(fn raft.Observer) error
}

// server implements the Server interface over a raft.Node.
type server struct {
	n    node
	grpc *grpc.Server
}

// NewServer wraps n as a ControlAPI gRPC server. opts configures the
// underlying grpc.Server, e.g. grpc.Creds for mTLS; an embedder that needs
// that should pass it here rather than this package reaching into a
// certificate store itself.
func NewServer(n *raft.Node, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	RegisterServer(s, &server{n: n, grpc: s})
	return s
}

// Serve listens on addr and blocks serving s until it is stopped or the
// listener fails.
func Serve(s *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("controlapi: listen: %w", err)
	}
	log.WithComponent("controlapi").Info().Str("addr", addr).Msg("control API listening")
	return s.Serve(lis)
}

// completionResult carries the three values a raft.Completion delivers.
type completionResult struct {
	index  raft.Index
	result interface{}
	err    error
}

// await bridges an asynchronous raft.Completion into a synchronous result,
// honoring ctx cancellation without leaking the completion callback — it
// still fires into the buffered channel even if the caller has moved on.
func await(ctx context.Context, submit func(raft.Completion)) (raft.Index, interface{}, error) {
	ch := make(chan completionResult, 1)
	submit(func(index raft.Index, result interface{}, err error) {
		ch <- completionResult{index: index, result: result, err: err}
	})
	select {
	case r := <-ch:
		return r.index, r.result, r.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// grpcError translates the library's error taxonomy into a grpc status
// error, attaching the leader hint where one is known.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	var kind raft.ErrorKind
	var hint raft.ServerID
	var hasHint bool
	if rerr, ok := err.(*raft.Error); ok {
		kind = rerr.Kind
		hint = rerr.LeaderHint
		hasHint = rerr.HasLeaderHint
	}
	switch kind {
	case raft.KindNotLeader:
		if hasHint {
			return status.Errorf(codes.FailedPrecondition, "not leader, current leader is %d: %v", hint, err)
		}
		return status.Errorf(codes.FailedPrecondition, "not leader: %v", err)
	case raft.KindNoLeader:
		return status.Errorf(codes.Unavailable, "no leader known: %v", err)
	case raft.KindShutdown:
		return status.Errorf(codes.Unavailable, "shutting down: %v", err)
	case raft.KindBusy:
		return status.Errorf(codes.ResourceExhausted, "membership change in progress: %v", err)
	case raft.KindCancelled:
		return status.Errorf(codes.Canceled, "%v", err)
	default:
		if err == context.Canceled || err == context.DeadlineExceeded {
			return status.Errorf(codes.Canceled, "%v", err)
		}
		return status.Errorf(codes.Internal, "%v", err)
	}
}

// observe wraps a unary RPC body with the request-count and latency
// metrics shared across every method.
func observe(method string, body func() error) error {
	start := time.Now()
	err := body()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ControlAPIRequestsTotal.WithLabelValues(method, outcome).Inc()
	metrics.ControlAPIRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	return err
}

func indexStruct(index raft.Index, extra map[string]interface{}) *structpb.Struct {
	fields := map[string]interface{}{"index": float64(index)}
	for k, v := range extra {
		fields[k] = v
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		// Every value above is a float64 or string, both always valid.
		panic(fmt.Sprintf("controlapi: building response struct: %v", err))
	}
	return s
}

func (s *server) SubmitCommand(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	var resp *structpb.Struct
	err := observe("SubmitCommand", func() error {
		index, result, err := await(ctx, func(done raft.Completion) {
			s.n.SubmitCommand(req.GetValue(), done)
		})
		if err != nil {
			return grpcError(err)
		}
		extra := map[string]interface{}{}
		if result != nil {
			extra["result"] = fmt.Sprintf("%v", result)
		}
		resp = indexStruct(index, extra)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *server) AddServer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var resp *structpb.Struct
	err := observe("AddServer", func() error {
		id := raft.ServerID(req.GetFields()["id"].GetNumberValue())
		address := req.GetFields()["address"].GetStringValue()
		if id == 0 || address == "" {
			return status.Errorf(codes.InvalidArgument, "id and address are required")
		}
		index, _, err := await(ctx, func(done raft.Completion) {
			s.n.AddServer(id, address, done)
		})
		if err != nil {
			return grpcError(err)
		}
		resp = indexStruct(index, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *server) PromoteServer(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	var resp *structpb.Struct
	err := observe("PromoteServer", func() error {
		index, _, err := await(ctx, func(done raft.Completion) {
			s.n.PromoteServer(raft.ServerID(req.GetValue()), done)
		})
		if err != nil {
			return grpcError(err)
		}
		resp = indexStruct(index, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *server) RemoveServer(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	var resp *structpb.Struct
	err := observe("RemoveServer", func() error {
		index, _, err := await(ctx, func(done raft.Completion) {
			s.n.RemoveServer(raft.ServerID(req.GetValue()), done)
		})
		if err != nil {
			return grpcError(err)
		}
		resp = indexStruct(index, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *server) TransferLeadership(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	var resp *structpb.Struct
	err := observe("TransferLeadership", func() error {
		index, _, err := await(ctx, func(done raft.Completion) {
			s.n.TransferLeadership(raft.ServerID(req.GetValue()), done)
		})
		if err != nil {
			return grpcError(err)
		}
		resp = indexStruct(index, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// WatchEvents streams leader and term transitions for as long as the
// client keeps the stream open. The observer callback runs on the
// reactor goroutine, so it only ever hands the event off to a small
// buffered channel; a slow client drops events rather than stalling the
// reactor.
func (s *server) WatchEvents(_ *emptypb.Empty, stream WatchEventsServer) error {
	return observe("WatchEvents", func() error {
		events := make(chan raft.Event, 16)
		err := s.n.RegisterObserver(func(ev raft.Event) {
			select {
			case events <- ev:
			default:
				log.WithComponent("controlapi").Warn().Msg("watch client too slow, dropping event")
			}
		})
		if err != nil {
			return grpcError(err)
		}

		ctx := stream.Context()
		for {
			select {
			case ev := <-events:
				if err := stream.Send(eventStruct(ev)); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func eventStruct(ev raft.Event) *structpb.Struct {
	fields := map[string]interface{}{
		"kind":        ev.Kind.String(),
		"term":        float64(ev.Term),
		"has_leader":  ev.HasLeader,
		"observed_at": timestamppb.Now().AsTime().Format(time.RFC3339Nano),
	}
	if ev.HasLeader {
		fields["leader_id"] = float64(ev.LeaderID)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		panic(fmt.Sprintf("controlapi: building event struct: %v", err))
	}
	return s
}
