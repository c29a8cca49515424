package controlapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// serviceName is the fully-qualified gRPC service name, matching what a
// controlapi.proto file would declare under package raft.controlapi.
const serviceName = "raft.controlapi.ControlAPI"

// Server is the interface a generated client stub would target; the
// concrete implementation lives in server.go.
type Server interface {
	SubmitCommand(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	AddServer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PromoteServer(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	RemoveServer(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	TransferLeadership(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	WatchEvents(*emptypb.Empty, WatchEventsServer) error
}

// WatchEventsServer is the server-side stream handle for WatchEvents.
type WatchEventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchEventsServer struct {
	grpc.ServerStream
}

func (x *watchEventsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterServer attaches srv to s under the ControlAPI service name.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

func submitCommandHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).SubmitCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/SubmitCommand"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).SubmitCommand(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func addServerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).AddServer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/AddServer"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).AddServer(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func promoteServerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).PromoteServer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/PromoteServer"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).PromoteServer(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func removeServerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).RemoveServer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/RemoveServer"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).RemoveServer(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func transferLeadershipHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).TransferLeadership(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/TransferLeadership"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).TransferLeadership(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func watchEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(Server).WatchEvents(in, &watchEventsServer{ServerStream: stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitCommand", Handler: submitCommandHandler},
		{MethodName: "AddServer", Handler: addServerHandler},
		{MethodName: "PromoteServer", Handler: promoteServerHandler},
		{MethodName: "RemoveServer", Handler: removeServerHandler},
		{MethodName: "TransferLeadership", Handler: transferLeadershipHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchEvents", Handler: watchEventsHandler, ServerStreams: true},
	},
	Metadata: "controlapi.proto",
}
