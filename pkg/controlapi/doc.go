// Package controlapi is the administrative gRPC surface over a *raft.Node:
// SubmitCommand, AddServer, PromoteServer, RemoveServer,
// TransferLeadership, and a server-streaming WatchEvents. It is a
// cluster-operator plane, not the application's own RPC plane — an
// embedder exposes its own service for application commands and uses
// this package only for membership and observability.
//
// Request and response messages are built from the protobuf well-known
// types (wrapperspb, structpb, emptypb, timestamppb) rather than a
// generated message set, since this package has no protoc run available
// to it; the ServiceDesc and handler functions below are written by hand
// in the exact shape protoc-gen-go-grpc would emit for such a service, so
// that RegisterServer and a generated stub would be
// interchangeable with this file.
package controlapi
