// Package rpctransport is the reference Transport: each peer connection is
// a long-lived net.Conn carrying length-prefixed, gob-encoded Messages in
// both directions. A single outbound connection per peer is dialed lazily
// and redialed with backoff on failure; inbound connections are accepted
// on one listener and each handed its own read loop.
//
// The wire framing is [1-byte version][1-byte message type][4-byte
// big-endian length][payload], where payload is produced by GobCodec. It
// exists separately from the codec so a future implementation could swap
// in a different encoding without touching the framing or
// connection-management code.
package rpctransport
