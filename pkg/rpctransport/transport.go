package rpctransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironquorum/raft"
	"github.com/ironquorum/raft/pkg/log"
	"github.com/ironquorum/raft/pkg/metrics"
)

const (
	sendQueueDepth  = 256
	dialTimeout     = 2 * time.Second
	minRedialDelay  = 50 * time.Millisecond
	maxRedialDelay  = 5 * time.Second
	connWriteWindow = 5 * time.Second
)

// Options configures a Transport.
type Options struct {
	// LocalID is the ServerID this transport answers to.
	LocalID raft.ServerID
	// ListenAddress is the local address to accept inbound peer
	// connections on, e.g. ":9001".
	ListenAddress string
	// Peers maps every known peer to its dial address. AddPeer can add
	// entries discovered later (e.g. after a membership change).
	Peers map[raft.ServerID]string
	// Codec encodes/decodes the payload inside each frame. Defaults to
	// GobCodec{}.
	Codec raft.Codec
}

// Transport is the reference raft.Transport: one dial-only connection per
// peer carries outbound messages, and one accept loop reads whatever
// inbound connections peers open toward this node. Connections that drop
// are redialed with exponential backoff. Send's context bounds only the
// wait to enter a full per-peer queue; sends already queued against a dead
// connection wait for the redial, and fail their onComplete only when the
// Transport is closed.
type Transport struct {
	localID raft.ServerID
	codec   raft.Codec
	logger  zerolog.Logger

	listener net.Listener

	mu       sync.Mutex
	peers    map[raft.ServerID]string
	conns    map[raft.ServerID]*outboundConn
	inbound  map[net.Conn]struct{}
	callback func(raft.Message)
	closed   bool

	wg sync.WaitGroup
}

// New starts listening on opts.ListenAddress and returns a ready Transport.
func New(opts Options) (*Transport, error) {
	codec := opts.Codec
	if codec == nil {
		codec = GobCodec{}
	}
	ln, err := net.Listen("tcp", opts.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("rpctransport: listen on %s: %w", opts.ListenAddress, err)
	}

	peers := make(map[raft.ServerID]string, len(opts.Peers))
	for id, addr := range opts.Peers {
		peers[id] = addr
	}

	t := &Transport{
		localID:  opts.LocalID,
		codec:    codec,
		logger:   log.WithComponent("rpctransport").With().Uint64("local_id", uint64(opts.LocalID)).Logger(),
		listener: ln,
		peers:    peers,
		conns:    make(map[raft.ServerID]*outboundConn),
		inbound:  make(map[net.Conn]struct{}),
	}

	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

// AddPeer registers (or updates) the dial address for a peer, used when
// membership changes introduce a server this transport hasn't seen yet.
func (t *Transport) AddPeer(id raft.ServerID, address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[id] = address
}

// LocalID implements raft.Transport.
func (t *Transport) LocalID() raft.ServerID { return t.localID }

// RecvStream implements raft.Transport.
func (t *Transport) RecvStream(callback func(raft.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = callback
}

// Send implements raft.Transport. It never blocks the caller beyond
// enqueueing onto the peer's outbound queue.
func (t *Transport) Send(ctx context.Context, peer raft.ServerID, msg raft.Message, onComplete func(error)) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		onComplete(&raft.Error{Kind: raft.KindShutdown})
		return
	}
	conn, ok := t.conns[peer]
	if !ok {
		addr, known := t.peers[peer]
		if !known {
			t.mu.Unlock()
			onComplete(fmt.Errorf("rpctransport: no address known for peer %d", peer))
			return
		}
		conn = newOutboundConn(t, peer, addr)
		t.conns[peer] = conn
	}
	t.mu.Unlock()

	conn.enqueue(ctx, msg, onComplete)
}

// Close implements raft.Transport. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*outboundConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	inbound := make([]net.Conn, 0, len(t.inbound))
	for c := range t.inbound {
		inbound = append(inbound, c)
	}
	t.mu.Unlock()

	err := t.listener.Close()
	for _, c := range conns {
		c.close()
	}
	for _, c := range inbound {
		c.Close()
	}
	t.wg.Wait()
	return err
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.isClosed() {
				return
			}
			t.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		t.wg.Add(1)
		go t.serveInbound(conn)
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) serveInbound(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	t.mu.Lock()
	t.inbound[conn] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.inbound, conn)
		t.mu.Unlock()
	}()

	for {
		_, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		msg, err := t.codec.Decode(payload)
		if err != nil {
			t.logger.Warn().Err(err).Msg("discarding malformed inbound frame")
			continue
		}
		metrics.TransportMessagesReceivedTotal.WithLabelValues(serverLabel(msg.From), msg.Type.String()).Inc()

		t.mu.Lock()
		cb := t.callback
		t.mu.Unlock()
		if cb != nil {
			cb(msg)
		}
	}
}
