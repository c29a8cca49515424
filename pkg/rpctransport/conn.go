package rpctransport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ironquorum/raft"
	"github.com/ironquorum/raft/pkg/metrics"
)

type sendJob struct {
	msg        raft.Message
	onComplete func(error)
}

// outboundConn owns the single dial-only connection this node maintains
// toward one peer. Sends are queued onto jobs and written by a single
// writer goroutine, so message ordering toward a given peer is preserved
// even across a redial.
type outboundConn struct {
	t       *Transport
	peer    raft.ServerID
	address string

	jobs chan sendJob
	quit chan struct{}
	once sync.Once
}

func newOutboundConn(t *Transport, peer raft.ServerID, address string) *outboundConn {
	c := &outboundConn{
		t:       t,
		peer:    peer,
		address: address,
		jobs:    make(chan sendJob, sendQueueDepth),
		quit:    make(chan struct{}),
	}
	t.wg.Add(1)
	go c.run()
	return c
}

func (c *outboundConn) enqueue(ctx context.Context, msg raft.Message, onComplete func(error)) {
	select {
	case c.jobs <- sendJob{msg: msg, onComplete: onComplete}:
	case <-c.quit:
		onComplete(raft.ErrShutdown)
	case <-ctx.Done():
		onComplete(ctx.Err())
	}
}

func (c *outboundConn) close() {
	c.once.Do(func() { close(c.quit) })
}

// run dials the peer, replaying queued jobs onto the live connection until
// a write fails, then backs off and redials. It exits once quit is closed.
func (c *outboundConn) run() {
	defer c.t.wg.Done()

	delay := minRedialDelay
	for {
		select {
		case <-c.quit:
			c.drainWithError(raft.ErrShutdown)
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", c.address, dialTimeout)
		if err != nil {
			metrics.TransportDialFailuresTotal.WithLabelValues(serverLabel(c.peer)).Inc()
			c.t.logger.Warn().Err(err).Str("peer_addr", c.address).Msg("dial failed, backing off")
			if !c.sleep(delay) {
				c.drainWithError(raft.ErrShutdown)
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = minRedialDelay

		if !c.serveUntilBroken(conn) {
			c.drainWithError(raft.ErrShutdown)
			return
		}
	}
}

// serveUntilBroken writes queued jobs to conn until a write fails or quit
// fires. Returns false if the caller should stop entirely (quit fired).
func (c *outboundConn) serveUntilBroken(conn net.Conn) bool {
	defer conn.Close()
	for {
		select {
		case <-c.quit:
			conn.Close()
			return false
		case job := <-c.jobs:
			err := c.writeOne(conn, job.msg)
			if job.onComplete != nil {
				job.onComplete(err)
			}
			if err != nil {
				return true
			}
			metrics.TransportMessagesSentTotal.WithLabelValues(serverLabel(c.peer), job.msg.Type.String()).Inc()
		}
	}
}

func (c *outboundConn) writeOne(conn net.Conn, msg raft.Message) error {
	payload, err := c.t.codec.Encode(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(connWriteWindow))
	return writeFrame(conn, msg.Type, payload)
}

// drainWithError fails every already-queued job once the connection is
// permanently shutting down, so callers waiting on onComplete never hang.
func (c *outboundConn) drainWithError(err error) {
	for {
		select {
		case job := <-c.jobs:
			if job.onComplete != nil {
				job.onComplete(err)
			}
		default:
			return
		}
	}
}

func (c *outboundConn) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.quit:
		return false
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxRedialDelay {
		return maxRedialDelay
	}
	return d
}

func serverLabel(id raft.ServerID) string {
	return strconv.FormatUint(uint64(id), 10)
}
