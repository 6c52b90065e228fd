package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

const (
	readBufferSize = 64 * 1024
	dialTimeout    = 10 * time.Second
	readDeadline   = time.Second

	backoffInitial = 500 * time.Millisecond
	backoffMax     = 5 * time.Second
)

// ClientStats captures connection-level metrics for the TCP source.
type ClientStats struct {
	ConnectionAttempts    uint64 `json:"connectionAttempts"`
	SuccessfulConnections uint64 `json:"successfulConnections"`
	Disconnections        uint64 `json:"disconnections"`
	RecvErrors            uint64 `json:"recvErrors"`
	BytesReceived         uint64 `json:"bytesReceived"`
	ReadCount             uint64 `json:"readCount"`
}

// Client connects to the SPIDR module's raw data port and pushes every
// received buffer into the ingest queue. On peer close it reconnects
// with a short backoff unless configured to exit on disconnect.
type Client struct {
	log              *slog.Logger
	addr             string
	queue            *Queue
	exitOnDisconnect bool

	attempts    atomic.Uint64
	connects    atomic.Uint64
	disconnects atomic.Uint64
	recvErrors  atomic.Uint64
	bytes       atomic.Uint64
	reads       atomic.Uint64
}

// NewClient creates a Client reading from addr into q. If log is nil,
// slog.Default() is used.
func NewClient(addr string, q *Queue, exitOnDisconnect bool, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		log:              log.With("component", "tcp-client", "addr", addr),
		addr:             addr,
		queue:            q,
		exitOnDisconnect: exitOnDisconnect,
	}
}

// Run dials and reads until the context is cancelled or, with
// exit-on-disconnect set, until the peer closes. It never returns a
// transient network error; those are counted and retried.
func (c *Client) Run(ctx context.Context) error {
	backoff := backoffInitial
	for {
		if ctx.Err() != nil {
			return nil
		}

		c.attempts.Add(1)
		dialer := net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("connect failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}

		c.connects.Add(1)
		backoff = backoffInitial
		c.log.Info("connected")

		closed := c.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		if closed {
			c.disconnects.Add(1)
			if c.exitOnDisconnect {
				c.log.Info("peer closed, exiting")
				return nil
			}
			c.log.Info("peer closed, reconnecting", "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
		}
	}
}

// readLoop reads until error or cancellation. Read-deadline timeouts
// continue the loop. It reports true when the connection ended (peer
// close or any other read error) and false on context cancellation.
func (c *Client) readLoop(ctx context.Context, conn net.Conn) bool {
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return false
		}

		// Short read deadline so cancellation is noticed promptly.
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := conn.Read(buf)
		if n > 0 {
			c.bytes.Add(uint64(n))
			c.reads.Add(1)
			c.queue.Push(buf[:n])
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				return true
			}
			c.recvErrors.Add(1)
			c.log.Warn("read error", "error", err)
			return true
		}
	}
}

// Stats returns a snapshot of the connection counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		ConnectionAttempts:    c.attempts.Load(),
		SuccessfulConnections: c.connects.Load(),
		Disconnections:        c.disconnects.Load(),
		RecvErrors:            c.recvErrors.Load(),
		BytesReceived:         c.bytes.Load(),
		ReadCount:             c.reads.Load(),
	}
}
