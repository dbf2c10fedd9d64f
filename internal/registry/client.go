package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transport abstracts the socket under a Client so the registry and router
// never touch websocket types directly. Production uses the fiber websocket
// adapter in internal/ws; tests use fakes.
type Transport interface {
	// Write sends one serialized event frame.
	Write(data []byte) error
	// Ping sends a transport-level liveness probe.
	Ping() error
	Close() error
}

// Client is one live connection owned by exactly one user. Outbound events
// are decoupled through a buffered send queue drained by WritePump, so a
// slow or broken peer never stalls fan-out to anyone else.
type Client struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastPong  atomic.Int64
}

func NewClient(userID string, t Transport, sendBuffer int) *Client {
	c := &Client{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		transport:   t,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
	c.MarkPong()
	return c
}

// Enqueue queues one frame for delivery. It never blocks: a full queue means
// the peer is not draining, and dropping is preferable to stalling the
// caller. Returns false when the frame was not queued.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close shuts the client down. Safe to call from multiple goroutines and
// multiple times; the underlying transport closes exactly once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.transport.Close()
	})
}

// Done is closed when the client has been shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// MarkPong records transport liveness; read deadlines key off this.
func (c *Client) MarkPong() { c.lastPong.Store(time.Now().UnixNano()) }

func (c *Client) LastPong() time.Time { return time.Unix(0, c.lastPong.Load()) }

// WritePump drains the send queue onto the transport and issues pings on a
// fixed cadence. It returns when the transport fails or the client closes;
// either way the client is closed on exit, which the session read loop
// observes as a normal disconnect.
func (c *Client) WritePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.transport.Write(data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.transport.Ping(); err != nil {
				return
			}
		}
	}
}
