package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrClientClosed is returned by Offer once the client has been closed
var ErrClientClosed = errors.New("client closed")

// Transport delivers frames to one speaker. Send must honour ctx so a stuck
// peer cannot hold a writer forever.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Client is a registered speaker with its own bounded outbound queue
type Client struct {
	ID          uuid.UUID
	Label       string
	RemoteAddr  string
	ConnectedAt time.Time

	transport Transport
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// ClientInfo represents client information for monitoring and APIs
type ClientInfo struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Queued      int       `json:"queued"`
	Sent        uint64    `json:"sent"`
	Dropped     uint64    `json:"dropped"`
}

// NewClient creates a client whose queue holds at most queueSize frames
func NewClient(id uuid.UUID, label, remoteAddr string, transport Transport, queueSize int) *Client {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Client{
		ID:          id,
		Label:       label,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		transport:   transport,
		queue:       make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
}

// Offer queues a frame without blocking. When the queue is full the oldest
// queued frames are discarded to make room; the number discarded is returned.
func (c *Client) Offer(frame []byte) (int, error) {
	dropped := 0
	for {
		select {
		case <-c.done:
			return dropped, ErrClientClosed
		default:
		}

		select {
		case c.queue <- frame:
			return dropped, nil
		default:
		}

		select {
		case <-c.queue:
			dropped++
			c.dropped.Add(1)
		default:
		}
	}
}

// Queue returns the channel the client's writer drains
func (c *Client) Queue() <-chan []byte { return c.queue }

// Done is closed when the client is closed
func (c *Client) Done() <-chan struct{} { return c.done }

// Transport returns the client's outbound transport
func (c *Client) Transport() Transport { return c.transport }

// MarkSent counts a frame delivered by the writer
func (c *Client) MarkSent() { c.sent.Add(1) }

// MarkDropped counts a frame abandoned by the writer
func (c *Client) MarkDropped() { c.dropped.Add(1) }

// Close stops the client and closes its transport. It is safe to call more
// than once; later calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

// Info returns current client statistics
func (c *Client) Info() ClientInfo {
	return ClientInfo{
		ID:          c.ID.String(),
		Label:       c.Label,
		RemoteAddr:  c.RemoteAddr,
		ConnectedAt: c.ConnectedAt,
		Queued:      len(c.queue),
		Sent:        c.sent.Load(),
		Dropped:     c.dropped.Load(),
	}
}
