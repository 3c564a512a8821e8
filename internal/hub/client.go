package hub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/overlaykit/chathub/internal/proto"
)

// Role fixes what a connection is allowed to do. Producers submit chat
// events; viewers receive the broadcast stream. Layout control frames are
// accepted from either role.
type Role int

const (
	RoleViewer Role = iota
	RoleProducer
)

func (r Role) String() string {
	if r == RoleProducer {
		return "producer"
	}
	return "viewer"
}

// sendQueueSize bounds the per-connection outbound queue. A viewer that
// falls this far behind on critical envelopes is evicted rather than
// allowed to stall the hub.
const sendQueueSize = 64

// Client is the hub's handle for one connection. The transport owns the
// socket; the hub only ever enqueues envelopes and signals closure.
type Client struct {
	ID   string
	Role Role

	send chan proto.Envelope
	// viewers is a one-slot latest-wins channel for viewer-count
	// envelopes: overflow replaces the stale count with the newer one
	// instead of queueing behind chat traffic.
	viewers   chan proto.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	// subscribedLayout narrows layout_update delivery to one layout.
	// Empty means all. Touched by the hub goroutine only.
	subscribedLayout string
}

// NewClient constructs a connection handle with an initialized queue.
func NewClient(role Role) *Client {
	return &Client{
		ID:      uuid.NewString(),
		Role:    role,
		send:    make(chan proto.Envelope, sendQueueSize),
		viewers: make(chan proto.Envelope, 1),
		closed:  make(chan struct{}),
	}
}

// Outbox is drained by the transport's write loop.
func (c *Client) Outbox() <-chan proto.Envelope {
	return c.send
}

// ViewerUpdates carries the coalesced viewer-count envelopes; the
// transport's write loop drains it alongside Outbox.
func (c *Client) ViewerUpdates() <-chan proto.Envelope {
	return c.viewers
}

// Closed is signalled when the hub evicts the connection.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// Close marks the connection for teardown. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}
