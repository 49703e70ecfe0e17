package gateway

import (
	"sync"
	"time"

	"rentchat/internal/infra/realtime/protocol"
)

type frame struct {
	kind protocol.Type
	data []byte
}

// Conn is one authenticated socket. The send queue is bounded and never
// closed by the server, so enqueues racing with shutdown cannot panic.
type Conn struct {
	ID        string
	UserID    string
	ExpiresAt time.Time

	send      chan frame
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	room    string
	removed bool
}

func newConn(id, userID string, expiresAt time.Time, queue int) *Conn {
	if queue <= 0 {
		queue = 64
	}
	return &Conn{
		ID:        id,
		UserID:    userID,
		ExpiresAt: expiresAt,
		send:      make(chan frame, queue),
		done:      make(chan struct{}),
	}
}

// Room is the listing the connection is joined to, or "".
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Conn) setRoom(listingID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.room
	c.room = listingID
	return prev
}

func (c *Conn) retire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = true
}

// retired reports whether the connection left the registry or was closed.
func (c *Conn) retired() bool {
	select {
	case <-c.done:
		return true
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}

// enqueue never blocks; false means the frame was dropped.
func (c *Conn) enqueue(f frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close signals the connection goroutines to stop. Safe to call repeatedly.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
