package match

import (
	"sync"

	"matchrelay/internal/metrics"
)

// Conn is a live handle able to deliver one message to a player.
type Conn interface {
	Send(v any) error
}

// Connections maps identities to their current connection. The last
// registration wins; a replaced connection is dropped, not closed.
type Connections struct {
	mu         sync.RWMutex
	byIdentity map[string]Conn
	metrics    *metrics.Metrics
}

func NewConnections(m *metrics.Metrics) *Connections {
	return &Connections{
		byIdentity: make(map[string]Conn),
		metrics:    m,
	}
}

// Register stores conn for identity and returns the connection it replaced.
func (c *Connections) Register(identity string, conn Conn) (Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.byIdentity[identity]
	c.byIdentity[identity] = conn
	c.metrics.Connections.Set(float64(len(c.byIdentity)))
	return prev, ok && prev != conn
}

// Resolve returns the connection registered for identity. A miss means the
// player is gone and callers should treat it as such, not as a failure.
func (c *Connections) Resolve(identity string) (Conn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.byIdentity[identity]
	return conn, ok
}

// Remove forgets identity. Removing an absent identity is a no-op.
func (c *Connections) Remove(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byIdentity, identity)
	c.metrics.Connections.Set(float64(len(c.byIdentity)))
}

// RemoveIf forgets identity only while it is still registered to conn, so
// closing a replaced connection leaves its successor in place.
func (c *Connections) RemoveIf(identity string, conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.byIdentity[identity]
	if !ok || current != conn {
		return false
	}
	delete(c.byIdentity, identity)
	c.metrics.Connections.Set(float64(len(c.byIdentity)))
	return true
}

func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byIdentity)
}
