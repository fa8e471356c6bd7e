package network

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period, must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufferSize = 256
)

var (
	ErrClientClosed   = errors.New("client is closed")
	ErrSendBufferFull = errors.New("client send buffer is full")
)

// Client is one connected WebSocket peer.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	log  *zap.Logger

	maxMessageSize int64

	// Outbound messages, drained by writeLoop. Closed by the hub on unregister.
	send chan any

	mu       sync.Mutex
	closed   bool
	identity string
}

func newClient(conn *websocket.Conn, hub *Hub, log *zap.Logger, maxMessageSize int64) *Client {
	return &Client{
		conn:           conn,
		hub:            hub,
		log:            log.With(zap.Stringer("remote", conn.RemoteAddr())),
		maxMessageSize: maxMessageSize,
		send:           make(chan any, sendBufferSize),
	}
}

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send queues v for delivery as a JSON text frame without blocking.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- v:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Identity returns the player identity bound to this client, if any.
func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Bind associates the client with a player identity and returns the
// previously bound one.
func (c *Client) Bind(identity string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.identity
	c.identity = identity
	return prev
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("unexpected close", zap.Error(err))
			}
			return
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			c.log.Debug("discarding malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch keeps a panicking handler from taking the connection down.
func (c *Client) dispatch(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panic", zap.String("type", msg.Type), zap.Any("panic", r))
		}
	}()
	c.hub.handler.OnMessage(c, msg)
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
