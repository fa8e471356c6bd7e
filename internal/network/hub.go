package network

import (
	"context"

	"go.uber.org/zap"
)

// Hub keeps the set of live clients and delivers connect and disconnect
// events to the handler. The clients map is only touched by Run.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Closed when Run returns, so pumps never block on a stopped hub.
	done chan struct{}

	handler EventHandler
	log     *zap.Logger
}

// NewHub creates a hub that reports to handler.
func NewHub(handler EventHandler, log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		handler:    handler,
		log:        log,
	}
}

// Run serves registrations until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("client registered", zap.Stringer("remote", client.RemoteAddr()), zap.Int("clients", len(h.clients)))
			h.handler.OnConnect(client)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				// Closing send stops the client's writeLoop.
				client.close()
				h.log.Debug("client unregistered", zap.Stringer("remote", client.RemoteAddr()), zap.Int("clients", len(h.clients)))
				h.handler.OnDisconnect(client)
			}

		case <-ctx.Done():
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.log.Info("hub stopped")
			return
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
