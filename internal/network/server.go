package network

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options tunes the WebSocket endpoint.
type Options struct {
	// MaxMessageSize bounds inbound frames. Zero means DefaultMaxMessageSize.
	MaxMessageSize int64
	// CheckOrigin filters upgrade requests. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

// Server upgrades HTTP requests to WebSocket clients of one hub.
type Server struct {
	hub            *Hub
	upgrader       websocket.Upgrader
	maxMessageSize int64
	log            *zap.Logger
}

// NewServer creates a server whose clients report to handler.
func NewServer(handler EventHandler, log *zap.Logger, opts Options) *Server {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	maxSize := opts.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Server{
		hub: NewHub(handler, log.Named("hub")),
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		maxMessageSize: maxSize,
		log:            log,
	}
}

// Run drives the hub until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// ServeHTTP upgrades the request and starts the client's pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, s.hub, s.log, s.maxMessageSize)
	if !s.hub.join(client) {
		conn.Close()
		return
	}

	go client.writeLoop()
	go client.readLoop()
}
