// Package gateway routes client frames to the account service and the
// match engine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"matchrelay/internal/auth"
	"matchrelay/internal/blob"
	"matchrelay/internal/match"
	"matchrelay/internal/network"
	"matchrelay/internal/protocol"
)

const (
	accountTimeout    = 10 * time.Second
	disconnectTimeout = 5 * time.Second
)

// Client is the part of a connection the gateway uses.
type Client interface {
	Send(v any) error
	Identity() string
	Bind(identity string) string
}

// Accounts is the account service behind register, login and refresh.
type Accounts interface {
	SignUp(ctx context.Context, username, email, password, photoURL string) error
	Login(ctx context.Context, username, password string) (auth.Pair, string, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Pair, error)
}

// Photos stores profile photos and returns their URL.
type Photos interface {
	Upload(ctx context.Context, data []byte) (string, error)
	Delete(ctx context.Context, url string) error
}

// Game is the match engine.
type Game interface {
	Join(ctx context.Context, conn match.Conn, identity, token string) (match.EnqueueResult, error)
	Move(ctx context.Context, conn match.Conn, identity, sessionID, token string, payload json.RawMessage) error
	End(ctx context.Context, conn match.Conn, identity, sessionID, token string, outcome int) error
	Disconnect(ctx context.Context, conn match.Conn, identity string)
	Attach(conn match.Conn, identity string)
	Online(identity string) bool
}

type commandFunc func(h *Handler, c Client, msg network.Message)

// Handler implements network.EventHandler.
type Handler struct {
	accounts Accounts
	photos   Photos
	game     Game
	log      *zap.Logger

	router map[string]commandFunc
}

func NewHandler(accounts Accounts, photos Photos, game Game, log *zap.Logger) *Handler {
	h := &Handler{
		accounts: accounts,
		photos:   photos,
		game:     game,
		log:      log,
		router:   make(map[string]commandFunc),
	}
	h.registerAccountHandlers()
	h.registerGameHandlers()
	return h
}

func (h *Handler) registerAccountHandlers() {
	h.router[protocol.TypeRegister] = handleRegister
	h.router[protocol.TypeLogin] = handleLogin
	h.router[protocol.TypeRefreshToken] = handleRefreshToken
}

func (h *Handler) registerGameHandlers() {
	h.router[protocol.TypeStartGame] = handleStartGame
	h.router[protocol.TypeGameMove] = handleGameMove
	h.router[protocol.TypeGameEnd] = handleGameEnd
}

func (h *Handler) OnConnect(c *network.Client) { h.connect(c) }

func (h *Handler) OnDisconnect(c *network.Client) { h.disconnect(c) }

func (h *Handler) OnMessage(c *network.Client, msg network.Message) { h.dispatch(c, msg) }

func (h *Handler) connect(c Client) {
	if err := c.Send(protocol.NewConnected()); err != nil {
		h.log.Debug("connected notice not sent", zap.Error(err))
	}
}

func (h *Handler) disconnect(c Client) {
	identity := c.Identity()
	if identity == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	h.game.Disconnect(ctx, c, identity)
}

func (h *Handler) dispatch(c Client, msg network.Message) {
	handler, found := h.router[msg.Type]
	if !found {
		h.log.Debug("unknown message type", zap.String("type", msg.Type))
		return
	}
	handler(h, c, msg)
}

// bind attaches identity to c after releasing any other identity c holds.
func (h *Handler) bind(ctx context.Context, c Client, identity string) {
	h.release(ctx, c, identity)
	c.Bind(identity)
}

// release tears down the identity bound to c when it differs from next. It
// must run before next is queued, or the queue could pair c with itself.
func (h *Handler) release(ctx context.Context, c Client, next string) {
	prev := c.Identity()
	if prev == "" || prev == next {
		return
	}
	h.log.Info("connection switched identity", zap.String("from", prev), zap.String("to", next))
	c.Bind("")
	h.game.Disconnect(ctx, c, prev)
}

func (h *Handler) reply(c Client, v any) {
	if err := c.Send(v); err != nil {
		h.log.Debug("reply not sent", zap.Error(err))
	}
}

// clientErrors are shown to the client verbatim. Anything else is reported
// as an internal error.
var clientErrors = []error{
	auth.ErrUserExists,
	auth.ErrInvalidUser,
	auth.ErrInvalidCredentials,
	blob.ErrEmpty,
	blob.ErrTooLarge,
	blob.ErrUnsupported,
	blob.ErrBadEncoding,
}

func failureReason(err error) string {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "internal error"
}
