// Package bot drives a scripted player over the WebSocket protocol, for
// smoke and load tests against a running server.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"matchrelay/internal/protocol"
)

const readTimeout = 30 * time.Second

// Config describes one bot.
type Config struct {
	URL      string
	Username string
	Password string
	// Games to play before Run returns.
	Games int
	// Moves is the total number of moves in each game, both players included.
	Moves int
	// Think is the maximum pause before each move.
	Think time.Duration
}

// Stats counts what a bot did.
type Stats struct {
	Games     int
	MovesSent int
	MovesSeen int
}

// Bot is one scripted player.
type Bot struct {
	cfg  Config
	log  *zap.Logger
	rng  *rand.Rand
	conn *websocket.Conn

	accessToken string
	stats       Stats
}

func New(cfg Config, log *zap.Logger) *Bot {
	if cfg.Games <= 0 {
		cfg.Games = 1
	}
	if cfg.Moves <= 0 {
		cfg.Moves = 6
	}
	if cfg.Password == "" {
		cfg.Password = "bot-password"
	}
	return &Bot{
		cfg: cfg,
		log: log.With(zap.String("bot", cfg.Username)),
		rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 2)),
	}
}

// Run connects, signs in and plays the configured number of games.
func (b *Bot) Run(ctx context.Context) (Stats, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.cfg.URL, nil)
	if err != nil {
		return b.stats, fmt.Errorf("dial %s: %w", b.cfg.URL, err)
	}
	b.conn = conn
	defer conn.Close()

	// Closing the connection unblocks a pending read on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := b.expect(protocol.TypeConnected); err != nil {
		return b.stats, err
	}
	if err := b.signIn(); err != nil {
		return b.stats, err
	}
	for b.stats.Games < b.cfg.Games {
		if err := b.play(ctx); err != nil {
			return b.stats, err
		}
		b.stats.Games++
	}
	b.log.Info("done", zap.Int("games", b.stats.Games), zap.Int("moves_sent", b.stats.MovesSent))
	return b.stats, nil
}

func (b *Bot) signIn() error {
	if err := b.send(map[string]any{
		"type":     protocol.TypeRegister,
		"username": b.cfg.Username,
		"email":    b.cfg.Username + "@bots.local",
		"password": b.cfg.Password,
	}); err != nil {
		return err
	}
	msg, err := b.read()
	if err != nil {
		return err
	}
	if msg["type"] != protocol.TypeRegisterSuccess {
		// Already registered by an earlier run; logging in is enough.
		b.log.Debug("register skipped", zap.Any("reply", msg["error"]))
	}

	if err := b.send(map[string]any{
		"type":     protocol.TypeLogin,
		"username": b.cfg.Username,
		"password": b.cfg.Password,
	}); err != nil {
		return err
	}
	msg, err = b.expect(protocol.TypeLoginSuccess)
	if err != nil {
		return err
	}
	token, _ := msg["accessToken"].(string)
	if token == "" {
		return errors.New("login_success without access token")
	}
	b.accessToken = token
	return nil
}

// play runs one game to the configured number of moves.
func (b *Bot) play(ctx context.Context) error {
	if err := b.send(map[string]any{
		"type":         protocol.TypeStartGame,
		"username":     b.cfg.Username,
		"access_token": b.accessToken,
	}); err != nil {
		return err
	}
	start, err := b.expect(protocol.TypeGameStart)
	if err != nil {
		return err
	}
	gameID, _ := start["gameID"].(string)
	isX, _ := start["isX"].(bool)
	b.log.Debug("game started", zap.String("game", gameID), zap.Bool("isX", isX))

	for made := 0; made < b.cfg.Moves; made++ {
		myTurn := (made%2 == 0) == isX
		if !myTurn {
			if _, err := b.expect(protocol.TypeMove); err != nil {
				return err
			}
			b.stats.MovesSeen++
			continue
		}
		if err := b.think(ctx); err != nil {
			return err
		}
		if err := b.send(map[string]any{
			"type":         protocol.TypeGameMove,
			"username":     b.cfg.Username,
			"access_token": b.accessToken,
			"gameID":       gameID,
			"move":         RandomMove(b.rng, made),
		}); err != nil {
			return err
		}
		b.stats.MovesSent++
	}

	// Both players report, so each connection's next start_game finds its
	// session already ended. The outcome is derived from the game ID so the
	// two reports agree.
	result := Outcome(gameID)
	if !isX {
		result = -result
	}
	return b.send(map[string]any{
		"type":         protocol.TypeGameEnd,
		"username":     b.cfg.Username,
		"access_token": b.accessToken,
		"gameID":       gameID,
		"result":       result,
	})
}

// Outcome is the first mover's result for gameID: -1, 0 or 1.
func Outcome(gameID string) int {
	var sum int
	for i := 0; i < len(gameID); i++ {
		sum += int(gameID[i])
	}
	return sum%3 - 1
}

func (b *Bot) think(ctx context.Context) error {
	if b.cfg.Think <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(b.rng.Int64N(int64(b.cfg.Think))))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RandomMove returns an opaque move payload. The server never inspects it.
func RandomMove(rng *rand.Rand, seq int) map[string]int {
	return map[string]int{"seq": seq, "x": rng.IntN(3), "y": rng.IntN(3)}
}

func (b *Bot) send(v map[string]any) error {
	if err := b.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("send %v: %w", v["type"], err)
	}
	return nil
}

func (b *Bot) read() (map[string]any, error) {
	if err := b.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return nil, err
	}
	var msg map[string]any
	if err := b.conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return msg, nil
}

// expect reads until a message of type want arrives. An access_token_invalid
// reply aborts the bot.
func (b *Bot) expect(want string) (map[string]any, error) {
	for {
		msg, err := b.read()
		if err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", want, err)
		}
		switch msg["type"] {
		case want:
			return msg, nil
		case protocol.TypeAccessTokenInvalid, protocol.TypeLoginFailed:
			return nil, fmt.Errorf("waiting for %s: got %v", want, msg["type"])
		}
	}
}
