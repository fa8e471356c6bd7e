package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchrelay/internal/bot"
	"matchrelay/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		HTTPAddr:        "127.0.0.1:0",
		PairingPolicy:   config.PolicyFIFO,
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		TokenCacheSize:  16,
		DatabasePath:    filepath.Join(dir, "relay.db"),
		PhotoDir:        filepath.Join(dir, "photos"),
		PhotoBaseURL:    "http://localhost/photos",
		ResultSinks:     []string{config.SinkSQLite, config.SinkLog},
		ResultTimeout:   time.Second,
		MaxMessageBytes: 1 << 20,
		ServiceName:     "matchrelay",
	}
}

// startApp serves the app's routes with its background loops running.
func startApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	a, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go a.queue.Run(ctx)
	go a.ws.Run(ctx)

	ts := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		a.engine.Wait()
		_ = a.Close()
	})
	return a, ts
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c := &wsClient{t: t, conn: conn}
	assert.Equal(t, "connected", c.read()["type"])
	return c
}

func (c *wsClient) send(v map[string]any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *wsClient) read() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(c.t, c.conn.ReadJSON(&msg))
	return msg
}

func (c *wsClient) signIn(name string) string {
	c.t.Helper()
	c.send(map[string]any{"type": "register", "username": name, "email": name + "@example.com", "password": "pw"})
	require.Equal(c.t, "register_success", c.read()["type"])
	c.send(map[string]any{"type": "login", "username": name, "password": "pw"})
	msg := c.read()
	require.Equal(c.t, "login_success", msg["type"])
	return msg["accessToken"].(string)
}

func TestEndToEndGame(t *testing.T) {
	a, ts := startApp(t)
	alice, bob := dial(t, ts), dial(t, ts)
	aliceToken, bobToken := alice.signIn("alice"), bob.signIn("bob")

	alice.send(map[string]any{"type": "start_game", "username": "alice", "access_token": aliceToken})
	bob.send(map[string]any{"type": "start_game", "username": "bob", "access_token": bobToken})

	aStart, bStart := alice.read(), bob.read()
	require.Equal(t, "game_start", aStart["type"])
	require.Equal(t, "game_start", bStart["type"])
	assert.Equal(t, aStart["gameID"], bStart["gameID"])
	assert.Equal(t, true, aStart["isX"])
	assert.Equal(t, false, bStart["isX"])
	gameID := aStart["gameID"].(string)

	alice.send(map[string]any{"type": "gameMove", "username": "alice", "access_token": aliceToken, "gameID": gameID, "move": map[string]any{"x": 1, "y": 2}})
	moved := bob.read()
	assert.Equal(t, "move", moved["type"])
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, moved["move"])

	bob.send(map[string]any{"type": "gameMove", "username": "bob", "access_token": "forged", "gameID": gameID, "move": "x"})
	assert.Equal(t, "access_token_invalid", bob.read()["type"])

	alice.send(map[string]any{"type": "gameEnd", "username": "alice", "access_token": aliceToken, "gameID": gameID, "result": 1})

	require.Eventually(t, func() bool {
		got, err := a.store.ResultsFor(context.Background(), "alice", 10)
		return err == nil && len(got) == 1 && got[0].Winner == "alice"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := startApp(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewFailsOnUnknownPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.PairingPolicy = "elo"
	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestBotsPlayAgainstServer(t *testing.T) {
	a, ts := startApp(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats := make(chan bot.Stats, 2)
	errs := make(chan error, 2)
	for _, name := range []string{"bot-a", "bot-b"} {
		b := bot.New(bot.Config{URL: url, Username: name, Games: 3, Moves: 5}, zap.NewNop())
		go func() {
			s, err := b.Run(ctx)
			stats <- s
			errs <- err
		}()
	}

	var sent int
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
		s := <-stats
		assert.Equal(t, 3, s.Games)
		sent += s.MovesSent
	}
	assert.Equal(t, 15, sent)

	require.Eventually(t, func() bool {
		got, err := a.store.ResultsFor(context.Background(), "bot-a", 10)
		return err == nil && len(got) == 3
	}, 5*time.Second, 20*time.Millisecond)
}
