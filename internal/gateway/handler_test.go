package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchrelay/internal/auth"
	"matchrelay/internal/match"
	"matchrelay/internal/metrics"
	"matchrelay/internal/network"
	"matchrelay/internal/protocol"
)

type fakeClient struct {
	mu       sync.Mutex
	identity string
	sent     []any
}

func (c *fakeClient) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeClient) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *fakeClient) Bind(identity string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.identity
	c.identity = identity
	return prev
}

func (c *fakeClient) last() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *fakeClient) drain() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sent
	c.sent = nil
	return out
}

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]auth.User
}

func (m *memoryUsers) CreateUser(_ context.Context, u auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return auth.ErrUserExists
	}
	m.users[u.Username] = u
	return nil
}

func (m *memoryUsers) GetUser(_ context.Context, username string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

type fakePhotos struct {
	uploaded [][]byte
	deleted  []string
	err      error
}

func (p *fakePhotos) Upload(_ context.Context, data []byte) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.uploaded = append(p.uploaded, data)
	return "http://cdn.local/photo.png", nil
}

func (p *fakePhotos) Delete(_ context.Context, url string) error {
	p.deleted = append(p.deleted, url)
	return nil
}

type memoryResults struct {
	mu      sync.Mutex
	results []match.Result
}

func (m *memoryResults) Record(_ context.Context, r match.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

type harness struct {
	handler  *Handler
	engine   *match.Engine
	accounts *auth.Service
	photos   *fakePhotos
	results  *memoryResults
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zap.NewNop()
	m := metrics.NewUnregistered()

	accounts := auth.NewService(&memoryUsers{users: map[string]auth.User{}}, auth.NewTokens([]byte("secret"), time.Hour, 24*time.Hour), log)
	sessions := match.NewSessions(m)
	queue := match.NewQueue(sessions, match.FIFO{}, log, m)
	results := &memoryResults{}
	engine := match.NewEngine(match.EngineConfig{
		Validator:   accounts,
		Results:     results,
		Connections: match.NewConnections(m),
		Queue:       queue,
		Sessions:    sessions,
		Logger:      log,
		Metrics:     m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go queue.Run(ctx)
	t.Cleanup(cancel)

	photos := &fakePhotos{}
	return &harness{
		handler:  NewHandler(accounts, photos, engine, log),
		engine:   engine,
		accounts: accounts,
		photos:   photos,
		results:  results,
	}
}

func frame(t *testing.T, v map[string]any) network.Message {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	msg, err := network.DecodeMessage(data)
	require.NoError(t, err)
	return msg
}

// login signs identity up and returns its access token.
func (h *harness) login(t *testing.T, identity string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.accounts.SignUp(ctx, identity, identity+"@example.com", "pw", ""))
	pair, _, err := h.accounts.Login(ctx, identity, "pw")
	require.NoError(t, err)
	return pair.AccessToken
}

func TestConnectSendsNotice(t *testing.T) {
	h := newHarness(t)
	c := &fakeClient{}
	h.handler.connect(c)
	assert.Equal(t, protocol.NewConnected(), c.last())
}

func TestRegisterLoginRefresh(t *testing.T) {
	h := newHarness(t)
	c := &fakeClient{}
	photo := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n"))

	h.handler.dispatch(c, frame(t, map[string]any{
		"type": "register", "username": "alice", "email": "a@example.com", "password": "pw", "photo": photo,
	}))
	assert.Equal(t, protocol.NewRegisterSuccess(), c.last())
	assert.Equal(t, "alice", c.Identity())
	assert.True(t, h.engine.Online("alice"))
	require.Len(t, h.photos.uploaded, 1)

	h.handler.dispatch(c, frame(t, map[string]any{"type": "login", "username": "alice", "password": "pw"}))
	login, ok := c.last().(protocol.LoginSuccess)
	require.True(t, ok, "got %#v", c.last())
	assert.Equal(t, "http://cdn.local/photo.png", login.Photo)

	h.handler.dispatch(c, frame(t, map[string]any{"type": "refresh_token", "refreshToken": login.RefreshToken}))
	refreshed, ok := c.last().(protocol.RefreshSuccess)
	require.True(t, ok, "got %#v", c.last())
	assert.NotEmpty(t, refreshed.AccessToken)

	h.handler.dispatch(c, frame(t, map[string]any{"type": "refresh_token", "refreshToken": "junk"}))
	assert.Equal(t, protocol.NewRefreshFailed(), c.last())

	h.handler.dispatch(c, frame(t, map[string]any{"type": "login", "username": "alice", "password": "nope"}))
	assert.Equal(t, protocol.NewLoginFailed(auth.ErrInvalidCredentials.Error()), c.last())
}

func TestRegisterFailures(t *testing.T) {
	h := newHarness(t)
	first := &fakeClient{}
	h.handler.dispatch(first, frame(t, map[string]any{"type": "register", "username": "alice", "email": "a@x", "password": "pw"}))
	require.Equal(t, protocol.NewRegisterSuccess(), first.last())

	second := &fakeClient{}
	h.handler.dispatch(second, frame(t, map[string]any{"type": "register", "username": "alice", "email": "a@x", "password": "pw"}))
	assert.Equal(t, protocol.NewRegisterFailed(reasonUsernameInUse), second.last())

	h.handler.dispatch(second, frame(t, map[string]any{"type": "register", "username": "bob", "email": "", "password": "pw"}))
	assert.Equal(t, protocol.NewRegisterFailed(auth.ErrInvalidUser.Error()), second.last())

	h.handler.dispatch(second, frame(t, map[string]any{"type": "register", "username": "bob", "email": "b@x", "password": "pw", "photo": "%%%"}))
	failed, ok := second.last().(protocol.Failure)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeRegisterFailed, failed.Type)

	h.photos.err = errors.New("disk full")
	h.handler.dispatch(second, frame(t, map[string]any{"type": "register", "username": "bob", "email": "b@x", "password": "pw", "photo": "aGVsbG8="}))
	assert.Equal(t, protocol.NewRegisterFailed("internal error"), second.last())
	assert.Empty(t, second.Identity())
}

func TestRegisterDoesNotLeavePhotoBehind(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice")
	c := &fakeClient{}
	photo := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n"))

	h.handler.dispatch(c, frame(t, map[string]any{
		"type": "register", "username": "bob", "email": " ", "password": "pw", "photo": photo,
	}))
	assert.Equal(t, protocol.NewRegisterFailed(auth.ErrInvalidUser.Error()), c.last())
	assert.Empty(t, h.photos.uploaded)

	h.handler.dispatch(c, frame(t, map[string]any{
		"type": "register", "username": "alice", "email": "a@example.com", "password": "pw", "photo": photo,
	}))
	assert.Equal(t, protocol.NewRegisterFailed(auth.ErrUserExists.Error()), c.last())
	require.Len(t, h.photos.uploaded, 1)
	assert.Equal(t, []string{"http://cdn.local/photo.png"}, h.photos.deleted)
	assert.Empty(t, c.Identity())
}

func TestGameFlow(t *testing.T) {
	h := newHarness(t)
	aliceToken, bobToken := h.login(t, "alice"), h.login(t, "bob")
	alice, bob := &fakeClient{}, &fakeClient{}

	h.handler.dispatch(alice, frame(t, map[string]any{"type": "start_game", "username": "alice", "access_token": aliceToken}))
	assert.Empty(t, alice.drain())
	h.handler.dispatch(bob, frame(t, map[string]any{"type": "start_game", "username": "bob", "access_token": bobToken}))

	aStart, ok := alice.last().(protocol.GameStart)
	require.True(t, ok)
	bStart, ok := bob.last().(protocol.GameStart)
	require.True(t, ok)
	assert.Equal(t, aStart.GameID, bStart.GameID)
	assert.True(t, aStart.IsX)
	assert.False(t, bStart.IsX)
	assert.Equal(t, "alice", alice.Identity())

	h.handler.dispatch(alice, frame(t, map[string]any{
		"type": "gameMove", "username": "alice", "access_token": aliceToken, "gameID": aStart.GameID, "move": "e4",
	}))
	moved, ok := bob.last().(protocol.Move)
	require.True(t, ok)
	assert.JSONEq(t, `"e4"`, string(moved.Move))

	// gameEnd without result is discarded.
	h.handler.dispatch(alice, frame(t, map[string]any{
		"type": "gameEnd", "username": "alice", "access_token": aliceToken, "gameID": aStart.GameID,
	}))
	h.handler.dispatch(alice, frame(t, map[string]any{
		"type": "gameEnd", "username": "alice", "access_token": aliceToken, "gameID": aStart.GameID, "result": 1,
	}))
	h.engine.Wait()

	h.results.mu.Lock()
	defer h.results.mu.Unlock()
	require.Len(t, h.results.results, 1)
	assert.Equal(t, "alice", h.results.results[0].Winner)
}

func TestStartGameWithBadToken(t *testing.T) {
	h := newHarness(t)
	h.login(t, "alice")
	c := &fakeClient{}

	h.handler.dispatch(c, frame(t, map[string]any{"type": "start_game", "username": "alice", "access_token": "forged"}))
	assert.Equal(t, protocol.NewAccessTokenInvalid(), c.last())
	assert.Empty(t, c.Identity())
	assert.False(t, h.engine.Online("alice"))
}

func TestDisconnectTearsDownIdentity(t *testing.T) {
	h := newHarness(t)
	token := h.login(t, "alice")
	c := &fakeClient{}
	h.handler.dispatch(c, frame(t, map[string]any{"type": "start_game", "username": "alice", "access_token": token}))
	require.True(t, h.engine.Online("alice"))

	h.handler.disconnect(c)
	assert.False(t, h.engine.Online("alice"))

	// Unbound clients are ignored.
	h.handler.disconnect(&fakeClient{})
}

func TestIdentitySwitchReleasesPrevious(t *testing.T) {
	h := newHarness(t)
	aliceToken, carolToken := h.login(t, "alice"), h.login(t, "carol")
	c := &fakeClient{}

	h.handler.dispatch(c, frame(t, map[string]any{"type": "start_game", "username": "alice", "access_token": aliceToken}))
	h.handler.dispatch(c, frame(t, map[string]any{"type": "start_game", "username": "carol", "access_token": carolToken}))

	assert.Equal(t, "carol", c.Identity())
	assert.False(t, h.engine.Online("alice"))
	assert.True(t, h.engine.Online("carol"))

	// alice left the queue before carol joined, so nothing was paired.
	for _, m := range c.drain() {
		_, started := m.(protocol.GameStart)
		assert.False(t, started, "connection paired with itself: %#v", m)
	}
	h.engine.Wait()
	h.results.mu.Lock()
	assert.Empty(t, h.results.results)
	h.results.mu.Unlock()

	daveToken := h.login(t, "dave")
	dave := &fakeClient{}
	h.handler.dispatch(dave, frame(t, map[string]any{"type": "start_game", "username": "dave", "access_token": daveToken}))
	carolStart, ok := c.last().(protocol.GameStart)
	require.True(t, ok, "got %#v", c.last())
	daveStart, ok := dave.last().(protocol.GameStart)
	require.True(t, ok, "got %#v", dave.last())
	assert.Equal(t, carolStart.GameID, daveStart.GameID)
	assert.True(t, carolStart.IsX)
}

func TestUnknownTypeIsIgnored(t *testing.T) {
	h := newHarness(t)
	c := &fakeClient{}
	h.handler.dispatch(c, frame(t, map[string]any{"type": "chat", "text": "hi"}))
	assert.Nil(t, c.last())
}
