package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchrelay/internal/metrics"
)

// fakeConn records every message sent to it.
type fakeConn struct {
	mu   sync.Mutex
	msgs []any
	err  error
}

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, v)
	return nil
}

func (c *fakeConn) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.msgs...)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

// tokenValidator accepts tokens of the form "token-<identity>".
type tokenValidator struct{}

func (tokenValidator) Verify(_ context.Context, token string) (string, error) {
	const prefix = "token-"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return "", errors.New("bad token")
	}
	return token[len(prefix):], nil
}

func tok(identity string) string { return "token-" + identity }

type memoryResults struct {
	mu      sync.Mutex
	results []Result
	err     error
}

func (m *memoryResults) Record(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.results = append(m.results, r)
	return nil
}

func (m *memoryResults) all() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Result(nil), m.results...)
}

type fixture struct {
	conns    *Connections
	sessions *Sessions
	queue    *Queue
	engine   *Engine
	results  *memoryResults
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, policy SelectionPolicy) *fixture {
	t.Helper()
	m := metrics.NewUnregistered()
	log := zap.NewNop()

	f := &fixture{
		conns:    NewConnections(m),
		sessions: NewSessions(m),
		results:  &memoryResults{},
		metrics:  m,
	}
	f.queue = NewQueue(f.sessions, policy, log, m)
	f.engine = NewEngine(EngineConfig{
		Validator:     tokenValidator{},
		Results:       f.results,
		Connections:   f.conns,
		Queue:         f.queue,
		Sessions:      f.sessions,
		Logger:        log,
		Metrics:       m,
		ResultTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go f.queue.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-f.queue.done
	})
	return f
}

func (f *fixture) join(t *testing.T, identity string, conn Conn) EnqueueResult {
	t.Helper()
	res, err := f.engine.Join(context.Background(), conn, identity, tok(identity))
	require.NoError(t, err)
	return res
}
