package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"matchrelay/internal/metrics"
	"matchrelay/internal/protocol"
)

var (
	ErrUnauthorized    = errors.New("access token rejected")
	ErrMissingIdentity = errors.New("identity is required")
	ErrInvalidOutcome  = errors.New("unknown game outcome")
)

// Outcome kinds stored with a Result.
const (
	OutcomeDecided   = "decided"
	OutcomeDraw      = "draw"
	OutcomeAbandoned = "abandoned"
)

const defaultResultTimeout = 5 * time.Second

// TokenValidator checks an access token and returns the identity it was
// issued to.
type TokenValidator interface {
	Verify(ctx context.Context, token string) (string, error)
}

// ResultStore persists finished games. Calls are best-effort: the engine
// never waits on them from a player-facing path.
type ResultStore interface {
	Record(ctx context.Context, r Result) error
}

// Result describes a finished session. Winner and Loser are empty on a draw.
type Result struct {
	SessionID  string    `json:"sessionId"`
	PlayerA    string    `json:"playerA"`
	PlayerB    string    `json:"playerB"`
	Winner     string    `json:"winner,omitempty"`
	Loser      string    `json:"loser,omitempty"`
	Outcome    string    `json:"outcome"`
	ReportedBy string    `json:"reportedBy"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
}

// Players returns both identities, first mover first.
func (r Result) Players() []string {
	return []string{r.PlayerA, r.PlayerB}
}

// EngineConfig wires an Engine to its stores and collaborators.
type EngineConfig struct {
	Validator     TokenValidator
	Results       ResultStore
	Connections   *Connections
	Queue         *Queue
	Sessions      *Sessions
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	ResultTimeout time.Duration
}

// Engine validates game events, relays moves and ends sessions.
type Engine struct {
	validator TokenValidator
	results   ResultStore
	conns     *Connections
	queue     *Queue
	sessions  *Sessions
	log       *zap.Logger
	metrics   *metrics.Metrics

	resultTimeout time.Duration
	pending       sync.WaitGroup
	now           func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	timeout := cfg.ResultTimeout
	if timeout <= 0 {
		timeout = defaultResultTimeout
	}
	return &Engine{
		validator:     cfg.Validator,
		results:       cfg.Results,
		conns:         cfg.Connections,
		queue:         cfg.Queue,
		sessions:      cfg.Sessions,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
		resultTimeout: timeout,
		now:           time.Now,
	}
}

// Join authenticates identity, registers conn for it and puts it in the
// matchmaking queue. When the queue pairs it, both players get game_start.
// A player already in a session gets its own game_start again.
func (e *Engine) Join(ctx context.Context, conn Conn, identity, token string) (EnqueueResult, error) {
	if identity == "" {
		return EnqueueResult{}, ErrMissingIdentity
	}
	if err := e.authorize(ctx, conn, identity, token, protocol.TypeStartGame); err != nil {
		return EnqueueResult{}, err
	}

	e.Attach(conn, identity)

	res, err := e.queue.Enqueue(ctx, identity)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue %s: %w", identity, err)
	}

	switch res.Status {
	case Paired:
		res.Session, _ = e.begin(res.Session)
	case InSession:
		e.send(conn, protocol.NewGameStart(res.Session.ID, res.Session.MovesFirst(identity)))
		e.log.Info("player reattached", zap.String("identity", identity), zap.String("session", res.Session.ID))
	}
	return res, nil
}

// Attach registers conn for identity without queueing it.
func (e *Engine) Attach(conn Conn, identity string) {
	if identity == "" {
		return
	}
	if _, replaced := e.conns.Register(identity, conn); replaced {
		e.log.Info("connection replaced", zap.String("identity", identity))
	}
}

// Online reports whether identity has a registered connection.
func (e *Engine) Online(identity string) bool {
	_, ok := e.conns.Resolve(identity)
	return ok
}

// begin activates a freshly paired session and announces it. A session
// torn down before activation, by the partner's disconnect, is not announced.
func (e *Engine) begin(s Session) (Session, bool) {
	active, ok := e.sessions.Activate(s.ID)
	if !ok {
		e.log.Info("paired session ended before start", zap.String("session", s.ID))
		return s, false
	}
	e.announce(active)
	return active, true
}

// announce sends game_start to both players. A player who can no longer be
// resolved is skipped; the session stays as it is.
func (e *Engine) announce(s Session) {
	for _, p := range []string{s.PlayerA, s.PlayerB} {
		conn, ok := e.conns.Resolve(p)
		if !ok {
			e.log.Warn("game_start not delivered, player gone", zap.String("session", s.ID), zap.String("identity", p))
			continue
		}
		e.send(conn, protocol.NewGameStart(s.ID, s.MovesFirst(p)))
	}
}

// Move forwards payload unchanged to the opponent of identity in the
// session. Unknown sessions, non-members and absent opponents drop the move
// without telling the sender.
func (e *Engine) Move(ctx context.Context, conn Conn, identity, sessionID, token string, payload json.RawMessage) error {
	if err := e.authorize(ctx, conn, identity, token, protocol.TypeGameMove); err != nil {
		return err
	}

	s, ok := e.sessions.Lookup(sessionID)
	if !ok || s.State != StateActive {
		e.dropMove(metrics.DropUnknownSession, sessionID, identity)
		return nil
	}
	opponent, ok := s.Opponent(identity)
	if !ok {
		e.dropMove(metrics.DropNotMember, sessionID, identity)
		return nil
	}
	target, ok := e.conns.Resolve(opponent)
	if !ok {
		e.dropMove(metrics.DropOpponentGone, sessionID, identity)
		return nil
	}
	if err := target.Send(protocol.NewMove(payload)); err != nil {
		e.log.Debug("relay failed", zap.String("session", sessionID), zap.String("to", opponent), zap.Error(err))
		e.dropMove(metrics.DropSendFailed, sessionID, identity)
		return nil
	}
	e.metrics.MovesRelayed.Inc()
	return nil
}

func (e *Engine) dropMove(reason, sessionID, identity string) {
	e.metrics.MovesDropped.WithLabelValues(reason).Inc()
	e.log.Debug("move dropped", zap.String("reason", reason), zap.String("session", sessionID), zap.String("from", identity))
}

// End terminates the session identity reports on and records the result in
// the background. Only that session is touched.
func (e *Engine) End(ctx context.Context, conn Conn, identity, sessionID, token string, outcome int) error {
	if err := e.authorize(ctx, conn, identity, token, protocol.TypeGameEnd); err != nil {
		return err
	}

	s, ok := e.sessions.Lookup(sessionID)
	if !ok || !s.Has(identity) {
		e.log.Debug("game end ignored", zap.String("session", sessionID), zap.String("from", identity))
		return nil
	}
	result, err := decide(s, identity, outcome)
	if err != nil {
		return err
	}

	// Terminate reports false if a concurrent end got there first, which
	// keeps the result recorded exactly once.
	if _, ok := e.sessions.Terminate(sessionID); !ok {
		return nil
	}
	result.EndedAt = e.now()
	e.log.Info("game ended", zap.String("session", s.ID), zap.String("outcome", result.Outcome), zap.String("winner", result.Winner))
	e.record(result)
	return nil
}

// Disconnect tears identity down after conn closed: the registration, a
// queue entry and an active session, recorded as abandoned. Nothing happens
// if identity has meanwhile been registered on another connection.
func (e *Engine) Disconnect(ctx context.Context, conn Conn, identity string) {
	if identity == "" {
		return
	}
	if !e.conns.RemoveIf(identity, conn) {
		if _, taken := e.conns.Resolve(identity); taken {
			return
		}
	}

	if withdrawn, err := e.queue.Withdraw(ctx, identity); err != nil {
		e.log.Warn("queue withdraw failed", zap.String("identity", identity), zap.Error(err))
	} else if withdrawn {
		e.log.Info("player left queue on disconnect", zap.String("identity", identity))
	}

	// A reconnect that registered identity while the queue entry was being
	// withdrawn keeps the session. Its queue entry may still be lost; the
	// client recovers by sending start_game again.
	if _, taken := e.conns.Resolve(identity); taken {
		return
	}
	s, ok := e.sessions.ActiveFor(identity)
	if !ok {
		return
	}
	if _, ok := e.sessions.Terminate(s.ID); !ok {
		return
	}
	opponent, _ := s.Opponent(identity)
	e.log.Info("session abandoned", zap.String("session", s.ID), zap.String("identity", identity))
	e.record(Result{
		SessionID:  s.ID,
		PlayerA:    s.PlayerA,
		PlayerB:    s.PlayerB,
		Winner:     opponent,
		Loser:      identity,
		Outcome:    OutcomeAbandoned,
		ReportedBy: identity,
		StartedAt:  s.CreatedAt,
		EndedAt:    e.now(),
	})
}

// Wait blocks until every background result recording has finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// authorize checks the token belongs to identity and tells conn otherwise.
func (e *Engine) authorize(ctx context.Context, conn Conn, identity, token, msgType string) error {
	subject, err := e.validator.Verify(ctx, token)
	if err == nil && subject == identity && identity != "" {
		return nil
	}
	e.metrics.AuthFailures.WithLabelValues(msgType).Inc()
	e.log.Debug("token rejected", zap.String("type", msgType), zap.String("identity", identity), zap.Error(err))
	e.send(conn, protocol.NewAccessTokenInvalid())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return ErrUnauthorized
}

func (e *Engine) send(conn Conn, msg any) {
	if conn == nil {
		return
	}
	if err := conn.Send(msg); err != nil {
		e.log.Debug("send failed", zap.Error(err))
	}
}

// record hands r to the result store on its own goroutine.
func (e *Engine) record(r Result) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.resultTimeout)
		defer cancel()

		if err := e.results.Record(ctx, r); err != nil {
			e.metrics.ResultsRecorded.WithLabelValues("failed").Inc()
			e.log.Error("recording result failed", zap.String("session", r.SessionID), zap.Error(err))
			return
		}
		e.metrics.ResultsRecorded.WithLabelValues("ok").Inc()
	}()
}

func decide(s Session, reporter string, outcome int) (Result, error) {
	opponent, _ := s.Opponent(reporter)
	r := Result{
		SessionID:  s.ID,
		PlayerA:    s.PlayerA,
		PlayerB:    s.PlayerB,
		ReportedBy: reporter,
		StartedAt:  s.CreatedAt,
	}
	switch outcome {
	case protocol.ResultWin:
		r.Outcome, r.Winner, r.Loser = OutcomeDecided, reporter, opponent
	case protocol.ResultLoss:
		r.Outcome, r.Winner, r.Loser = OutcomeDecided, opponent, reporter
	case protocol.ResultDraw:
		r.Outcome = OutcomeDraw
	default:
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidOutcome, outcome)
	}
	return r, nil
}
