package match

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"matchrelay/internal/metrics"
)

var ErrQueueStopped = errors.New("matchmaking queue is not running")

// EnqueueStatus tells a joining player what the queue did with them.
type EnqueueStatus int

const (
	// Waiting: queued, no opponent yet.
	Waiting EnqueueStatus = iota
	// AlreadyWaiting: the identity was already queued; nothing changed.
	AlreadyWaiting
	// Paired: a session was created for the identity and an opponent.
	Paired
	// InSession: the identity already plays in an active session.
	InSession
)

func (s EnqueueStatus) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case AlreadyWaiting:
		return "already_waiting"
	case Paired:
		return "paired"
	case InSession:
		return "in_session"
	default:
		return "unknown"
	}
}

// EnqueueResult carries the session for Paired and InSession.
type EnqueueResult struct {
	Status  EnqueueStatus
	Session Session
}

type queueRequest interface {
	isQueueRequest()
}

type enqueueRequest struct {
	identity string
	reply    chan EnqueueResult
}

func (enqueueRequest) isQueueRequest() {}

type withdrawRequest struct {
	identity string
	reply    chan bool
}

func (withdrawRequest) isQueueRequest() {}

type lenRequest struct{ reply chan int }

func (lenRequest) isQueueRequest() {}

// Queue is the matchmaking queue. Its state belongs to the Run goroutine;
// every public method is a request to that goroutine.
type Queue struct {
	waiting []string
	queued  map[string]struct{}

	sessions *Sessions
	policy   SelectionPolicy

	requestCh chan queueRequest
	done      chan struct{}

	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewQueue(sessions *Sessions, policy SelectionPolicy, log *zap.Logger, m *metrics.Metrics) *Queue {
	if policy == nil {
		policy = FIFO{}
	}
	return &Queue{
		waiting:   make([]string, 0),
		queued:    make(map[string]struct{}),
		sessions:  sessions,
		policy:    policy,
		requestCh: make(chan queueRequest),
		done:      make(chan struct{}),
		log:       log,
		metrics:   m,
	}
}

// Run serves queue requests until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	q.log.Info("matchmaking queue started")

	for {
		select {
		case msg := <-q.requestCh:
			switch req := msg.(type) {
			case enqueueRequest:
				req.reply <- q.enqueue(req.identity)
			case withdrawRequest:
				req.reply <- q.withdraw(req.identity)
			case lenRequest:
				req.reply <- len(q.waiting)
			}
			q.metrics.QueueWaiting.Set(float64(len(q.waiting)))

		case <-ctx.Done():
			q.log.Info("matchmaking queue stopped", zap.Int("waiting", len(q.waiting)))
			return
		}
	}
}

// Enqueue adds identity to the queue and pairs it if an opponent is waiting.
func (q *Queue) Enqueue(ctx context.Context, identity string) (EnqueueResult, error) {
	reply := make(chan EnqueueResult, 1)
	if err := q.submit(ctx, enqueueRequest{identity: identity, reply: reply}); err != nil {
		return EnqueueResult{}, err
	}
	return <-reply, nil
}

// Withdraw removes a waiting identity and reports whether it was queued.
func (q *Queue) Withdraw(ctx context.Context, identity string) (bool, error) {
	reply := make(chan bool, 1)
	if err := q.submit(ctx, withdrawRequest{identity: identity, reply: reply}); err != nil {
		return false, err
	}
	return <-reply, nil
}

// Len returns the number of waiting identities.
func (q *Queue) Len(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := q.submit(ctx, lenRequest{reply: reply}); err != nil {
		return 0, err
	}
	return <-reply, nil
}

// submit hands req to Run. Once accepted, Run always answers on the
// buffered reply channel before taking the next request.
func (q *Queue) submit(ctx context.Context, req queueRequest) error {
	select {
	case q.requestCh <- req:
		return nil
	case <-q.done:
		return ErrQueueStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) enqueue(identity string) EnqueueResult {
	if s, ok := q.sessions.ActiveFor(identity); ok {
		return EnqueueResult{Status: InSession, Session: s}
	}
	if _, ok := q.queued[identity]; ok {
		return EnqueueResult{Status: AlreadyWaiting}
	}

	q.waiting = append(q.waiting, identity)
	q.queued[identity] = struct{}{}
	q.log.Debug("player queued", zap.String("identity", identity), zap.Int("waiting", len(q.waiting)))

	// Pairing runs after every enqueue, so at most one player is ever left
	// waiting and the pair always includes the newcomer.
	if len(q.waiting) < 2 {
		return EnqueueResult{Status: Waiting}
	}
	return q.pair()
}

func (q *Queue) pair() EnqueueResult {
	i, j := q.policy.Pick(len(q.waiting))
	a, b := q.waiting[i], q.waiting[j]

	s, err := q.sessions.Create(a, b)
	if err != nil {
		q.log.Error("pairing failed, players stay queued", zap.String("a", a), zap.String("b", b), zap.Error(err))
		return EnqueueResult{Status: Waiting}
	}

	q.remove(a)
	q.remove(b)
	q.metrics.Pairings.Inc()
	q.log.Info("match found", zap.String("session", s.ID), zap.String("first", a), zap.String("second", b), zap.Int("waiting", len(q.waiting)))
	return EnqueueResult{Status: Paired, Session: s}
}

func (q *Queue) withdraw(identity string) bool {
	if !q.remove(identity) {
		return false
	}
	q.log.Debug("player left queue", zap.String("identity", identity), zap.Int("waiting", len(q.waiting)))
	return true
}

func (q *Queue) remove(identity string) bool {
	if _, ok := q.queued[identity]; !ok {
		return false
	}
	delete(q.queued, identity)
	for i, p := range q.waiting {
		if p == identity {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	return true
}
