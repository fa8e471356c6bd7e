package match

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"matchrelay/internal/metrics"
)

var (
	ErrSamePlayer = errors.New("a session needs two distinct players")
	ErrPlayerBusy = errors.New("player already has an active session")
)

// SessionState tracks a session between pairing and termination. A
// terminated session is removed, so there is no ended state to store.
type SessionState int

const (
	// StateCreated: paired, game_start not yet sent.
	StateCreated SessionState = iota
	// StateActive: both players were told; moves are relayed.
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Session is one game between two identities. PlayerA moves first.
type Session struct {
	ID        string
	PlayerA   string
	PlayerB   string
	State     SessionState
	CreatedAt time.Time
}

// Has reports whether identity plays in the session.
func (s Session) Has(identity string) bool {
	return identity == s.PlayerA || identity == s.PlayerB
}

// Opponent returns the other player, or false if identity is not a member.
func (s Session) Opponent(identity string) (string, bool) {
	switch identity {
	case s.PlayerA:
		return s.PlayerB, true
	case s.PlayerB:
		return s.PlayerA, true
	default:
		return "", false
	}
}

// MovesFirst reports whether identity holds the first-move marker.
func (s Session) MovesFirst(identity string) bool {
	return identity == s.PlayerA
}

// Sessions is the registry of active sessions.
type Sessions struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byPlayer map[string]string

	newID   func() string
	now     func() time.Time
	metrics *metrics.Metrics
}

func NewSessions(m *metrics.Metrics) *Sessions {
	return &Sessions{
		byID:     make(map[string]*Session),
		byPlayer: make(map[string]string),
		newID:    uuid.NewString,
		now:      time.Now,
		metrics:  m,
	}
}

// Create registers a fresh session in which a moves first.
func (r *Sessions) Create(a, b string) (Session, error) {
	if a == b {
		return Session{}, ErrSamePlayer
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.byPlayer[a]; busy {
		return Session{}, ErrPlayerBusy
	}
	if _, busy := r.byPlayer[b]; busy {
		return Session{}, ErrPlayerBusy
	}

	s := &Session{
		ID:        r.newID(),
		PlayerA:   a,
		PlayerB:   b,
		State:     StateCreated,
		CreatedAt: r.now(),
	}
	r.byID[s.ID] = s
	r.byPlayer[a] = s.ID
	r.byPlayer[b] = s.ID
	r.metrics.ActiveSessions.Set(float64(len(r.byID)))
	return *s, nil
}

// Activate moves a created session to the active state.
func (r *Sessions) Activate(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return Session{}, false
	}
	s.State = StateActive
	return *s, true
}

func (r *Sessions) Lookup(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ActiveFor returns the session identity currently plays in.
func (r *Sessions) ActiveFor(identity string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPlayer[identity]
	if !ok {
		return Session{}, false
	}
	return *r.byID[id], true
}

// Terminate removes the session and only its own player links. It reports
// false when the session was already gone, which makes it idempotent.
func (r *Sessions) Terminate(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return Session{}, false
	}
	delete(r.byID, id)
	for _, p := range []string{s.PlayerA, s.PlayerB} {
		if r.byPlayer[p] == id {
			delete(r.byPlayer, p)
		}
	}
	r.metrics.ActiveSessions.Set(float64(len(r.byID)))
	return *s, true
}

func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
