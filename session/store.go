package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sigcoord/coordinator/internal/coordinatorlog"
	"github.com/sigcoord/coordinator/internal/timers"
)

// ExecutionWindow is the ledger's signature-validity window, measured from
// transaction injection. The coordinator subtracts its safety margin from
// this before arming the execution-deadline timer; this package only
// exposes Session.SetStatus/ExtendExpiry for that caller to use.
const ExecutionWindow = 120 * time.Second

// Store owns every live session, keyed by session ID, behind an RWMutex.
// Other components hold short-lived handles obtained by ID; the Store
// never hands out its map.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timers      *timers.Registry
	log         coordinatorlog.Logger
	cleanupEvery time.Duration
	cleanupHandle timers.Handle

	expiryHook func(*Session)
}

// SetExpiryHook registers fn to be called, outside any session lock, every
// time the background sweep transitions a session into StatusExpired. Used
// by coordinator.Manager to broadcast SESSION_EXPIRED without this package
// depending on the transport/event layer.
func (st *Store) SetExpiryHook(fn func(*Session)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expiryHook = fn
}

// NewStore creates an empty Store and starts its periodic cleanup sweep.
func NewStore(reg *timers.Registry, log coordinatorlog.Logger, cleanupEvery time.Duration) *Store {
	if log == nil {
		log = coordinatorlog.GetDefaultLogger()
	}
	if cleanupEvery <= 0 {
		cleanupEvery = 60 * time.Second
	}
	st := &Store{
		sessions:     make(map[string]*Session),
		timers:       reg,
		log:          log,
		cleanupEvery: cleanupEvery,
	}
	st.cleanupHandle = reg.Every("session-cleanup", "session.Store", cleanupEvery, st.sweepExpired)
	return st
}

// CreateSession allocates a new session ID and registers it.
func (st *Store) CreateSession(cfg Config) (*Session, error) {
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("threshold must be positive")
	}
	if cfg.Threshold > len(cfg.EligibleKeys) {
		return nil, fmt.Errorf("threshold %d exceeds %d eligible keys", cfg.Threshold, len(cfg.EligibleKeys))
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = uuid.NewString()
	}

	id := uuid.NewString()
	sess := NewSession(id, cfg, time.Now())

	st.mu.Lock()
	st.sessions[id] = sess
	st.mu.Unlock()

	st.log.Info("session created",
		coordinatorlog.String("session_id", id),
		coordinatorlog.Int("threshold", cfg.Threshold),
		coordinatorlog.Int("expected_participants", cfg.ExpectedParticipants),
	)
	return sess, nil
}

// GetSession looks up a session by ID.
func (st *Store) GetSession(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	return sess, ok
}

// Authenticate looks up a session and checks its auth token in one call,
// the shape every AUTH handler needs.
func (st *Store) Authenticate(sessionID, authToken string) (*Session, error) {
	sess, ok := st.GetSession(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	if sess.Status().Terminal() {
		return nil, fmt.Errorf("session %q is %s", sessionID, sess.Status())
	}
	if !sess.CheckAuthToken(authToken) {
		return nil, fmt.Errorf("invalid auth token for session %q", sessionID)
	}
	return sess, nil
}

// DeleteSession removes a session from the store outright, used once a
// terminal session's retention window has passed.
func (st *Store) DeleteSession(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Count returns the number of tracked sessions, live or terminal.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// ListSessions returns a snapshot slice of every tracked session.
func (st *Store) ListSessions() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

// sweepExpired moves any non-terminal session whose deadline has passed
// into StatusExpired, except one in StatusExecuting, which is left to the
// coordinator's execution-window timer. It never deletes: callers that need retention
// cleanup call DeleteSession separately once they've handled the
// SESSION_EXPIRED broadcast.
func (st *Store) sweepExpired() {
	now := time.Now()
	st.mu.RLock()
	hook := st.expiryHook
	st.mu.RUnlock()

	for _, sess := range st.ListSessions() {
		status := sess.Status()
		if status.Terminal() || status == StatusExecuting {
			continue
		}
		if now.After(sess.ExpiresAt()) {
			sess.SetStatus(StatusExpired)
			st.log.Info("session expired", coordinatorlog.String("session_id", sess.ID()))
			if hook != nil {
				hook(sess)
			}
		}
	}
}

// Shutdown cancels the cleanup sweep. It does not touch session state;
// callers own broadcasting shutdown to connected participants.
func (st *Store) Shutdown() {
	st.timers.Cancel(st.cleanupHandle)
}
