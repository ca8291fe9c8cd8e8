package usermodel

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stylora/retrieval/core"
)

const (
	// DefaultSessionWindow is the number of recent interactions whose
	// mean forms the session embedding.
	DefaultSessionWindow = 10

	// DefaultSessionTimeout is the inactivity span after which a session
	// is discarded.
	DefaultSessionTimeout = 30 * time.Minute
)

// session is one user's rolling interaction window.
type session struct {
	embeddings   [][]float32 // newest last, capped at windowSize
	lastActivity time.Time
}

// SessionTracker holds per-user short-term intent: the normalized mean
// over a rolling window of recent item embeddings. Sessions expire after
// the inactivity timeout and vanish as if they never existed.
//
// Safe for concurrent use.
type SessionTracker struct {
	windowSize int
	timeout    time.Duration
	log        zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessionTracker creates a tracker with the given window and timeout.
func NewSessionTracker(windowSize int, timeout time.Duration, log zerolog.Logger) *SessionTracker {
	if windowSize <= 0 {
		windowSize = DefaultSessionWindow
	}
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionTracker{
		windowSize: windowSize,
		timeout:    timeout,
		log:        log.With().Str("component", "session-tracker").Logger(),
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
}

// AddInteraction records an item embedding in the user's session,
// starting a fresh session when the previous one has expired.
func (t *SessionTracker) AddInteraction(userID string, itemEmbedding []float32) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[userID]
	if !ok || t.expired(s, now) {
		if ok {
			t.log.Debug().Str("user_id", userID).Msg("session expired, starting fresh")
		}
		s = &session{}
		t.sessions[userID] = s
	}

	vec := append([]float32(nil), itemEmbedding...)
	s.embeddings = append(s.embeddings, vec)
	if len(s.embeddings) > t.windowSize {
		s.embeddings = s.embeddings[len(s.embeddings)-t.windowSize:]
	}
	s.lastActivity = now
}

// Embedding returns the normalized mean over the user's active window,
// or false when the user has no live session.
func (t *SessionTracker) Embedding(userID string) ([]float32, bool) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[userID]
	if !ok || t.expired(s, now) || len(s.embeddings) == 0 {
		return nil, false
	}

	mean, err := core.MeanVector(s.embeddings)
	if err != nil {
		return nil, false
	}
	return core.Normalize(mean), true
}

// InteractionCount returns the live window size for a user.
func (t *SessionTracker) InteractionCount(userID string) int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[userID]
	if !ok || t.expired(s, now) {
		return 0
	}
	return len(s.embeddings)
}

// Clear drops a user's session.
func (t *SessionTracker) Clear(userID string) {
	t.mu.Lock()
	delete(t.sessions, userID)
	t.mu.Unlock()
}

// CleanupExpired removes expired sessions and returns how many were
// dropped. Meant to run periodically.
func (t *SessionTracker) CleanupExpired() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for userID, s := range t.sessions {
		if t.expired(s, now) {
			delete(t.sessions, userID)
			dropped++
		}
	}
	if dropped > 0 {
		t.log.Debug().Int("sessions", dropped).Msg("cleaned up expired sessions")
	}
	return dropped
}

// ActiveCount returns the number of live sessions.
func (t *SessionTracker) ActiveCount() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, s := range t.sessions {
		if !t.expired(s, now) {
			count++
		}
	}
	return count
}

func (t *SessionTracker) expired(s *session, now time.Time) bool {
	return now.Sub(s.lastActivity) >= t.timeout
}
