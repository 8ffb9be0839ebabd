package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/surajmurari02/ocr-card/config"
)

type session struct {
	id         string
	controller *UploadController
	createdAt  time.Time
	lastSeen   time.Time
}

// SessionRegistry is an in-memory map from page session to its controller.
// Nothing is persisted; a restart starts every browser from idle.
type SessionRegistry struct {
	sessions    map[string]*session
	mu          sync.Mutex
	maxSessions int // 0 = unlimited
	ttl         time.Duration
	factory     func(sessionID string) *UploadController
	now         func() time.Time
}

func NewSessionRegistry(cfg *config.SessionConfig, factory func(sessionID string) *UploadController) *SessionRegistry {
	maxSessions := cfg.MaxSessions
	if maxSessions < 0 {
		maxSessions = 0
	}
	slog.Info("session registry initialized", "max_sessions", maxSessions, "ttl", cfg.TTL)
	return &SessionRegistry{
		sessions:    make(map[string]*session),
		maxSessions: maxSessions,
		ttl:         cfg.TTL,
		factory:     factory,
		now:         time.Now,
	}
}

// Controller returns the controller for id, creating it on first use.
func (r *SessionRegistry) Controller(id string) *UploadController {
	r.mu.Lock()
	now := r.now()
	if s, ok := r.sessions[id]; ok {
		s.lastSeen = now
		r.mu.Unlock()
		return s.controller
	}

	s := &session{
		id:         id,
		controller: r.factory(id),
		createdAt:  now,
		lastSeen:   now,
	}
	r.sessions[id] = s
	evicted := r.cleanupIfNeeded(id)
	r.mu.Unlock()

	resetAll(evicted)
	return s.controller
}

// Lookup returns the controller for id without creating or touching it.
func (r *SessionRegistry) Lookup(id string) (*UploadController, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.controller, true
}

func (r *SessionRegistry) Delete(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.controller.Reset(context.Background())
	}
}

// Sweep drops sessions idle for longer than ttl and returns how many went.
func (r *SessionRegistry) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	cutoff := r.now().Add(-ttl)
	var expired []*session
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		slog.Info("expired idle session", "session_id", s.id, "last_seen", s.lastSeen)
	}
	resetAll(expired)
	return len(expired)
}

// Run sweeps expired sessions every interval until ctx is done.
func (r *SessionRegistry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || r.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.ttl)
		}
	}
}

// cleanupIfNeeded removes the least recently seen sessions once the registry
// is over capacity, never keep. Must be called with lock held; the caller
// resets the returned controllers after unlocking.
func (r *SessionRegistry) cleanupIfNeeded(keep string) []*session {
	if r.maxSessions <= 0 || len(r.sessions) <= r.maxSessions {
		return nil
	}

	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.id != keep {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].lastSeen.Before(sessions[j].lastSeen)
	})

	removeCount := len(sessions) - r.maxSessions
	evicted := sessions[:removeCount]
	for _, s := range evicted {
		slog.Info("evicting least recently used session",
			"session_id", s.id,
			"last_seen", s.lastSeen,
		)
		delete(r.sessions, s.id)
	}
	return evicted
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func resetAll(sessions []*session) {
	for _, s := range sessions {
		s.controller.Reset(context.Background())
	}
}
