package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/san-kum/physio-cv/server/exercise"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("session not found")

// Registry tracks live exercise sessions by ID. Idle sessions are evicted
// after the TTL, and when the registry is full the least recently used
// session makes room, so abandoned browser tabs cannot pin memory forever.
type Registry struct {
	sessions map[string]*entry
	mutex    sync.RWMutex
	maxSize  int
	ttl      time.Duration
	logger   *zap.Logger
	cleanup  *time.Ticker
	stopCh   chan struct{}
}

type entry struct {
	session  *exercise.Session
	lastUsed time.Time
	mu       sync.Mutex
}

func NewRegistry(maxSize int, ttl time.Duration, logger *zap.Logger) *Registry {
	r := &Registry{
		sessions: make(map[string]*entry),
		maxSize:  maxSize,
		ttl:      ttl,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	r.cleanup = time.NewTicker(1 * time.Minute)
	go r.cleanupExpired()

	return r
}

func (r *Registry) Put(s *exercise.Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(r.sessions) >= r.maxSize {
		r.evictLRU()
	}

	r.sessions[s.ID] = &entry{session: s, lastUsed: time.Now()}
}

// With runs fn with exclusive access to the session. Sessions are
// single-owner objects; this is the hand-off point that keeps concurrent
// HTTP requests from interleaving inside one session's frame pipeline.
func (r *Registry) With(id string, fn func(*exercise.Session) error) error {
	r.mutex.Lock()
	e, exists := r.sessions[id]
	if exists {
		e.lastUsed = time.Now()
	}
	r.mutex.Unlock()

	if !exists {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.session)
}

func (r *Registry) Remove(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if e, exists := r.sessions[id]; exists {
		e.mu.Lock()
		e.session.Stop()
		e.mu.Unlock()
		delete(r.sessions, id)
	}
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

func (r *Registry) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, e := range r.sessions {
		if oldestKey == "" || e.lastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.lastUsed
		}
	}

	if oldestKey != "" {
		e := r.sessions[oldestKey]
		e.mu.Lock()
		e.session.Stop()
		e.mu.Unlock()
		delete(r.sessions, oldestKey)
		r.logger.Debug("evicted LRU session", zap.String("session_id", oldestKey))
	}
}

func (r *Registry) cleanupExpired() {
	for {
		select {
		case <-r.cleanup.C:
			r.removeIdle()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) removeIdle() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range r.sessions {
		if now.Sub(e.lastUsed) > r.ttl {
			e.mu.Lock()
			e.session.Stop()
			e.mu.Unlock()
			delete(r.sessions, key)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Info("evicted idle sessions",
			zap.Int("removed", removed),
			zap.Int("remaining", len(r.sessions)))
	}
}

// Close stops the cleanup loop and all tracked sessions.
func (r *Registry) Close() {
	close(r.stopCh)
	r.cleanup.Stop()

	r.mutex.Lock()
	defer r.mutex.Unlock()
	for key, e := range r.sessions {
		e.mu.Lock()
		e.session.Stop()
		e.mu.Unlock()
		delete(r.sessions, key)
	}
}

type RegistryStats struct {
	ActiveSessions int `json:"active_sessions"`
	MaxSessions    int `json:"max_sessions"`
}

func (r *Registry) Stats() RegistryStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return RegistryStats{ActiveSessions: len(r.sessions), MaxSessions: r.maxSize}
}
