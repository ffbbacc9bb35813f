// Package session is the in-memory TTL cache of established auth sessions.
// It is a cache, not a source of truth: nothing survives a process restart,
// and an expired session is indistinguishable from no session.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/romirom11/agentpass/api/schemas"
)

type key struct {
	agentID string
	service string
}

// Service caches one live session per (agent, service) pair.
type Service struct {
	defaultTTL time.Duration
	logger     *zap.Logger

	mu       sync.RWMutex
	sessions map[key]*schemas.Session

	stopOnce sync.Once
	stop     chan struct{}
}

// NewService builds the cache and starts a janitor that sweeps expired
// entries every sweepInterval. Call Stop when done.
func NewService(defaultTTL, sweepInterval time.Duration, logger *zap.Logger) *Service {
	s := &Service{
		defaultTTL: defaultTTL,
		logger:     logger.Named("session"),
		sessions:   make(map[key]*schemas.Session),
		stop:       make(chan struct{}),
	}
	go s.janitor(sweepInterval)
	return s
}

// Create establishes or replaces the session for (agentID, service). A ttl
// of zero falls back to the service default. The stored session is returned.
func (s *Service) Create(agentID, service, token, cookies string, ttl time.Duration) *schemas.Session {
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	now := time.Now()
	sess := &schemas.Session{
		AgentID:   agentID,
		Service:   service,
		Token:     token,
		Cookies:   cookies,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	s.sessions[key{agentID, service}] = sess
	s.mu.Unlock()

	s.logger.Debug("Session created.",
		zap.String("agent_id", agentID),
		zap.String("service", service),
		zap.Time("expires_at", sess.ExpiresAt))
	return sess
}

// Get returns the live session for (agentID, service), or nil when none
// exists or the stored one has expired.
func (s *Service) Get(agentID, service string) *schemas.Session {
	s.mu.RLock()
	sess := s.sessions[key{agentID, service}]
	s.mu.RUnlock()

	if !sess.Valid(time.Now()) {
		return nil
	}
	return sess
}

// HasValid reports whether a session exists and its expiry is still in the
// future. Expiry is a hard boundary: now == expiresAt is already invalid.
func (s *Service) HasValid(agentID, service string) bool {
	return s.Get(agentID, service) != nil
}

// Delete drops the session for (agentID, service) if present.
func (s *Service) Delete(agentID, service string) {
	s.mu.Lock()
	delete(s.sessions, key{agentID, service})
	s.mu.Unlock()
}

// Stop terminates the janitor. The cache itself remains usable.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Service) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep removes every expired entry so the map does not grow unbounded.
func (s *Service) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, sess := range s.sessions {
		if !sess.Valid(now) {
			delete(s.sessions, k)
		}
	}
}
