// File: internal/session/session_test.go
package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := NewService(30*time.Minute, time.Minute, zaptest.NewLogger(t))
	t.Cleanup(s.Stop)
	return s
}

func TestCreateAndHasValid(t *testing.T) {
	s := newTestService(t)

	assert.False(t, s.HasValid("agent-1", "app.example.com"))

	sess := s.Create("agent-1", "app.example.com", "tok-abc", "", time.Minute)
	require.NotNil(t, sess)
	assert.Equal(t, "tok-abc", sess.Token)
	assert.True(t, sess.ExpiresAt.After(sess.CreatedAt))

	assert.True(t, s.HasValid("agent-1", "app.example.com"))
	// Different pair, different session.
	assert.False(t, s.HasValid("agent-1", "other.example.com"))
	assert.False(t, s.HasValid("agent-2", "app.example.com"))
}

func TestCreateReplacesExisting(t *testing.T) {
	s := newTestService(t)

	s.Create("agent-1", "app.example.com", "tok-old", "", time.Minute)
	s.Create("agent-1", "app.example.com", "tok-new", "", time.Minute)

	got := s.Get("agent-1", "app.example.com")
	require.NotNil(t, got)
	assert.Equal(t, "tok-new", got.Token, "second create must replace the session")
}

func TestExpiredSessionIsInvalid(t *testing.T) {
	s := newTestService(t)

	// A non-positive ttl yields an already expired session.
	s.Create("agent-1", "app.example.com", "tok-abc", "", -time.Second)
	assert.False(t, s.HasValid("agent-1", "app.example.com"),
		"expired session must behave exactly like no session")
	assert.Nil(t, s.Get("agent-1", "app.example.com"))
}

func TestZeroTTLUsesDefault(t *testing.T) {
	s := newTestService(t)

	sess := s.Create("agent-1", "app.example.com", "tok-abc", "", 0)
	assert.InDelta(t, 30*time.Minute, time.Until(sess.ExpiresAt), float64(time.Second))
	assert.True(t, s.HasValid("agent-1", "app.example.com"))
}

func TestDelete(t *testing.T) {
	s := newTestService(t)

	s.Create("agent-1", "app.example.com", "tok-abc", "", time.Minute)
	s.Delete("agent-1", "app.example.com")
	assert.False(t, s.HasValid("agent-1", "app.example.com"))

	// Deleting an absent pair is a no-op.
	s.Delete("agent-9", "missing.example.com")
}

func TestStopTerminatesSweeper(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewService(30*time.Minute, time.Millisecond, zaptest.NewLogger(t))
	s.Create("agent-1", "app.example.com", "tok-abc", "", time.Minute)
	s.Stop()
	// Stop must be safe to call more than once.
	s.Stop()
}

func TestSweepRemovesExpired(t *testing.T) {
	s := newTestService(t)

	s.Create("agent-1", "expired.example.com", "", "", -time.Second)
	s.Create("agent-1", "live.example.com", "", "", time.Minute)

	s.sweep(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Len(t, s.sessions, 1)
	_, ok := s.sessions[key{"agent-1", "live.example.com"}]
	assert.True(t, ok)
}
