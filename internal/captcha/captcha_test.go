// File: internal/captcha/captcha_test.go
package captcha

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/romirom11/agentpass/api/schemas"
)

// recordingEmitter captures emitted events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []schemas.WebhookEvent
}

func (r *recordingEmitter) Emit(_ context.Context, event schemas.WebhookEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) all() []schemas.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schemas.WebhookEvent(nil), r.events...)
}

func TestEscalateCreatesPendingRecord(t *testing.T) {
	emitter := &recordingEmitter{}
	s := NewService(emitter, zaptest.NewLogger(t))

	screenshot := []byte{0x89, 'P', 'N', 'G'}
	id, err := s.Escalate(context.Background(), "agent-1", "app.example.com", schemas.CaptchaRecaptcha, screenshot)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	esc, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, schemas.EscalationPending, esc.Status)
	assert.Equal(t, "agent-1", esc.AgentID)
	assert.Equal(t, "app.example.com", esc.Service)
	assert.Equal(t, schemas.CaptchaRecaptcha, esc.CaptchaType)
	assert.Equal(t, screenshot, esc.Screenshot)
	assert.Nil(t, esc.ResolvedAt)

	// The owner notification carries the full hand-off context.
	events := emitter.all()
	require.Len(t, events, 1)
	assert.Equal(t, schemas.EventCaptchaEscalated, events[0].Event)
	assert.Equal(t, id, events[0].Data["escalation_id"])
	assert.Equal(t, "recaptcha", events[0].Data["captcha_type"])
}

func TestGetUnknownID(t *testing.T) {
	s := NewService(&recordingEmitter{}, zaptest.NewLogger(t))
	_, err := s.Get("no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve(t *testing.T) {
	s := NewService(&recordingEmitter{}, zaptest.NewLogger(t))

	id, err := s.Escalate(context.Background(), "agent-1", "app.example.com", schemas.CaptchaHcaptcha, nil)
	require.NoError(t, err)

	require.NoError(t, s.Resolve(id))
	esc, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, schemas.EscalationResolved, esc.Status)
	require.NotNil(t, esc.ResolvedAt)

	// Resolving twice is idempotent and keeps the first timestamp.
	first := *esc.ResolvedAt
	require.NoError(t, s.Resolve(id))
	esc, err = s.Get(id)
	require.NoError(t, err)
	assert.True(t, first.Equal(*esc.ResolvedAt))

	assert.ErrorIs(t, s.Resolve("no-such-id"), ErrNotFound)
}

func TestExpireOlderThan(t *testing.T) {
	s := NewService(&recordingEmitter{}, zaptest.NewLogger(t))
	ctx := context.Background()

	oldID, err := s.Escalate(ctx, "agent-1", "old.example.com", schemas.CaptchaGeneric, nil)
	require.NoError(t, err)
	resolvedID, err := s.Escalate(ctx, "agent-1", "done.example.com", schemas.CaptchaGeneric, nil)
	require.NoError(t, err)
	require.NoError(t, s.Resolve(resolvedID))

	expired := s.ExpireOlderThan(time.Now().Add(time.Second))
	assert.Equal(t, 1, expired, "only pending records expire")

	esc, err := s.Get(oldID)
	require.NoError(t, err)
	assert.Equal(t, schemas.EscalationTimedOut, esc.Status)

	esc, err = s.Get(resolvedID)
	require.NoError(t, err)
	assert.Equal(t, schemas.EscalationResolved, esc.Status)
}
