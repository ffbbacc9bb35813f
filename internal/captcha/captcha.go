// Package captcha packages a detected human-verification challenge into a
// pending escalation record and notifies the owner. Solving is explicitly
// out of scope: the orchestrator's only obligation on detection is to stop
// and hand over a complete, actionable artifact.
package captcha

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/romirom11/agentpass/api/schemas"
)

// ErrNotFound is returned when an escalation id is unknown.
var ErrNotFound = errors.New("captcha: escalation not found")

// Service keeps pending escalations in memory and exposes the poll/resolve
// contract the surrounding system uses.
type Service struct {
	emitter schemas.EventEmitter
	logger  *zap.Logger

	mu          sync.RWMutex
	escalations map[string]*schemas.CaptchaEscalation
}

// NewService builds the escalation registry. Owner notification goes through
// the given emitter.
func NewService(emitter schemas.EventEmitter, logger *zap.Logger) *Service {
	return &Service{
		emitter:     emitter,
		logger:      logger.Named("captcha"),
		escalations: make(map[string]*schemas.CaptchaEscalation),
	}
}

// Escalate records a pending escalation for the detected challenge, emits
// the owner notification, and returns the escalation id for later polling.
func (s *Service) Escalate(ctx context.Context, agentID, service string, captchaType schemas.CaptchaType, screenshot []byte) (string, error) {
	esc := &schemas.CaptchaEscalation{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		Service:     service,
		CaptchaType: captchaType,
		Screenshot:  screenshot,
		Status:      schemas.EscalationPending,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.escalations[esc.ID] = esc
	s.mu.Unlock()

	s.logger.Warn("CAPTCHA escalated to owner.",
		zap.String("escalation_id", esc.ID),
		zap.String("agent_id", agentID),
		zap.String("service", service),
		zap.String("captcha_type", string(captchaType)),
		zap.Int("screenshot_bytes", len(screenshot)))

	s.emitter.Emit(ctx, schemas.WebhookEvent{
		Event: schemas.EventCaptchaEscalated,
		Data: map[string]any{
			"escalation_id": esc.ID,
			"agent_id":      agentID,
			"service":       service,
			"captcha_type":  string(captchaType),
		},
	})
	return esc.ID, nil
}

// Get returns a copy of the escalation record for polling.
func (s *Service) Get(id string) (*schemas.CaptchaEscalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	esc, ok := s.escalations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *esc
	return &cp, nil
}

// Resolve marks a pending escalation as solved by the owner. Resolving a
// non-pending record is a no-op so the owner's channel can be idempotent.
func (s *Service) Resolve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	esc, ok := s.escalations[id]
	if !ok {
		return ErrNotFound
	}
	if esc.Status != schemas.EscalationPending {
		return nil
	}
	now := time.Now().UTC()
	esc.Status = schemas.EscalationResolved
	esc.ResolvedAt = &now

	s.logger.Info("CAPTCHA escalation resolved.", zap.String("escalation_id", id))
	return nil
}

// ExpireOlderThan times out pending escalations created before the cutoff
// and returns how many were expired.
func (s *Service) ExpireOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, esc := range s.escalations {
		if esc.Status == schemas.EscalationPending && esc.CreatedAt.Before(cutoff) {
			esc.Status = schemas.EscalationTimedOut
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info("Expired stale CAPTCHA escalations.", zap.Int("count", expired))
	}
	return expired
}
