package schemas

import (
	"time"
)

// -- CAPTCHA Schemas --

// CaptchaType identifies the challenge vendor detected on a page.
type CaptchaType string

const (
	CaptchaNone      CaptchaType = ""
	CaptchaRecaptcha CaptchaType = "recaptcha"
	CaptchaHcaptcha  CaptchaType = "hcaptcha"
	CaptchaTurnstile CaptchaType = "turnstile"
	// CaptchaGeneric covers pages that present a human-verification wall
	// without a recognizable vendor widget.
	CaptchaGeneric CaptchaType = "generic"
)

// EscalationStatus is the lifecycle state of a CAPTCHA escalation.
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationResolved EscalationStatus = "resolved"
	EscalationTimedOut EscalationStatus = "timed_out"
)

// CaptchaEscalation is the complete hand-off artifact created when automation
// hits a CAPTCHA. The owner resolves it out-of-band; the orchestrator only
// creates it and stops.
type CaptchaEscalation struct {
	ID          string           `json:"id"`
	AgentID     string           `json:"agent_id"`
	Service     string           `json:"service"`
	CaptchaType CaptchaType      `json:"captcha_type"`
	Screenshot  []byte           `json:"screenshot,omitempty"`
	Status      EscalationStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
}
