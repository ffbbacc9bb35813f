package schemas

import (
	"context"
	"time"
)

// -- Core Collaborator Interfaces --

// BrowserOperations is the capability contract shared by every browser
// automation strategy. Implementations must be substitutable without any
// change to the orchestrator: one drives the page through ordered selector
// candidates, the other through a vision-capable model issuing low-level UI
// actions. Both perform a single attempt; retry policy belongs to the caller.
type BrowserOperations interface {
	// Login attempts to sign in at url with the given credentials. A CAPTCHA
	// encountered at any point is reported in the result, never solved.
	Login(ctx context.Context, url string, creds LoginCredentials) (*LoginResult, error)
	// Register attempts to create an account at url for the given profile.
	Register(ctx context.Context, url string, profile RegistrationProfile) (*RegisterResult, error)
}

// InboundEmail is a message surfaced by the email collaborator.
type InboundEmail struct {
	ID      string    `json:"id"`
	To      string    `json:"to"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	HTML    string    `json:"html,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

// EmailCollaborator is the narrow contract the orchestrator needs from
// whatever inbox infrastructure surrounds it.
type EmailCollaborator interface {
	// WaitForEmail blocks until a message addressed to address arrives or the
	// timeout elapses. A nil email with a nil error means nothing arrived.
	WaitForEmail(ctx context.Context, address string, timeout time.Duration) (*InboundEmail, error)
	// ExtractVerificationLink pulls the account verification URL out of a
	// previously returned message. Empty string means no link was found.
	ExtractVerificationLink(ctx context.Context, emailID string) (string, error)
}

// EventEmitter delivers webhook events. Emission is best-effort: an
// implementation must never let a delivery failure surface into the caller's
// result path.
type EventEmitter interface {
	Emit(ctx context.Context, event WebhookEvent)
}

// CaptchaEscalator hands a detected challenge off to the owner and returns an
// identifier the surrounding system can poll.
type CaptchaEscalator interface {
	Escalate(ctx context.Context, agentID, service string, captchaType CaptchaType, screenshot []byte) (string, error)
}
