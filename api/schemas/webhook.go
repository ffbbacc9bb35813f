package schemas

// -- Webhook Schemas --

// Webhook event names emitted by the orchestrator. Consumers treat these as a
// stable contract.
const (
	EventLoggedIn         = "agent.logged_in"
	EventLoginFailed      = "agent.login_failed"
	EventRegistered       = "agent.registered"
	EventCredentialStored = "agent.credential_stored"
	EventCaptchaNeeded    = "agent.captcha_needed"
	EventError            = "agent.error"
	EventCaptchaEscalated = "captcha.escalated"
)

// WebhookEvent is a fire-and-forget notification. It is emitted and
// forgotten; the orchestrator never reads one back.
type WebhookEvent struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}
