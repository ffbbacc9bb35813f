package schemas

import (
	"time"
)

// -- Session Schemas --

// Session is an established authentication session for one (agent, service)
// pair. Sessions are ephemeral: they live only in the in-memory cache and a
// session whose expiry has passed is equivalent to no session at all.
type Session struct {
	AgentID   string    `json:"agent_id"`
	Service   string    `json:"service"`
	Token     string    `json:"token,omitempty"`
	Cookies   string    `json:"cookies,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the session is still usable at instant now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt)
}

// -- Authentication Result Schemas --

// AuthMethod identifies which path produced an authentication result.
type AuthMethod string

const (
	MethodSessionReuse AuthMethod = "session_reuse"
	MethodLogin        AuthMethod = "fallback_login"
	MethodRegistration AuthMethod = "fallback_registration"
)

// AuthResult is the single normalized envelope every orchestration branch
// converts to, regardless of which path was taken.
type AuthResult struct {
	Success     bool        `json:"success"`
	Method      AuthMethod  `json:"method,omitempty"`
	Service     string      `json:"service,omitempty"`
	PassportID  string      `json:"passport_id,omitempty"`
	RetriesUsed int         `json:"retries_used"`
	Session     *Session    `json:"session,omitempty"`
	Error       string      `json:"error,omitempty"`
	NeedsHuman  bool        `json:"needs_human,omitempty"`
	CaptchaType CaptchaType `json:"captcha_type,omitempty"`
}

// -- Browser Strategy Contracts --

// LoginCredentials is the input to a browser login attempt. An email
// verification link is visited with both fields empty since the link itself
// carries the proof.
type LoginCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegistrationProfile is the input to a browser registration attempt.
type RegistrationProfile struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// LoginResult is the normalized outcome of one browser login attempt.
type LoginResult struct {
	Success         bool        `json:"success"`
	SessionToken    string      `json:"session_token,omitempty"`
	Cookies         string      `json:"cookies,omitempty"`
	CaptchaDetected bool        `json:"captcha_detected,omitempty"`
	CaptchaType     CaptchaType `json:"captcha_type,omitempty"`
	// Screenshot is a best-effort capture taken when the attempt failed or a
	// CAPTCHA was found. It feeds the escalation record and may be nil.
	Screenshot []byte `json:"-"`
	Error      string `json:"error,omitempty"`
}

// RegisterResult is the normalized outcome of one browser registration
// attempt.
type RegisterResult struct {
	Success                bool        `json:"success"`
	Credentials            *Credential `json:"credentials,omitempty"`
	NeedsEmailVerification bool        `json:"needs_email_verification,omitempty"`
	SessionToken           string      `json:"session_token,omitempty"`
	Cookies                string      `json:"cookies,omitempty"`
	CaptchaDetected        bool        `json:"captcha_detected,omitempty"`
	CaptchaType            CaptchaType `json:"captcha_type,omitempty"`
	Screenshot             []byte      `json:"-"`
	Error                  string      `json:"error,omitempty"`
}
