// File: internal/auth/auth.go

// Package auth implements the fallback authentication orchestrator: the
// decision logic that chooses between session reuse, credential-based login,
// and browser-driven registration for an agent on a third-party service.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/romirom11/agentpass/api/schemas"
	"github.com/romirom11/agentpass/internal/config"
	"github.com/romirom11/agentpass/internal/session"
)

// CredentialStore is the slice of the vault the orchestrator depends on.
type CredentialStore interface {
	Get(ctx context.Context, service string) (*schemas.Credential, error)
	Store(ctx context.Context, cred schemas.Credential) error
	UpdateCookies(ctx context.Context, service, cookies string) error
	GetIdentity(ctx context.Context, passportID string) (*schemas.StoredIdentity, error)
}

// Service orchestrates authentication for one agent across third-party
// services. Each call is strictly sequential internally; concurrent calls
// for the same (agent, service) pair collapse into one in-flight attempt.
type Service struct {
	vault    CredentialStore
	sessions *session.Service
	browser  schemas.BrowserOperations
	captcha  schemas.CaptchaEscalator
	events   schemas.EventEmitter
	email    schemas.EmailCollaborator
	cfg      config.AuthConfig
	emailCfg config.EmailConfig
	logger   *zap.Logger

	flight singleflight.Group
}

// NewService wires the orchestrator. The browser strategy is injected so
// selector and vision implementations are interchangeable.
func NewService(
	vault CredentialStore,
	sessions *session.Service,
	browser schemas.BrowserOperations,
	captcha schemas.CaptchaEscalator,
	events schemas.EventEmitter,
	email schemas.EmailCollaborator,
	cfg config.AuthConfig,
	emailCfg config.EmailConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		vault:    vault,
		sessions: sessions,
		browser:  browser,
		captcha:  captcha,
		events:   events,
		email:    email,
		cfg:      cfg,
		emailCfg: emailCfg,
		logger:   logger.Named("auth"),
	}
}

// AuthenticateOnService establishes the agent's access to the service behind
// rawURL. It reuses a live session when one exists, logs in with vaulted
// credentials otherwise, and registers a fresh account as the last resort.
// Structured failures come back in the result; only vault-level faults
// (uninitialized store, key mismatch) surface as errors.
func (s *Service) AuthenticateOnService(ctx context.Context, agentID, rawURL string) (*schemas.AuthResult, error) {
	service, err := ExtractDomain(rawURL)
	if err != nil {
		return &schemas.AuthResult{
			PassportID: agentID,
			Error:      err.Error(),
		}, nil
	}

	// Concurrent calls for the same pair share one execution and its result.
	key := agentID + "|" + service
	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.authenticate(ctx, agentID, service, rawURL)
	})
	if err != nil {
		return nil, err
	}
	return v.(*schemas.AuthResult), nil
}

func (s *Service) authenticate(ctx context.Context, agentID, service, rawURL string) (*schemas.AuthResult, error) {
	logger := s.logger.With(zap.String("agent_id", agentID), zap.String("service", service))

	// Identity resolution comes first: an unknown agent must cause zero
	// browser traffic.
	identity, err := s.vault.GetIdentity(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("identity lookup failed: %w", err)
	}
	if identity == nil {
		logger.Warn("Authentication requested for unknown agent.")
		return s.failure(ctx, agentID, service, "", "Identity not found", 0), nil
	}
	if identity.Status == schemas.IdentityRevoked {
		logger.Warn("Authentication requested for revoked identity.")
		return s.failure(ctx, agentID, service, "", "Identity revoked", 0), nil
	}

	if sess := s.sessions.Get(agentID, service); sess != nil {
		logger.Debug("Reusing live session.")
		return &schemas.AuthResult{
			Success:    true,
			Method:     schemas.MethodSessionReuse,
			Service:    service,
			PassportID: agentID,
			Session:    sess,
		}, nil
	}

	cred, err := s.vault.Get(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}
	if cred != nil {
		return s.login(ctx, logger, agentID, service, rawURL, cred), nil
	}
	return s.register(ctx, logger, agentID, service, rawURL, identity), nil
}

// -- Login Branch --

func (s *Service) login(ctx context.Context, logger *zap.Logger, agentID, service, rawURL string, cred *schemas.Credential) *schemas.AuthResult {
	logger.Info("Attempting fallback login with vaulted credentials.")

	targetURL := normalizeURL(rawURL)
	creds := schemas.LoginCredentials{Username: cred.Username, Password: cred.Password}

	machine := newRetryMachine(s.cfg.MaxRetries, s.cfg.RetryWait)
	var lastResult *schemas.LoginResult

	final := machine.Run(ctx, func(attemptCtx context.Context) attemptOutcome {
		result, err := s.browser.Login(attemptCtx, targetURL, creds)
		if err != nil {
			return attemptOutcome{err: err.Error()}
		}
		lastResult = result
		return attemptOutcome{
			success:     result.Success,
			captcha:     result.CaptchaDetected,
			captchaType: result.CaptchaType,
			screenshot:  result.Screenshot,
			err:         result.Error,
		}
	})

	switch final {
	case stateSucceeded:
		if lastResult.Cookies != "" {
			if err := s.vault.UpdateCookies(ctx, service, lastResult.Cookies); err != nil {
				logger.Warn("Failed to refresh stored cookies after login.", zap.Error(err))
			}
		}
		sess := s.sessions.Create(agentID, service, lastResult.SessionToken, lastResult.Cookies, s.cfg.SessionTTL)
		s.events.Emit(ctx, schemas.WebhookEvent{
			Event: schemas.EventLoggedIn,
			Data: map[string]any{
				"agent_id":     agentID,
				"service":      service,
				"retries_used": machine.RetriesUsed(),
			},
		})
		logger.Info("Fallback login succeeded.", zap.Int("retries_used", machine.RetriesUsed()))
		return &schemas.AuthResult{
			Success:     true,
			Method:      schemas.MethodLogin,
			Service:     service,
			PassportID:  agentID,
			RetriesUsed: machine.RetriesUsed(),
			Session:     sess,
		}

	case stateEscalated:
		return s.escalateCaptcha(ctx, logger, agentID, service, "login", machine)

	default:
		errText := machine.Last().err
		s.events.Emit(ctx, schemas.WebhookEvent{
			Event: schemas.EventLoginFailed,
			Data: map[string]any{
				"agent_id":     agentID,
				"service":      service,
				"error":        errText,
				"retries_used": machine.RetriesUsed(),
			},
		})
		logger.Warn("Fallback login exhausted retries.",
			zap.Int("retries_used", machine.RetriesUsed()),
			zap.String("last_error", errText),
		)
		return &schemas.AuthResult{
			Method:      schemas.MethodLogin,
			Service:     service,
			PassportID:  agentID,
			RetriesUsed: machine.RetriesUsed(),
			Error:       errText,
		}
	}
}

// -- Registration Branch --

func (s *Service) register(ctx context.Context, logger *zap.Logger, agentID, service, rawURL string, identity *schemas.StoredIdentity) *schemas.AuthResult {
	logger.Info("No credential on file, attempting registration.")

	if identity.Passport.Email == "" {
		return s.failure(ctx, agentID, service, schemas.MethodRegistration,
			"identity has no email address for registration", 0)
	}

	profile := schemas.RegistrationProfile{
		Email:    identity.Passport.Email,
		Password: generatePassword(),
		Name:     identity.Passport.Name,
	}
	targetURL := normalizeURL(rawURL)

	machine := newRetryMachine(s.cfg.MaxRetries, s.cfg.RetryWait)
	var lastResult *schemas.RegisterResult

	final := machine.Run(ctx, func(attemptCtx context.Context) attemptOutcome {
		result, err := s.browser.Register(attemptCtx, targetURL, profile)
		if err != nil {
			return attemptOutcome{err: err.Error()}
		}
		lastResult = result
		return attemptOutcome{
			success:     result.Success,
			captcha:     result.CaptchaDetected,
			captchaType: result.CaptchaType,
			screenshot:  result.Screenshot,
			err:         result.Error,
		}
	})

	switch final {
	case stateSucceeded:
		return s.completeRegistration(ctx, logger, agentID, service, profile, lastResult, machine)

	case stateEscalated:
		return s.escalateCaptcha(ctx, logger, agentID, service, "registration", machine)

	default:
		errText := machine.Last().err
		s.events.Emit(ctx, schemas.WebhookEvent{
			Event: schemas.EventError,
			Data: map[string]any{
				"agent_id":     agentID,
				"service":      service,
				"phase":        "registration",
				"error":        errText,
				"retries_used": machine.RetriesUsed(),
			},
		})
		logger.Warn("Registration exhausted retries.",
			zap.Int("retries_used", machine.RetriesUsed()),
			zap.String("last_error", errText),
		)
		return &schemas.AuthResult{
			Method:      schemas.MethodRegistration,
			Service:     service,
			PassportID:  agentID,
			RetriesUsed: machine.RetriesUsed(),
			Error:       errText,
		}
	}
}

// completeRegistration persists the new credential, runs the email
// verification continuation when the site demands one, and opens a session.
func (s *Service) completeRegistration(ctx context.Context, logger *zap.Logger, agentID, service string, profile schemas.RegistrationProfile, result *schemas.RegisterResult, machine *retryMachine) *schemas.AuthResult {
	cred := result.Credentials
	if cred == nil {
		cred = &schemas.Credential{
			Username: profile.Email,
			Password: profile.Password,
			Email:    profile.Email,
		}
	}
	cred.Service = service
	if cred.Cookies == "" {
		cred.Cookies = result.Cookies
	}

	// The credential goes into the vault before the verification round trip:
	// even if verification stalls, the account exists and must not be lost.
	if err := s.vault.Store(ctx, *cred); err != nil {
		logger.Error("Failed to store registered credential.", zap.Error(err))
		return s.failure(ctx, agentID, service, schemas.MethodRegistration,
			fmt.Sprintf("credential store failed: %v", err), machine.RetriesUsed())
	}
	s.events.Emit(ctx, schemas.WebhookEvent{
		Event: schemas.EventCredentialStored,
		Data: map[string]any{
			"agent_id": agentID,
			"service":  service,
			"username": cred.Username,
		},
	})

	if result.NeedsEmailVerification {
		if authResult := s.verifyEmail(ctx, logger, agentID, service, profile.Email, machine); authResult != nil {
			return authResult
		}
	}

	s.events.Emit(ctx, schemas.WebhookEvent{
		Event: schemas.EventRegistered,
		Data: map[string]any{
			"agent_id":     agentID,
			"service":      service,
			"username":     cred.Username,
			"retries_used": machine.RetriesUsed(),
		},
	})
	sess := s.sessions.Create(agentID, service, result.SessionToken, result.Cookies, s.cfg.SessionTTL)
	logger.Info("Registration succeeded.", zap.Int("retries_used", machine.RetriesUsed()))
	return &schemas.AuthResult{
		Success:     true,
		Method:      schemas.MethodRegistration,
		Service:     service,
		PassportID:  agentID,
		RetriesUsed: machine.RetriesUsed(),
		Session:     sess,
	}
}

// verifyEmail runs the wait-and-extract pair exactly once and visits the
// extracted link through a login-shaped call with empty credentials. A nil
// return means verification completed.
func (s *Service) verifyEmail(ctx context.Context, logger *zap.Logger, agentID, service, address string, machine *retryMachine) *schemas.AuthResult {
	logger.Info("Registration requires email verification, polling inbox.", zap.String("address", address))

	msg, err := s.email.WaitForEmail(ctx, address, s.emailCfg.WaitTimeout)
	if err != nil {
		return s.failure(ctx, agentID, service, schemas.MethodRegistration,
			fmt.Sprintf("email verification failed: %v", err), machine.RetriesUsed())
	}
	if msg == nil {
		return s.failure(ctx, agentID, service, schemas.MethodRegistration,
			"verification email did not arrive in time", machine.RetriesUsed())
	}

	link, err := s.email.ExtractVerificationLink(ctx, msg.ID)
	if err != nil {
		return s.failure(ctx, agentID, service, schemas.MethodRegistration,
			fmt.Sprintf("email verification failed: %v", err), machine.RetriesUsed())
	}
	if link == "" {
		return s.failure(ctx, agentID, service, schemas.MethodRegistration,
			"verification email carried no verification link", machine.RetriesUsed())
	}

	// The link itself carries the proof; no credentials accompany the visit.
	visit, err := s.browser.Login(ctx, link, schemas.LoginCredentials{})
	if err != nil {
		return s.failure(ctx, agentID, service, schemas.MethodRegistration,
			fmt.Sprintf("verification link visit failed: %v", err), machine.RetriesUsed())
	}
	if !visit.Success {
		return s.failure(ctx, agentID, service, schemas.MethodRegistration,
			fmt.Sprintf("verification link visit failed: %s", visit.Error), machine.RetriesUsed())
	}

	logger.Info("Email verification completed.")
	return nil
}

// -- Shared Terminal Branches --

// escalateCaptcha hands the challenge to the owner and halts the flow. The
// escalation record and webhook both fire before the result returns.
func (s *Service) escalateCaptcha(ctx context.Context, logger *zap.Logger, agentID, service, phase string, machine *retryMachine) *schemas.AuthResult {
	last := machine.Last()

	escalationID, err := s.captcha.Escalate(ctx, agentID, service, last.captchaType, last.screenshot)
	if err != nil {
		logger.Error("CAPTCHA escalation failed.", zap.Error(err))
	}
	s.events.Emit(ctx, schemas.WebhookEvent{
		Event: schemas.EventCaptchaNeeded,
		Data: map[string]any{
			"agent_id":      agentID,
			"service":       service,
			"phase":         phase,
			"captcha_type":  string(last.captchaType),
			"escalation_id": escalationID,
		},
	})
	logger.Warn("CAPTCHA detected, automation halted.",
		zap.String("phase", phase),
		zap.String("captcha_type", string(last.captchaType)),
		zap.String("escalation_id", escalationID),
	)

	method := schemas.MethodLogin
	if phase == "registration" {
		method = schemas.MethodRegistration
	}
	return &schemas.AuthResult{
		Method:      method,
		Service:     service,
		PassportID:  agentID,
		RetriesUsed: machine.RetriesUsed(),
		NeedsHuman:  true,
		CaptchaType: last.captchaType,
		Error:       "captcha challenge requires human intervention",
	}
}

// failure emits agent.error and builds the terminal failure envelope.
func (s *Service) failure(ctx context.Context, agentID, service string, method schemas.AuthMethod, errText string, retriesUsed int) *schemas.AuthResult {
	s.events.Emit(ctx, schemas.WebhookEvent{
		Event: schemas.EventError,
		Data: map[string]any{
			"agent_id": agentID,
			"service":  service,
			"error":    errText,
		},
	})
	return &schemas.AuthResult{
		Method:      method,
		Service:     service,
		PassportID:  agentID,
		RetriesUsed: retriesUsed,
		Error:       errText,
	}
}

// generatePassword produces a high-entropy password for a fresh
// registration. 24 random bytes encode to a 32-character string.
func generatePassword() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// there is no sane fallback.
		panic(fmt.Sprintf("entropy source unavailable: %v", err))
	}
	return "Ap1!" + base64.RawURLEncoding.EncodeToString(buf)
}
