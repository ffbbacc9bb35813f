// File: internal/auth/auth_test.go
package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/romirom11/agentpass/api/schemas"
	"github.com/romirom11/agentpass/internal/config"
	"github.com/romirom11/agentpass/internal/session"
)

// -- Test Doubles --

type fakeStore struct {
	mu         sync.Mutex
	identities map[string]schemas.StoredIdentity
	creds      map[string]schemas.Credential
	cookieUpd  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		identities: make(map[string]schemas.StoredIdentity),
		creds:      make(map[string]schemas.Credential),
	}
}

func (f *fakeStore) Get(_ context.Context, service string) (*schemas.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cred, ok := f.creds[service]; ok {
		return &cred, nil
	}
	return nil, nil
}

func (f *fakeStore) Store(_ context.Context, cred schemas.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.creds[cred.Service]; ok {
		cred.RegisteredAt = existing.RegisteredAt
	} else {
		cred.RegisteredAt = time.Now().UTC()
	}
	f.creds[cred.Service] = cred
	return nil
}

func (f *fakeStore) UpdateCookies(_ context.Context, service, cookies string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookieUpd++
	if cred, ok := f.creds[service]; ok {
		cred.Cookies = cookies
		f.creds[service] = cred
	}
	return nil
}

func (f *fakeStore) GetIdentity(_ context.Context, passportID string) (*schemas.StoredIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.identities[passportID]; ok {
		return &id, nil
	}
	return nil, nil
}

type mockBrowser struct {
	mu            sync.Mutex
	loginURLs     []string
	loginCreds    []schemas.LoginCredentials
	registerCalls int

	loginFn    func(url string, creds schemas.LoginCredentials) (*schemas.LoginResult, error)
	registerFn func(url string, profile schemas.RegistrationProfile) (*schemas.RegisterResult, error)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	block       time.Duration
}

func (m *mockBrowser) Login(_ context.Context, url string, creds schemas.LoginCredentials) (*schemas.LoginResult, error) {
	m.track()
	m.mu.Lock()
	m.loginURLs = append(m.loginURLs, url)
	m.loginCreds = append(m.loginCreds, creds)
	fn := m.loginFn
	m.mu.Unlock()
	if fn == nil {
		return &schemas.LoginResult{Success: true}, nil
	}
	return fn(url, creds)
}

func (m *mockBrowser) Register(_ context.Context, url string, profile schemas.RegistrationProfile) (*schemas.RegisterResult, error) {
	m.track()
	m.mu.Lock()
	m.registerCalls++
	fn := m.registerFn
	m.mu.Unlock()
	if fn == nil {
		return &schemas.RegisterResult{Success: true}, nil
	}
	return fn(url, profile)
}

// track records how many browser operations overlap in time.
func (m *mockBrowser) track() {
	cur := m.inFlight.Add(1)
	for {
		max := m.maxInFlight.Load()
		if cur <= max || m.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if m.block > 0 {
		time.Sleep(m.block)
	}
	m.inFlight.Add(-1)
}

func (m *mockBrowser) loginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loginURLs)
}

func (m *mockBrowser) browserCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loginURLs) + m.registerCalls
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []schemas.WebhookEvent
}

func (r *recordingEmitter) Emit(_ context.Context, event schemas.WebhookEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) find(name string) *schemas.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].Event == name {
			return &r.events[i]
		}
	}
	return nil
}

type stubEscalator struct {
	mu    sync.Mutex
	calls int
	types []schemas.CaptchaType
}

func (s *stubEscalator) Escalate(_ context.Context, _, _ string, captchaType schemas.CaptchaType, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.types = append(s.types, captchaType)
	return "esc-0001", nil
}

type stubEmail struct {
	mu           sync.Mutex
	waitCalls    int
	extractCalls int
	email        *schemas.InboundEmail
	link         string
}

func (s *stubEmail) WaitForEmail(_ context.Context, _ string, _ time.Duration) (*schemas.InboundEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitCalls++
	return s.email, nil
}

func (s *stubEmail) ExtractVerificationLink(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extractCalls++
	return s.link, nil
}

// -- Harness --

type harness struct {
	svc      *Service
	store    *fakeStore
	sessions *session.Service
	browser  *mockBrowser
	emitter  *recordingEmitter
	captcha  *stubEscalator
	email    *stubEmail
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	sessions := session.NewService(30*time.Minute, time.Minute, logger)
	t.Cleanup(sessions.Stop)

	h := &harness{
		store:    newFakeStore(),
		sessions: sessions,
		browser:  &mockBrowser{},
		emitter:  &recordingEmitter{},
		captcha:  &stubEscalator{},
		email:    &stubEmail{},
	}
	h.svc = NewService(
		h.store, sessions, h.browser, h.captcha, h.emitter, h.email,
		config.AuthConfig{Strategy: "selector", MaxRetries: 2, RetryWait: 0, SessionTTL: 30 * time.Minute},
		config.EmailConfig{WaitTimeout: time.Second},
		logger,
	)
	return h
}

func (h *harness) addIdentity(id, email string) {
	h.store.identities[id] = schemas.StoredIdentity{
		Passport: schemas.Passport{ID: id, Name: "Test Agent", Email: email},
		Status:   schemas.IdentityActive,
	}
}

func (h *harness) addCredential(service string) {
	h.store.creds[service] = schemas.Credential{
		Service:  service,
		Username: "agent@example.com",
		Password: "hunter2hunter2",
	}
}

// -- Tests --

func TestUnknownAgentShortCircuits(t *testing.T) {
	h := newHarness(t)

	result, err := h.svc.AuthenticateOnService(t.Context(), "ghost", "https://github.com")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Identity not found")
	assert.Equal(t, 0, result.RetriesUsed)
	assert.Equal(t, 0, h.browser.browserCalls(), "unknown agent must cause zero browser I/O")
}

func TestRevokedIdentityIsRejected(t *testing.T) {
	h := newHarness(t)
	h.store.identities["agent-1"] = schemas.StoredIdentity{
		Passport: schemas.Passport{ID: "agent-1", Email: "a@example.com"},
		Status:   schemas.IdentityRevoked,
	}

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "github.com")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "revoked")
	assert.Equal(t, 0, h.browser.browserCalls())
}

func TestSessionReuseSkipsBrowser(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "a@example.com")
	h.sessions.Create("agent-1", "github.com", "tok-123", "", time.Hour)

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "https://github.com/login")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, schemas.MethodSessionReuse, result.Method)
	assert.Equal(t, 0, result.RetriesUsed)
	require.NotNil(t, result.Session)
	assert.Equal(t, "tok-123", result.Session.Token)
	assert.Equal(t, 0, h.browser.browserCalls(), "a live session must suppress all browser calls")
}

func TestExpiredSessionFallsThroughToLogin(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "a@example.com")
	h.addCredential("github.com")
	h.sessions.Create("agent-1", "github.com", "stale", "", -time.Minute)

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "github.com")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, schemas.MethodLogin, result.Method)
	assert.Equal(t, 1, h.browser.loginCount())
}

func TestLoginSuccessCreatesSessionAndEmits(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "a@example.com")
	h.addCredential("github.com")
	h.browser.loginFn = func(url string, creds schemas.LoginCredentials) (*schemas.LoginResult, error) {
		assert.Equal(t, "https://github.com", url)
		assert.Equal(t, "agent@example.com", creds.Username)
		return &schemas.LoginResult{Success: true, SessionToken: "tok-9", Cookies: `[{"name":"sid"}]`}, nil
	}

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "github.com")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.RetriesUsed)
	assert.True(t, h.sessions.HasValid("agent-1", "github.com"))
	assert.Equal(t, 1, h.store.cookieUpd, "fresh cookies must be written back to the vault")
	require.NotNil(t, h.emitter.find(schemas.EventLoggedIn))
}

func TestLoginRetriesThenReportsLastError(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "a@example.com")
	h.addCredential("github.com")

	attempts := 0
	h.browser.loginFn = func(string, schemas.LoginCredentials) (*schemas.LoginResult, error) {
		attempts++
		return &schemas.LoginResult{Error: "could not find email input"}, nil
	}

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "github.com")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3, attempts, "two retries means three total attempts")
	assert.Equal(t, 2, result.RetriesUsed)
	assert.Contains(t, result.Error, "could not find email input")

	failed := h.emitter.find(schemas.EventLoginFailed)
	require.NotNil(t, failed)
	assert.Equal(t, 2, failed.Data["retries_used"])
}

func TestCaptchaOnFirstLoginAbortsImmediately(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "a@example.com")
	h.addCredential("github.com")
	h.browser.loginFn = func(string, schemas.LoginCredentials) (*schemas.LoginResult, error) {
		return &schemas.LoginResult{
			CaptchaDetected: true,
			CaptchaType:     schemas.CaptchaRecaptcha,
			Screenshot:      []byte{0x89, 'P', 'N', 'G'},
		}, nil
	}

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "github.com")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.NeedsHuman)
	assert.Equal(t, schemas.CaptchaRecaptcha, result.CaptchaType)
	assert.Equal(t, 0, result.RetriesUsed)
	assert.Equal(t, 1, h.browser.loginCount(), "CAPTCHA must suppress retries")
	assert.Equal(t, 1, h.captcha.calls)

	needed := h.emitter.find(schemas.EventCaptchaNeeded)
	require.NotNil(t, needed)
	assert.Equal(t, "login", needed.Data["phase"])
	assert.Equal(t, "recaptcha", needed.Data["captcha_type"])
}

func TestRegistrationStoresCredentialAndCreatesSession(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "agent@example.com")
	h.browser.registerFn = func(_ string, profile schemas.RegistrationProfile) (*schemas.RegisterResult, error) {
		assert.Equal(t, "agent@example.com", profile.Email)
		assert.NotEmpty(t, profile.Password)
		return &schemas.RegisterResult{
			Success: true,
			Credentials: &schemas.Credential{
				Username: profile.Email,
				Password: profile.Password,
				Email:    profile.Email,
			},
			SessionToken: "fresh-token",
		}, nil
	}

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "https://app.example.com/signup")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, schemas.MethodRegistration, result.Method)

	stored, getErr := h.store.Get(t.Context(), "app.example.com")
	require.NoError(t, getErr)
	require.NotNil(t, stored, "registration must leave a retrievable credential")
	assert.Equal(t, "agent@example.com", stored.Username)

	assert.True(t, h.sessions.HasValid("agent-1", "app.example.com"))
	require.NotNil(t, h.emitter.find(schemas.EventCredentialStored))
	require.NotNil(t, h.emitter.find(schemas.EventRegistered))
	assert.Equal(t, 0, h.email.waitCalls, "no verification flow was requested")
}

func TestRegistrationCaptchaEscalates(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "agent@example.com")
	h.browser.registerFn = func(string, schemas.RegistrationProfile) (*schemas.RegisterResult, error) {
		return &schemas.RegisterResult{CaptchaDetected: true, CaptchaType: schemas.CaptchaTurnstile}, nil
	}

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "app.example.com")
	require.NoError(t, err)

	assert.True(t, result.NeedsHuman)
	assert.Equal(t, 1, h.browser.registerCalls)
	assert.Equal(t, 1, h.captcha.calls)

	needed := h.emitter.find(schemas.EventCaptchaNeeded)
	require.NotNil(t, needed)
	assert.Equal(t, "registration", needed.Data["phase"])
}

func TestRegistrationExhaustionEmitsAgentError(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "agent@example.com")
	h.browser.registerFn = func(string, schemas.RegistrationProfile) (*schemas.RegisterResult, error) {
		return &schemas.RegisterResult{Error: "signup form rejected the submission"}, nil
	}

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "app.example.com")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.RetriesUsed)
	assert.Equal(t, 3, h.browser.registerCalls)

	errEvent := h.emitter.find(schemas.EventError)
	require.NotNil(t, errEvent)
	assert.Equal(t, "registration", errEvent.Data["phase"])
}

func TestEmailVerificationRunsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "agent@example.com")
	h.email.email = &schemas.InboundEmail{ID: "msg-1", To: "agent@example.com"}
	h.email.link = "https://app.example.com/verify?token=abc123"
	h.browser.registerFn = func(_ string, profile schemas.RegistrationProfile) (*schemas.RegisterResult, error) {
		return &schemas.RegisterResult{Success: true, NeedsEmailVerification: true}, nil
	}

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "app.example.com")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, h.email.waitCalls, "wait must run exactly once")
	assert.Equal(t, 1, h.email.extractCalls, "extract must run exactly once")

	// The extracted link is visited through a login-shaped call carrying no
	// credentials.
	require.Equal(t, 1, h.browser.loginCount())
	assert.Equal(t, "https://app.example.com/verify?token=abc123", h.browser.loginURLs[0])
	assert.Equal(t, schemas.LoginCredentials{}, h.browser.loginCreds[0])
}

func TestMissingVerificationEmailFailsRegistration(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "agent@example.com")
	h.email.email = nil
	h.browser.registerFn = func(string, schemas.RegistrationProfile) (*schemas.RegisterResult, error) {
		return &schemas.RegisterResult{Success: true, NeedsEmailVerification: true}, nil
	}

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "app.example.com")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "did not arrive")

	// The credential was still stored: the account exists even though the
	// verification round trip stalled.
	stored, getErr := h.store.Get(t.Context(), "app.example.com")
	require.NoError(t, getErr)
	assert.NotNil(t, stored)
}

func TestIdentityWithoutEmailCannotRegister(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "")

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "app.example.com")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no email address")
	assert.Equal(t, 0, h.browser.browserCalls())
}

func TestConcurrentCallsForSamePairShareOneFlight(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "a@example.com")
	h.addCredential("github.com")
	h.browser.block = 50 * time.Millisecond

	const callers = 8
	results := make([]*schemas.AuthResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			result, err := h.svc.AuthenticateOnService(context.Background(), "agent-1", "github.com")
			assert.NoError(t, err)
			results[slot] = result
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.browser.maxInFlight.Load(),
		"at most one browser operation may be in flight per (agent, service)")
	assert.Equal(t, 1, h.browser.loginCount(), "duplicate callers share the single flight's result")
	for _, result := range results {
		require.NotNil(t, result)
		assert.True(t, result.Success)
	}
}

func TestDifferentServicesDoNotShareFlights(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "a@example.com")
	h.addCredential("github.com")
	h.addCredential("gitlab.com")

	var wg sync.WaitGroup
	for _, target := range []string{"github.com", "gitlab.com"} {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			result, err := h.svc.AuthenticateOnService(context.Background(), "agent-1", url)
			assert.NoError(t, err)
			if assert.NotNil(t, result) {
				assert.True(t, result.Success)
			}
		}(target)
	}
	wg.Wait()

	assert.Equal(t, 2, h.browser.loginCount())
}

func TestInvalidURLFailsWithoutBrowser(t *testing.T) {
	h := newHarness(t)
	h.addIdentity("agent-1", "a@example.com")

	result, err := h.svc.AuthenticateOnService(t.Context(), "agent-1", "   ")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 0, h.browser.browserCalls())
}
