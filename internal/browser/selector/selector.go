// File: internal/browser/selector/selector.go

// Package selector drives login and registration forms through ordered CSS
// selector candidates. It is the default automation strategy: cheap, fast,
// and good enough for conventional form-based auth pages.
package selector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/romirom11/agentpass/api/schemas"
	"github.com/romirom11/agentpass/internal/browser"
)

// Candidate selectors per semantic field, ordered strongest signal first:
// type-based CSS, then name-based, then looser id matches.
var (
	usernameSelectors = []string{
		`input[type="email"]`,
		`input[autocomplete="username"]`,
		`input[name="email"]`,
		`input[name="username"]`,
		`input[name="login"]`,
		`input[id*="email" i]`,
		`input[id*="user" i]`,
		`input[type="text"]`,
	}
	passwordSelectors = []string{
		`input[type="password"]`,
		`input[name="password"]`,
		`input[id*="pass" i]`,
	}
	submitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`button[id*="login" i]`,
		`button[id*="submit" i]`,
		`form button`,
	}
	nameSelectors = []string{
		`input[autocomplete="name"]`,
		`input[name="name"]`,
		`input[name="full_name"]`,
		`input[id*="name" i]:not([id*="user" i])`,
	}
	confirmPasswordSelectors = []string{
		`input[name="password_confirmation"]`,
		`input[name="confirm_password"]`,
		`input[type="password"][id*="confirm" i]`,
	}
)

var (
	loginButtonTexts    = []string{"log in", "login", "sign in", "continue", "submit"}
	registerButtonTexts = []string{"sign up", "register", "create account", "get started", "continue", "submit"}
)

// Strategy implements schemas.BrowserOperations with selector probing.
type Strategy struct {
	manager *browser.Manager
	logger  *zap.Logger
}

var _ schemas.BrowserOperations = (*Strategy)(nil)

// New builds a selector driven strategy on top of a running browser manager.
func New(manager *browser.Manager, logger *zap.Logger) *Strategy {
	return &Strategy{
		manager: manager,
		logger:  logger.Named("selector_strategy"),
	}
}

// Login performs a single login attempt against url. Retry policy lives in
// the caller; this method reports one attempt's outcome.
func (s *Strategy) Login(ctx context.Context, url string, creds schemas.LoginCredentials) (*schemas.LoginResult, error) {
	page, err := s.manager.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, url); err != nil {
		return s.failLogin(ctx, page, fmt.Sprintf("navigation failed: %v", err)), nil
	}

	if result := s.loginCaptchaCheck(ctx, page); result != nil {
		return result, nil
	}

	// A verification link visit carries its proof in the URL itself. There
	// is no form to fill; just let the page process the token.
	if creds.Username == "" && creds.Password == "" {
		return s.judgeLogin(ctx, page, url)
	}

	userSel, err := page.FirstVisible(ctx, usernameSelectors)
	if err != nil {
		return s.failLogin(ctx, page, fmt.Sprintf("selector probe failed: %v", err)), nil
	}
	if userSel == "" {
		return s.failLogin(ctx, page, "could not find email input"), nil
	}
	if err := page.Fill(ctx, userSel, creds.Username); err != nil {
		return s.failLogin(ctx, page, fmt.Sprintf("could not fill email input: %v", err)), nil
	}

	passSel, err := page.FirstVisible(ctx, passwordSelectors)
	if err != nil {
		return s.failLogin(ctx, page, fmt.Sprintf("selector probe failed: %v", err)), nil
	}
	if passSel == "" {
		return s.failLogin(ctx, page, "could not find password input"), nil
	}
	if err := page.Fill(ctx, passSel, creds.Password); err != nil {
		return s.failLogin(ctx, page, fmt.Sprintf("could not fill password input: %v", err)), nil
	}

	if err := s.submit(ctx, page, loginButtonTexts); err != nil {
		return s.failLogin(ctx, page, err.Error()), nil
	}

	// CAPTCHA can appear only after submission.
	if result := s.loginCaptchaCheck(ctx, page); result != nil {
		return result, nil
	}

	return s.judgeLogin(ctx, page, url)
}

// Register performs a single registration attempt against url.
func (s *Strategy) Register(ctx context.Context, url string, profile schemas.RegistrationProfile) (*schemas.RegisterResult, error) {
	page, err := s.manager.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, url); err != nil {
		return s.failRegister(ctx, page, fmt.Sprintf("navigation failed: %v", err)), nil
	}

	if result := s.registerCaptchaCheck(ctx, page); result != nil {
		return result, nil
	}

	emailSel, err := page.FirstVisible(ctx, usernameSelectors)
	if err != nil {
		return s.failRegister(ctx, page, fmt.Sprintf("selector probe failed: %v", err)), nil
	}
	if emailSel == "" {
		return s.failRegister(ctx, page, "could not find email input"), nil
	}
	if err := page.Fill(ctx, emailSel, profile.Email); err != nil {
		return s.failRegister(ctx, page, fmt.Sprintf("could not fill email input: %v", err)), nil
	}

	// Display name is optional on most signup forms.
	if profile.Name != "" {
		if nameSel, _ := page.FirstVisible(ctx, nameSelectors); nameSel != "" {
			if err := page.Fill(ctx, nameSel, profile.Name); err != nil {
				s.logger.Debug("Could not fill name input.", zap.Error(err))
			}
		}
	}

	passSel, err := page.FirstVisible(ctx, passwordSelectors)
	if err != nil {
		return s.failRegister(ctx, page, fmt.Sprintf("selector probe failed: %v", err)), nil
	}
	if passSel == "" {
		return s.failRegister(ctx, page, "could not find password input"), nil
	}
	if err := page.Fill(ctx, passSel, profile.Password); err != nil {
		return s.failRegister(ctx, page, fmt.Sprintf("could not fill password input: %v", err)), nil
	}

	if confirmSel, _ := page.FirstVisible(ctx, confirmPasswordSelectors); confirmSel != "" && confirmSel != passSel {
		if err := page.Fill(ctx, confirmSel, profile.Password); err != nil {
			s.logger.Debug("Could not fill password confirmation input.", zap.Error(err))
		}
	}

	if err := s.submit(ctx, page, registerButtonTexts); err != nil {
		return s.failRegister(ctx, page, err.Error()), nil
	}

	if result := s.registerCaptchaCheck(ctx, page); result != nil {
		return result, nil
	}

	return s.judgeRegister(ctx, page, url, profile)
}

// submit clicks the form's submit control, falling back from CSS candidates
// to visible button text matching.
func (s *Strategy) submit(ctx context.Context, page *browser.Page, buttonTexts []string) error {
	sel, err := page.FirstVisible(ctx, submitSelectors)
	if err != nil {
		return fmt.Errorf("selector probe failed: %v", err)
	}
	if sel != "" {
		if err := page.ClickSelector(ctx, sel); err != nil {
			return fmt.Errorf("could not click submit button: %v", err)
		}
		return nil
	}

	clicked, err := clickButtonByText(ctx, page, buttonTexts)
	if err != nil {
		return fmt.Errorf("button text probe failed: %v", err)
	}
	if !clicked {
		return fmt.Errorf("could not find submit button")
	}
	return nil
}

// judgeLogin decides whether a submitted login landed. Error indicators
// override everything else: a changed URL with an error token is still a
// failure, while an unchanged URL with a clean page is an SPA-style success.
func (s *Strategy) judgeLogin(ctx context.Context, page *browser.Page, originalURL string) (*schemas.LoginResult, error) {
	currentURL, err := page.CurrentURL(ctx)
	if err != nil {
		return s.failLogin(ctx, page, fmt.Sprintf("could not read page location: %v", err)), nil
	}
	bodyText, err := page.BodyText(ctx)
	if err != nil {
		return s.failLogin(ctx, page, fmt.Sprintf("could not read page text: %v", err)), nil
	}

	if failed, indicator := hasErrorIndicators(currentURL, bodyText); failed {
		s.logger.Debug("Login attempt rejected by the page.",
			zap.String("indicator", indicator),
			zap.Bool("url_changed", currentURL != originalURL),
		)
		return s.failLogin(ctx, page, fmt.Sprintf("login rejected: %s", indicator)), nil
	}

	result := &schemas.LoginResult{Success: true}
	s.harvestSession(ctx, page, &result.SessionToken, &result.Cookies)
	return result, nil
}

func (s *Strategy) judgeRegister(ctx context.Context, page *browser.Page, originalURL string, profile schemas.RegistrationProfile) (*schemas.RegisterResult, error) {
	currentURL, err := page.CurrentURL(ctx)
	if err != nil {
		return s.failRegister(ctx, page, fmt.Sprintf("could not read page location: %v", err)), nil
	}
	bodyText, err := page.BodyText(ctx)
	if err != nil {
		return s.failRegister(ctx, page, fmt.Sprintf("could not read page text: %v", err)), nil
	}

	if failed, indicator := hasErrorIndicators(currentURL, bodyText); failed {
		s.logger.Debug("Registration attempt rejected by the page.",
			zap.String("indicator", indicator),
			zap.Bool("url_changed", currentURL != originalURL),
		)
		return s.failRegister(ctx, page, fmt.Sprintf("registration rejected: %s", indicator)), nil
	}

	result := &schemas.RegisterResult{
		Success:                true,
		NeedsEmailVerification: needsEmailVerification(bodyText),
		Credentials: &schemas.Credential{
			Username: profile.Email,
			Password: profile.Password,
			Email:    profile.Email,
		},
	}
	s.harvestSession(ctx, page, &result.SessionToken, &result.Cookies)
	return result, nil
}

// harvestSession is best effort; a missing token or cookie jar never fails
// an otherwise successful attempt.
func (s *Strategy) harvestSession(ctx context.Context, page *browser.Page, token, cookies *string) {
	if tok, err := page.SessionToken(ctx); err != nil {
		s.logger.Debug("Session token probe failed.", zap.Error(err))
	} else {
		*token = tok
	}
	if jar, err := page.Cookies(ctx); err != nil {
		s.logger.Debug("Cookie harvest failed.", zap.Error(err))
	} else {
		*cookies = jar
	}
}

// loginCaptchaCheck scans the page and, when a challenge is present, builds
// the abort result with an escalation screenshot.
func (s *Strategy) loginCaptchaCheck(ctx context.Context, page *browser.Page) *schemas.LoginResult {
	captchaType, found, err := page.ScanCaptcha(ctx)
	if err != nil {
		s.logger.Debug("CAPTCHA scan failed.", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	return &schemas.LoginResult{
		CaptchaDetected: true,
		CaptchaType:     captchaType,
		Screenshot:      s.bestEffortScreenshot(ctx, page),
		Error:           "captcha challenge present",
	}
}

func (s *Strategy) registerCaptchaCheck(ctx context.Context, page *browser.Page) *schemas.RegisterResult {
	captchaType, found, err := page.ScanCaptcha(ctx)
	if err != nil {
		s.logger.Debug("CAPTCHA scan failed.", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	return &schemas.RegisterResult{
		CaptchaDetected: true,
		CaptchaType:     captchaType,
		Screenshot:      s.bestEffortScreenshot(ctx, page),
		Error:           "captcha challenge present",
	}
}

func (s *Strategy) failLogin(ctx context.Context, page *browser.Page, msg string) *schemas.LoginResult {
	return &schemas.LoginResult{
		Error:      msg,
		Screenshot: s.bestEffortScreenshot(ctx, page),
	}
}

func (s *Strategy) failRegister(ctx context.Context, page *browser.Page, msg string) *schemas.RegisterResult {
	return &schemas.RegisterResult{
		Error:      msg,
		Screenshot: s.bestEffortScreenshot(ctx, page),
	}
}

// bestEffortScreenshot never fails the attempt; a broken renderer just means
// no screenshot attaches to the result.
func (s *Strategy) bestEffortScreenshot(ctx context.Context, page *browser.Page) []byte {
	shot, err := page.Screenshot(ctx)
	if err != nil {
		s.logger.Debug("Screenshot capture failed.", zap.Error(err))
		return nil
	}
	return shot
}
