// File: internal/browser/vision/vision.go

// Package vision drives login and registration through a vision-capable
// model. Each turn the model sees a screenshot and requests low-level UI
// actions; the loop executes them against the live page, re-screenshots, and
// feeds the result back until the model emits a terminal status block or the
// iteration cap is hit.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/romirom11/agentpass/api/schemas"
	"github.com/romirom11/agentpass/internal/browser"
	"github.com/romirom11/agentpass/internal/config"
)

const systemPrompt = `You are a browser automation operator. You see screenshots of a live web page and act through the ui_action tool.

Rules:
1. Examine the current screenshot carefully before acting.
2. Request one or a few ui_action calls per turn; after each action you receive a fresh screenshot.
3. NEVER attempt to solve a CAPTCHA or human-verification challenge. If you see one, stop and report it.
4. When the task is finished, or cannot be finished, reply with ONLY a JSON status block:
` + "```json\n" + `{"status": "success" | "captcha_detected" | "failed" | "needs_email_verification", "captcha_type": "<vendor, when applicable>", "error": "<reason, when failed>"}
` + "```"

// Strategy implements schemas.BrowserOperations by driving the page through
// a vision model.
type Strategy struct {
	manager *browser.Manager
	client  anthropic.Client
	cfg     config.LLMConfig
	logger  *zap.Logger
}

var _ schemas.BrowserOperations = (*Strategy)(nil)

// New builds a vision driven strategy on top of a running browser manager.
func New(manager *browser.Manager, cfg config.LLMConfig, logger *zap.Logger) *Strategy {
	return &Strategy{
		manager: manager,
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:     cfg,
		logger:  logger.Named("vision_strategy"),
	}
}

// uiActionTool declares the single tool the model acts through.
var uiActionTool = anthropic.ToolUnionParam{
	OfTool: &anthropic.ToolParam{
		Name:        "ui_action",
		Description: anthropic.String("Execute one low-level UI action against the live browser page."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"type": map[string]any{
					"type":        "string",
					"enum":        []string{"click", "type", "key", "scroll", "drag", "wait"},
					"description": "The kind of action to perform.",
				},
				"x":    map[string]any{"type": "number", "description": "X coordinate in CSS pixels for click and drag start."},
				"y":    map[string]any{"type": "number", "description": "Y coordinate in CSS pixels for click and drag start."},
				"to_x": map[string]any{"type": "number", "description": "Drag end X coordinate."},
				"to_y": map[string]any{"type": "number", "description": "Drag end Y coordinate."},
				"text": map[string]any{"type": "string", "description": "Text to type into the focused element."},
				"key":  map[string]any{"type": "string", "description": "Named key to press, e.g. Enter or Tab."},
				"dx":   map[string]any{"type": "integer", "description": "Horizontal scroll delta in pixels."},
				"dy":   map[string]any{"type": "integer", "description": "Vertical scroll delta in pixels."},
				"ms":   map[string]any{"type": "integer", "description": "Milliseconds to wait."},
			},
			Required: []string{"type"},
		},
	},
}

// Login performs a single model-driven login attempt against url.
func (s *Strategy) Login(ctx context.Context, url string, creds schemas.LoginCredentials) (*schemas.LoginResult, error) {
	page, err := s.manager.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, url); err != nil {
		return &schemas.LoginResult{Error: fmt.Sprintf("navigation failed: %v", err)}, nil
	}

	var task string
	if creds.Username == "" && creds.Password == "" {
		task = fmt.Sprintf("This page at %s was opened from an email verification link. Confirm the verification completed (follow any confirmation button if one is shown) and report the outcome.", url)
	} else {
		task = fmt.Sprintf("Log in to the service at %s using username %q and password %q. Find the login form, fill it, and submit it.", url, creds.Username, creds.Password)
	}

	outcome := s.runLoop(ctx, page, task, s.cfg.LoginIterations)

	result := &schemas.LoginResult{}
	switch outcome.status {
	case statusSuccess:
		result.Success = true
		s.harvestSession(ctx, page, &result.SessionToken, &result.Cookies)
	case statusCaptchaDetected:
		result.CaptchaDetected = true
		result.CaptchaType = outcome.captchaType
		result.Screenshot = s.bestEffortScreenshot(ctx, page)
		result.Error = "captcha challenge present"
	default:
		result.Error = outcome.errText
		result.Screenshot = s.bestEffortScreenshot(ctx, page)
	}
	return result, nil
}

// Register performs a single model-driven registration attempt against url.
func (s *Strategy) Register(ctx context.Context, url string, profile schemas.RegistrationProfile) (*schemas.RegisterResult, error) {
	page, err := s.manager.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, url); err != nil {
		return &schemas.RegisterResult{Error: fmt.Sprintf("navigation failed: %v", err)}, nil
	}

	task := fmt.Sprintf("Create a new account on the service at %s with email %q and password %q.", url, profile.Email, profile.Password)
	if profile.Name != "" {
		task += fmt.Sprintf(" Use %q as the display name if the form asks for one.", profile.Name)
	}
	task += ` If the site says it sent a verification email, report status "needs_email_verification".`

	outcome := s.runLoop(ctx, page, task, s.cfg.RegisterIterations)

	result := &schemas.RegisterResult{}
	switch outcome.status {
	case statusSuccess, statusNeedsVerification:
		result.Success = true
		result.NeedsEmailVerification = outcome.status == statusNeedsVerification
		result.Credentials = &schemas.Credential{
			Username: profile.Email,
			Password: profile.Password,
			Email:    profile.Email,
		}
		s.harvestSession(ctx, page, &result.SessionToken, &result.Cookies)
	case statusCaptchaDetected:
		result.CaptchaDetected = true
		result.CaptchaType = outcome.captchaType
		result.Screenshot = s.bestEffortScreenshot(ctx, page)
		result.Error = "captcha challenge present"
	default:
		result.Error = outcome.errText
		result.Screenshot = s.bestEffortScreenshot(ctx, page)
	}
	return result, nil
}

// loopOutcome is the normalized end state of one agentic loop run.
type loopOutcome struct {
	status      string
	captchaType schemas.CaptchaType
	errText     string
}

func failedOutcome(format string, args ...any) loopOutcome {
	return loopOutcome{status: statusFailed, errText: fmt.Sprintf(format, args...)}
}

// runLoop executes the screenshot/act/observe conversation until the model
// emits a status block, a CAPTCHA is scanned on the page, or the iteration
// cap is reached.
func (s *Strategy) runLoop(ctx context.Context, page *browser.Page, task string, maxIterations int) loopOutcome {
	shot, err := page.Screenshot(ctx)
	if err != nil {
		return failedOutcome("initial screenshot failed: %v", err)
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(
			anthropic.NewTextBlock(task),
			anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(shot)),
		),
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(s.cfg.Model),
			MaxTokens: int64(s.cfg.MaxTokens),
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages:  messages,
			Tools:     []anthropic.ToolUnionParam{uiActionTool},
		}

		resp, err := s.createMessage(ctx, params)
		if err != nil {
			return failedOutcome("model request failed: %v", err)
		}

		var text string
		var toolUses []anthropic.ToolUseBlock
		for _, block := range resp.Content {
			switch b := block.AsAny().(type) {
			case anthropic.TextBlock:
				text += b.Text
			case anthropic.ToolUseBlock:
				toolUses = append(toolUses, b)
			}
		}

		if status := parseStatusBlock(text); status != nil {
			s.logger.Debug("Model emitted terminal status.",
				zap.String("status", status.Status),
				zap.Int("iteration", iteration),
			)
			return loopOutcome{
				status:      status.Status,
				captchaType: browser.ClassifyCaptcha(status.CaptchaType),
				errText:     status.Error,
			}
		}

		messages = append(messages, resp.ToParam())

		if len(toolUses) == 0 {
			// No actions and no status block. Nudge once per turn; the
			// iteration cap still bounds the whole exchange.
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock("Act through the ui_action tool, or finish with the JSON status block."),
			))
			continue
		}

		var resultBlocks []anthropic.ContentBlockParamUnion
		for _, use := range toolUses {
			feedback, captcha := s.executeToolUse(ctx, page, use)
			if captcha != nil {
				return *captcha
			}
			resultBlocks = append(resultBlocks, feedback)
		}

		shot, err := page.Screenshot(ctx)
		if err != nil {
			return failedOutcome("screenshot failed: %v", err)
		}
		resultBlocks = append(resultBlocks,
			anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(shot)),
		)
		messages = append(messages, anthropic.NewUserMessage(resultBlocks...))
	}

	return failedOutcome("iteration cap of %d reached without a terminal status", maxIterations)
}

// executeToolUse runs one requested action and rescans for a CAPTCHA, which
// can appear after any interaction. A non-nil second return aborts the loop.
func (s *Strategy) executeToolUse(ctx context.Context, page *browser.Page, use anthropic.ToolUseBlock) (anthropic.ContentBlockParamUnion, *loopOutcome) {
	var action uiAction
	if err := json.Unmarshal(use.Input, &action); err != nil {
		return anthropic.NewToolResultBlock(use.ID, fmt.Sprintf("invalid action payload: %v", err), true), nil
	}

	s.logger.Debug("Executing model action.", zap.String("type", action.Type))
	if err := executeAction(ctx, page, action); err != nil {
		return anthropic.NewToolResultBlock(use.ID, fmt.Sprintf("action failed: %v", err), true), nil
	}

	if captchaType, found, err := page.ScanCaptcha(ctx); err != nil {
		s.logger.Debug("CAPTCHA scan failed.", zap.Error(err))
	} else if found {
		return anthropic.ContentBlockParamUnion{}, &loopOutcome{
			status:      statusCaptchaDetected,
			captchaType: captchaType,
		}
	}

	return anthropic.NewToolResultBlock(use.ID, "action executed", false), nil
}

// harvestSession pulls the bearer token and cookie jar out of the page. Both
// probes are best effort.
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

func (s *Strategy) bestEffortScreenshot(ctx context.Context, page *browser.Page) []byte {
	shot, err := page.Screenshot(ctx)
	if err != nil {
		s.logger.Debug("Screenshot capture failed.", zap.Error(err))
		return nil
	}
	return shot
}
