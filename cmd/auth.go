// File: cmd/auth.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/romirom11/agentpass/api/schemas"
	"github.com/romirom11/agentpass/internal/auth"
	"github.com/romirom11/agentpass/internal/browser"
	"github.com/romirom11/agentpass/internal/browser/selector"
	"github.com/romirom11/agentpass/internal/browser/vision"
	"github.com/romirom11/agentpass/internal/captcha"
	"github.com/romirom11/agentpass/internal/email"
	"github.com/romirom11/agentpass/internal/observability"
	"github.com/romirom11/agentpass/internal/session"
	"github.com/romirom11/agentpass/internal/webhook"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newAuthCmd creates and configures the `auth` command.
func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth <agent-id> <service-url>",
		Short: "Establish the agent's access to a service, registering an account if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := appConfig

			if strategy, _ := cmd.Flags().GetString("strategy"); strategy != "" {
				cfg.SetAuthStrategy(strategy)
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if headed, _ := cmd.Flags().GetBool("headed"); headed {
				cfg.SetBrowserHeadless(false)
			}

			agentID, serviceURL := args[0], args[1]

			v, err := openVault(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := v.Close(); closeErr != nil {
					logger.Warn("Vault close failed", zap.Error(closeErr))
				}
			}()

			sessions := session.NewService(cfg.SessionCfg.DefaultTTL, cfg.SessionCfg.SweepInterval, logger)
			defer sessions.Stop()

			events := webhook.NewService(
				cfg.WebhookCfg.URL,
				cfg.WebhookCfg.Timeout,
				cfg.WebhookCfg.RatePerSecond,
				cfg.WebhookCfg.Burst,
				logger,
			)
			defer events.Drain()

			captchaSvc := captcha.NewService(events, logger)
			inbox := email.NewCollaborator(cfg.EmailCfg.InboxURL, cfg.EmailCfg.PollInterval, logger)

			manager, err := browser.NewManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
				defer cancel()
				if shutdownErr := manager.Shutdown(shutdownCtx); shutdownErr != nil {
					logger.Warn("Browser shutdown failed", zap.Error(shutdownErr))
				}
			}()

			var ops schemas.BrowserOperations
			switch cfg.AuthCfg.Strategy {
			case "vision":
				ops = vision.New(manager, cfg.LLMCfg, logger)
			default:
				ops = selector.New(manager, logger)
			}

			orchestrator := auth.NewService(
				v, sessions, ops, captchaSvc, events, inbox,
				cfg.AuthCfg, cfg.EmailCfg, logger,
			)

			result, err := orchestrator.AuthenticateOnService(ctx, agentID, serviceURL)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to render result: %w", err)
			}
			fmt.Fprintln(os.Stdout, string(out))

			if !result.Success {
				return fmt.Errorf("authentication failed: %s", result.Error)
			}
			return nil
		},
	}

	authCmd.Flags().String("strategy", "", "browser strategy override (selector|vision)")
	authCmd.Flags().Bool("headed", false, "run the browser with a visible window")
	return authCmd
}
