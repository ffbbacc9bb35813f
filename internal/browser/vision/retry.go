// File: internal/browser/vision/retry.go
package vision

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
)

// createMessage calls the model API, retrying transient upstream failures
// with exponential backoff. Non-transient errors fail immediately.
func (s *Strategy) createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := func() (*anthropic.Message, error) {
			callCtx := ctx
			if s.cfg.APITimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, s.cfg.APITimeout)
				defer cancel()
			}
			return s.client.Messages.New(callCtx, params)
		}()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTransient(err) || attempt >= s.cfg.TransientRetries {
			return nil, lastErr
		}

		wait := s.cfg.BackoffBase << attempt
		s.logger.Warn("Transient model API failure, backing off.",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// isTransient classifies upstream failures worth retrying: rate limits,
// server errors, and dropped connections.
func isTransient(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "unexpected EOF")
}
