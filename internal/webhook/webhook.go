// Package webhook delivers fire-and-forget events to the owner's endpoint.
// Delivery failures are logged and swallowed: notification is best-effort
// and must never mask the authentication result it describes.
package webhook

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/romirom11/agentpass/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Service posts events asynchronously to a single webhook URL. A zero URL
// turns the service into a sink that only logs.
type Service struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// Option tweaks the service; only tests normally need these.
type Option func(*Service)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// NewService builds an emitter for url. ratePerSecond and burst bound
// delivery so a retry storm cannot flood the owner's channel.
func NewService(url string, timeout time.Duration, ratePerSecond float64, burst int, logger *zap.Logger, opts ...Option) *Service {
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Service{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		logger:  logger.Named("webhook"),
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Emit schedules the event for delivery and returns immediately. It never
// returns an error; whatever goes wrong ends up in the log only.
func (s *Service) Emit(ctx context.Context, event schemas.WebhookEvent) {
	if s.url == "" {
		s.logger.Debug("Webhook URL not configured; event dropped.",
			zap.String("event", event.Event))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(ctx, event)
	}()
}

// Drain blocks until every in-flight delivery has finished. Shutdown hook.
func (s *Service) Drain() {
	s.wg.Wait()
}

func (s *Service) deliver(ctx context.Context, event schemas.WebhookEvent) {
	// Detach from the caller's cancellation: the orchestration result must
	// not gate the notification, only the delivery timeout does.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		s.logger.Warn("Webhook delivery rate limited out.",
			zap.String("event", event.Event), zap.Error(err))
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to encode webhook event.",
			zap.String("event", event.Event), zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("Failed to build webhook request.",
			zap.String("event", event.Event), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("Webhook delivery failed.",
			zap.String("event", event.Event), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Warn("Webhook endpoint rejected event.",
			zap.String("event", event.Event), zap.Int("status", resp.StatusCode))
		return
	}
	s.logger.Debug("Webhook event delivered.", zap.String("event", event.Event))
}
