// Package email implements the narrow inbox contract the orchestrator needs
// for account verification: wait for an inbound message, pull the
// verification link out of it. The inbox itself is external infrastructure
// reached over a small REST surface.
package email

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/romirom11/agentpass/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// verificationLinkRegex matches URLs whose path or query suggests account
// verification. Tried before the generic fallback so marketing links in the
// same message do not win.
var (
	verificationLinkRegex = regexp.MustCompile(`https?://[^\s"'<>]*(?:verif|confirm|activat|validate)[^\s"'<>]*`)
	anyLinkRegex          = regexp.MustCompile(`https?://[^\s"'<>]+`)
)

// Collaborator polls a REST inbox endpoint for inbound messages.
type Collaborator struct {
	inboxURL     string
	pollInterval time.Duration
	client       *http.Client
	logger       *zap.Logger

	mu   sync.RWMutex
	seen map[string]*schemas.InboundEmail
}

// NewCollaborator builds an inbox poller against inboxURL.
func NewCollaborator(inboxURL string, pollInterval time.Duration, logger *zap.Logger) *Collaborator {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Collaborator{
		inboxURL:     inboxURL,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: 15 * time.Second},
		logger:       logger.Named("email"),
		seen:         make(map[string]*schemas.InboundEmail),
	}
}

// WaitForEmail polls the inbox until a message addressed to address shows up
// or the timeout elapses. A nil email with a nil error means nothing arrived
// in time.
func (c *Collaborator) WaitForEmail(ctx context.Context, address string, timeout time.Duration) (*schemas.InboundEmail, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.logger.Info("Waiting for inbound email.",
		zap.String("address", address), zap.Duration("timeout", timeout))

	for {
		msg, err := c.fetchLatest(ctx, address)
		if err != nil {
			c.logger.Warn("Inbox poll failed.", zap.Error(err))
		} else if msg != nil {
			c.mu.Lock()
			c.seen[msg.ID] = msg
			c.mu.Unlock()
			return msg, nil
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, nil
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExtractVerificationLink pulls the account verification URL out of a
// message previously returned by WaitForEmail. Empty string means the
// message carried no usable link.
func (c *Collaborator) ExtractVerificationLink(_ context.Context, emailID string) (string, error) {
	c.mu.RLock()
	msg, ok := c.seen[emailID]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("email: unknown message id %q", emailID)
	}

	for _, body := range []string{msg.HTML, msg.Body} {
		if link := verificationLinkRegex.FindString(body); link != "" {
			return link, nil
		}
	}
	// Fall back to the first link in the message.
	for _, body := range []string{msg.HTML, msg.Body} {
		if link := anyLinkRegex.FindString(body); link != "" {
			return link, nil
		}
	}
	return "", nil
}

func (c *Collaborator) fetchLatest(ctx context.Context, address string) (*schemas.InboundEmail, error) {
	endpoint := fmt.Sprintf("%s/messages?to=%s", c.inboxURL, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("email: inbox returned status %d", resp.StatusCode)
	}

	var messages []schemas.InboundEmail
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("email: failed to decode inbox response: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}

	// Newest first; the inbox may or may not sort, so pick by timestamp.
	latest := messages[0]
	for _, m := range messages[1:] {
		if m.SentAt.After(latest.SentAt) {
			latest = m
		}
	}
	return &latest, nil
}
