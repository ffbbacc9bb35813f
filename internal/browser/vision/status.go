// File: internal/browser/vision/status.go
package vision

import (
	"fmt"
	"regexp"
	"strings"
)

// Terminal statuses the model is instructed to emit.
const (
	statusSuccess           = "success"
	statusCaptchaDetected   = "captcha_detected"
	statusFailed            = "failed"
	statusNeedsVerification = "needs_email_verification"
)

// statusBlock is the structured terminator the model must produce to end the
// loop. Everything else in its text output is commentary.
type statusBlock struct {
	Status      string `json:"status"`
	CaptchaType string `json:"captcha_type,omitempty"`
	Error       string `json:"error,omitempty"`
}

// A regex to robustly extract a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// parseStatusBlock extracts a terminal status block from the model's text
// output, handling markdown code blocks or raw JSON. Returns nil when the
// text carries no parsable block with a known status.
func parseStatusBlock(response string) *statusBlock {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil
	}

	var candidate string
	matches := jsonBlockRegex.FindStringSubmatch(response)
	if len(matches) > 1 {
		candidate = strings.TrimSpace(matches[1])
	} else {
		firstBracket := strings.Index(response, "{")
		lastBracket := strings.LastIndex(response, "}")
		if firstBracket == -1 || lastBracket <= firstBracket {
			return nil
		}
		candidate = response[firstBracket : lastBracket+1]
	}

	var block statusBlock
	if err := json.Unmarshal([]byte(candidate), &block); err != nil {
		return nil
	}

	switch block.Status {
	case statusSuccess, statusCaptchaDetected, statusFailed, statusNeedsVerification:
		return &block
	default:
		return nil
	}
}
