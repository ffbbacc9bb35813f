// File: internal/browser/vision/status_test.go
package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusBlock(t *testing.T) {
	t.Run("parses a fenced json block", func(t *testing.T) {
		response := "Task complete.\n```json\n{\"status\": \"success\"}\n```"
		block := parseStatusBlock(response)
		require.NotNil(t, block)
		assert.Equal(t, statusSuccess, block.Status)
	})

	t.Run("parses a fence without the json language tag", func(t *testing.T) {
		response := "```\n{\"status\": \"failed\", \"error\": \"form not found\"}\n```"
		block := parseStatusBlock(response)
		require.NotNil(t, block)
		assert.Equal(t, statusFailed, block.Status)
		assert.Equal(t, "form not found", block.Error)
	})

	t.Run("falls back to a loose brace scan", func(t *testing.T) {
		response := `I found a challenge widget. {"status": "captcha_detected", "captcha_type": "recaptcha"} Stopping here.`
		block := parseStatusBlock(response)
		require.NotNil(t, block)
		assert.Equal(t, statusCaptchaDetected, block.Status)
		assert.Equal(t, "recaptcha", block.CaptchaType)
	})

	t.Run("recognizes the email verification status", func(t *testing.T) {
		block := parseStatusBlock(`{"status": "needs_email_verification"}`)
		require.NotNil(t, block)
		assert.Equal(t, statusNeedsVerification, block.Status)
	})

	t.Run("commentary without json is not terminal", func(t *testing.T) {
		assert.Nil(t, parseStatusBlock("I will click the login button next."))
	})

	t.Run("unknown status values are not terminal", func(t *testing.T) {
		assert.Nil(t, parseStatusBlock(`{"status": "thinking"}`))
	})

	t.Run("malformed json is not terminal", func(t *testing.T) {
		assert.Nil(t, parseStatusBlock("```json\n{\"status\": \n```"))
	})

	t.Run("empty text is not terminal", func(t *testing.T) {
		assert.Nil(t, parseStatusBlock("   "))
	})
}
