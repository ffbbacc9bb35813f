// File: internal/browser/captcha_test.go
package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/romirom11/agentpass/api/schemas"
)

func TestClassifyCaptcha(t *testing.T) {
	testCases := []struct {
		name   string
		vendor string
		want   schemas.CaptchaType
	}{
		{"empty marker means no challenge", "", schemas.CaptchaNone},
		{"whitespace marker means no challenge", "  \n", schemas.CaptchaNone},
		{"recaptcha marker", "recaptcha", schemas.CaptchaRecaptcha},
		{"hcaptcha marker", "hcaptcha", schemas.CaptchaHcaptcha},
		{"turnstile marker", "turnstile", schemas.CaptchaTurnstile},
		{"generic marker", "generic", schemas.CaptchaGeneric},
		{"mixed case is normalized", "ReCaptcha", schemas.CaptchaRecaptcha},
		{"unknown marker degrades to generic", "funcaptcha", schemas.CaptchaGeneric},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyCaptcha(tc.vendor))
		})
	}
}
