// File: internal/browser/page_test.go
package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieSerializationOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal([]Cookie{{Name: "sid", Value: "abc123"}})
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"name":"sid"`)
	assert.Contains(t, s, `"value":"abc123"`)
	assert.NotContains(t, s, "domain")
	assert.NotContains(t, s, "httpOnly")
}

func TestNamedKeysCoverCommonFormKeys(t *testing.T) {
	for _, key := range []string{"Enter", "Tab", "Escape", "Backspace"} {
		_, ok := namedKeys[key]
		assert.True(t, ok, "missing key mapping for %s", key)
	}
}

func TestSessionTokenKeysPreferPlainToken(t *testing.T) {
	// The probe script walks these in order, so the most common key must
	// come first.
	require.NotEmpty(t, sessionTokenKeys)
	assert.Equal(t, "token", sessionTokenKeys[0])
	assert.Contains(t, sessionTokenKeys, "jwt")
}

func TestCaptchaProbeScriptChecksAllVendors(t *testing.T) {
	for _, marker := range []string{"recaptcha", "hcaptcha", "challenges.cloudflare.com", "verify you are human"} {
		assert.True(t, strings.Contains(captchaProbeScript, marker), "probe script missing %s", marker)
	}
}

func TestClosedPageRejectsOperations(t *testing.T) {
	p := &Page{closed: true}
	err := p.run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
