// File: internal/browser/selector/indicators_test.go
package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasErrorIndicators(t *testing.T) {
	testCases := []struct {
		name    string
		pageURL string
		body    string
		want    bool
	}{
		{
			name:    "clean page after redirect is a success",
			pageURL: "https://app.example.com/dashboard",
			body:    "Welcome back, alice!",
			want:    false,
		},
		{
			name:    "unchanged SPA page without error copy is a success",
			pageURL: "https://app.example.com/login",
			body:    "Loading your workspace...",
			want:    false,
		},
		{
			name:    "error query token fails even after a redirect",
			pageURL: "https://app.example.com/login?error=invalid_grant",
			body:    "",
			want:    true,
		},
		{
			name:    "invalid credentials copy fails",
			pageURL: "https://app.example.com/dashboard",
			body:    "Invalid Credentials. Please try again.",
			want:    true,
		},
		{
			name:    "rejection copy is matched case-insensitively",
			pageURL: "https://app.example.com/login",
			body:    "INCORRECT PASSWORD",
			want:    true,
		},
		{
			name:    "duplicate account copy fails registration",
			pageURL: "https://app.example.com/signup",
			body:    "That email is already registered.",
			want:    true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, indicator := hasErrorIndicators(tc.pageURL, tc.body)
			assert.Equal(t, tc.want, got)
			if tc.want {
				assert.NotEmpty(t, indicator)
			}
		})
	}
}

func TestNeedsEmailVerification(t *testing.T) {
	assert.True(t, needsEmailVerification("Almost done! Please check your inbox for a link."))
	assert.True(t, needsEmailVerification("We sent a confirmation email to you."))
	assert.False(t, needsEmailVerification("Welcome to your new account."))
	assert.False(t, needsEmailVerification(""))
}

func TestSelectorCandidateOrdering(t *testing.T) {
	// Type-based candidates must come before looser name and id matches so
	// the strongest signal wins.
	assert.Equal(t, `input[type="email"]`, usernameSelectors[0])
	assert.Equal(t, `input[type="password"]`, passwordSelectors[0])
	assert.Equal(t, `button[type="submit"]`, submitSelectors[0])
}
