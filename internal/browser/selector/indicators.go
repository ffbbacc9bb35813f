// File: internal/browser/selector/indicators.go
package selector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/romirom11/agentpass/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errorTextIndicators are rendered phrases that mark a rejected attempt.
// Matching is case-insensitive against the page's visible text.
var errorTextIndicators = []string{
	"invalid credentials",
	"invalid email or password",
	"invalid username or password",
	"incorrect password",
	"incorrect username",
	"wrong password",
	"login failed",
	"authentication failed",
	"account not found",
	"user not found",
	"email already in use",
	"already registered",
	"too many attempts",
	"please try again",
}

// verificationIndicators mark a registration that parked itself waiting for
// an email confirmation.
var verificationIndicators = []string{
	"verify your email",
	"check your email",
	"check your inbox",
	"confirmation link",
	"confirmation email",
	"verification email",
	"activate your account",
}

// hasErrorIndicators reports whether the landed page carries a rejection
// signal, either an error token in the URL query or known error copy in the
// page text. The matched indicator is returned for logging.
func hasErrorIndicators(pageURL, bodyText string) (bool, string) {
	if u, err := url.Parse(pageURL); err == nil {
		query := u.Query()
		for _, key := range []string{"error", "error_description", "login_error"} {
			if query.Has(key) {
				return true, fmt.Sprintf("%s= query token", key)
			}
		}
	}

	lower := strings.ToLower(bodyText)
	for _, indicator := range errorTextIndicators {
		if strings.Contains(lower, indicator) {
			return true, fmt.Sprintf("%q page text", indicator)
		}
	}
	return false, ""
}

// needsEmailVerification reports whether the page asks for an inbox round
// trip before the account becomes usable.
func needsEmailVerification(bodyText string) bool {
	lower := strings.ToLower(bodyText)
	for _, indicator := range verificationIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// clickButtonByText clicks the first visible button-like element whose text
// matches one of the candidates. This is the last resort after CSS selector
// candidates come up empty.
func clickButtonByText(ctx context.Context, page *browser.Page, texts []string) (bool, error) {
	encoded, err := json.Marshal(texts)
	if err != nil {
		return false, err
	}
	expr := fmt.Sprintf(`
		(() => {
			const wanted = %s;
			const candidates = document.querySelectorAll('button, input[type="button"], a[role="button"], a');
			for (const el of candidates) {
				if (el.offsetParent === null) continue;
				const label = (el.innerText || el.value || '').trim().toLowerCase();
				if (!label) continue;
				if (wanted.some((w) => label === w || label.startsWith(w))) {
					el.click();
					return true;
				}
			}
			return false;
		})()
	`, string(encoded))

	var clicked bool
	if err := page.Evaluate(ctx, expr, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}
