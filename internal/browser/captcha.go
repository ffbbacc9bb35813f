// File: internal/browser/captcha.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/romirom11/agentpass/api/schemas"
)

// captchaProbeScript inspects the live DOM for challenge widgets. It reports
// the first vendor marker it finds; the generic text probe runs last because
// vendor iframes are a much stronger signal than page copy.
const captchaProbeScript = `
	(() => {
		const q = (sel) => document.querySelector(sel) !== null;
		if (q('iframe[src*="recaptcha"]') || q('.g-recaptcha') || typeof window.grecaptcha !== 'undefined') {
			return 'recaptcha';
		}
		if (q('iframe[src*="hcaptcha"]') || q('.h-captcha') || typeof window.hcaptcha !== 'undefined') {
			return 'hcaptcha';
		}
		if (q('iframe[src*="challenges.cloudflare.com"]') || q('.cf-turnstile') || typeof window.turnstile !== 'undefined') {
			return 'turnstile';
		}
		const text = (document.body && document.body.innerText || '').toLowerCase();
		if (text.includes('verify you are human') || text.includes('prove you are not a robot') || text.includes('complete the captcha')) {
			return 'generic';
		}
		return '';
	})()
`

// ScanCaptcha probes the current page for a challenge widget.
func (p *Page) ScanCaptcha(ctx context.Context) (schemas.CaptchaType, bool, error) {
	var vendor string
	if err := p.Evaluate(ctx, captchaProbeScript, &vendor); err != nil {
		return schemas.CaptchaNone, false, fmt.Errorf("captcha probe failed: %w", err)
	}
	t := ClassifyCaptcha(vendor)
	return t, t != schemas.CaptchaNone, nil
}

// ClassifyCaptcha maps a probe result onto the known challenge vendors.
// Unknown non-empty markers degrade to the generic type rather than being
// silently dropped.
func ClassifyCaptcha(vendor string) schemas.CaptchaType {
	switch strings.TrimSpace(strings.ToLower(vendor)) {
	case "":
		return schemas.CaptchaNone
	case "recaptcha":
		return schemas.CaptchaRecaptcha
	case "hcaptcha":
		return schemas.CaptchaHcaptcha
	case "turnstile":
		return schemas.CaptchaTurnstile
	default:
		return schemas.CaptchaGeneric
	}
}
