// File: internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cookie is the serializable view of a browser cookie captured after a
// successful attempt. The full jar is stored alongside the credential so a
// later session can be rehydrated.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// sessionTokenKeys are the localStorage keys probed for a bearer token after
// a flow succeeds. Ordered by how commonly web apps use them.
var sessionTokenKeys = []string{"token", "auth_token", "session_token", "access_token", "jwt"}

// Page is one isolated browser tab. All operations honor the caller's
// context in addition to the tab's own lifetime.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	navWait time.Duration
	settle  time.Duration
	done    func()

	mu     sync.Mutex
	closed bool
}

// run executes chromedp actions against the tab while honoring cancellation
// of the caller's context.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("page is closed")
	}
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Navigate loads a URL and waits for the document body to be ready.
func (p *Page) Navigate(ctx context.Context, url string) error {
	navCtx := ctx
	if p.navWait > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, p.navWait)
		defer cancel()
	}

	err := p.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(p.settle),
	)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL returns the tab's current location.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Screenshot captures the visible viewport as PNG bytes.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// ClickAt dispatches a left click at viewport coordinates and waits for the
// page to settle.
func (p *Page) ClickAt(ctx context.Context, x, y float64) error {
	return p.run(ctx,
		chromedp.MouseClickXY(x, y),
		chromedp.Sleep(p.settle),
	)
}

// TypeText sends keystrokes to whatever element currently holds focus.
func (p *Page) TypeText(ctx context.Context, text string) error {
	return p.run(ctx,
		chromedp.KeyEvent(text),
		chromedp.Sleep(p.settle),
	)
}

// PressKey dispatches a single named key such as "Enter" or "Tab".
func (p *Page) PressKey(ctx context.Context, key string) error {
	code, ok := namedKeys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return p.run(ctx,
		chromedp.KeyEvent(code),
		chromedp.Sleep(p.settle),
	)
}

// Drag presses at the start point, moves, and releases at the end point.
func (p *Page) Drag(ctx context.Context, fromX, fromY, toX, toY float64) error {
	return p.run(ctx,
		chromedp.ActionFunc(func(c context.Context) error {
			press := input.DispatchMouseEvent(input.MousePressed, fromX, fromY).
				WithButton(input.Left).WithClickCount(1)
			if err := press.Do(c); err != nil {
				return err
			}
			move := input.DispatchMouseEvent(input.MouseMoved, toX, toY).
				WithButton(input.Left)
			if err := move.Do(c); err != nil {
				return err
			}
			release := input.DispatchMouseEvent(input.MouseReleased, toX, toY).
				WithButton(input.Left).WithClickCount(1)
			return release.Do(c)
		}),
		chromedp.Sleep(p.settle),
	)
}

var namedKeys = map[string]string{
	"Enter":     kb.Enter,
	"Tab":       kb.Tab,
	"Escape":    kb.Escape,
	"Backspace": kb.Backspace,
	"ArrowDown": kb.ArrowDown,
	"ArrowUp":   kb.ArrowUp,
	"PageDown":  kb.PageDown,
	"PageUp":    kb.PageUp,
}

// ScrollBy scrolls the viewport by the given pixel deltas.
func (p *Page) ScrollBy(ctx context.Context, dx, dy int) error {
	expr := fmt.Sprintf("window.scrollBy(%d, %d)", dx, dy)
	return p.run(ctx,
		chromedp.Evaluate(expr, nil),
		chromedp.Sleep(p.settle),
	)
}

// Evaluate runs a JavaScript expression in the page, unmarshaling the result
// into out when out is non-nil.
func (p *Page) Evaluate(ctx context.Context, expr string, out any) error {
	return p.run(ctx, chromedp.Evaluate(expr, out))
}

// FirstVisible returns the first candidate selector that matches a visible
// element, or an empty string when none do.
func (p *Page) FirstVisible(ctx context.Context, candidates []string) (string, error) {
	encoded, err := json.Marshal(candidates)
	if err != nil {
		return "", err
	}
	expr := fmt.Sprintf(`
		(() => {
			for (const sel of %s) {
				let el;
				try { el = document.querySelector(sel); } catch (e) { continue; }
				if (el && el.offsetParent !== null) return sel;
			}
			return "";
		})()
	`, string(encoded))

	var match string
	if err := p.Evaluate(ctx, expr, &match); err != nil {
		return "", fmt.Errorf("selector probe failed: %w", err)
	}
	return match, nil
}

// Fill clears the element matched by sel and types value into it.
func (p *Page) Fill(ctx context.Context, sel, value string) error {
	err := p.run(ctx,
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
		chromedp.Sleep(p.settle),
	)
	if err != nil {
		return fmt.Errorf("failed to fill %q: %w", sel, err)
	}
	return nil
}

// ClickSelector clicks the first visible element matched by sel.
func (p *Page) ClickSelector(ctx context.Context, sel string) error {
	err := p.run(ctx,
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Sleep(p.settle),
	)
	if err != nil {
		return fmt.Errorf("failed to click %q: %w", sel, err)
	}
	return nil
}

// BodyText returns the page's rendered text content.
func (p *Page) BodyText(ctx context.Context) (string, error) {
	var text string
	expr := `document.body ? document.body.innerText : ""`
	if err := p.Evaluate(ctx, expr, &text); err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

// Cookies serializes the tab's full cookie jar to JSON. An empty jar yields
// an empty string.
func (p *Page) Cookies(ctx context.Context) (string, error) {
	var cookies []Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		raw, err := storage.GetCookies().Do(c)
		if err != nil {
			return err
		}
		for _, rc := range raw {
			cookies = append(cookies, Cookie{
				Name:     rc.Name,
				Value:    rc.Value,
				Domain:   rc.Domain,
				Path:     rc.Path,
				Expires:  rc.Expires,
				HTTPOnly: rc.HTTPOnly,
				Secure:   rc.Secure,
			})
		}
		return nil
	}))
	if err != nil {
		return "", fmt.Errorf("failed to collect cookies: %w", err)
	}
	if len(cookies) == 0 {
		return "", nil
	}

	data, err := json.Marshal(cookies)
	if err != nil {
		return "", fmt.Errorf("failed to serialize cookies: %w", err)
	}
	return string(data), nil
}

// SessionToken probes localStorage for a bearer token under the well known
// key names. Returns an empty string when none is present.
func (p *Page) SessionToken(ctx context.Context) (string, error) {
	keys, err := json.Marshal(sessionTokenKeys)
	if err != nil {
		return "", err
	}
	expr := fmt.Sprintf(`
		(() => {
			for (const k of %s) {
				const v = window.localStorage.getItem(k);
				if (v) return v;
			}
			return "";
		})()
	`, string(keys))

	var token string
	if err := p.Evaluate(ctx, expr, &token); err != nil {
		return "", fmt.Errorf("localStorage probe failed: %w", err)
	}
	return token, nil
}

// Close tears down the tab and releases its slot in the manager.
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()
	if p.done != nil {
		p.done()
	}
}
