// File: internal/browser/vision/actions.go
package vision

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/romirom11/agentpass/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxActionWait caps the model-requested pause so a confused model cannot
// stall the loop.
const maxActionWait = 10 * time.Second

// uiAction is one low-level browser instruction requested by the model
// through the ui_action tool.
type uiAction struct {
	Type string `json:"type"`

	// Click and drag coordinates in CSS pixels.
	X   float64 `json:"x,omitempty"`
	Y   float64 `json:"y,omitempty"`
	ToX float64 `json:"to_x,omitempty"`
	ToY float64 `json:"to_y,omitempty"`

	// Text for type actions, key name for key actions.
	Text string `json:"text,omitempty"`
	Key  string `json:"key,omitempty"`

	// Scroll deltas in pixels.
	DX int `json:"dx,omitempty"`
	DY int `json:"dy,omitempty"`

	// Wait duration in milliseconds.
	Millis int `json:"ms,omitempty"`
}

// validate checks that the action carries the fields its type requires.
func (a uiAction) validate() error {
	switch a.Type {
	case "click", "drag":
		// Coordinates of zero are suspicious but legal: the model may
		// genuinely target the viewport origin.
		return nil
	case "type":
		if a.Text == "" {
			return fmt.Errorf("type action requires text")
		}
	case "key":
		if a.Key == "" {
			return fmt.Errorf("key action requires a key name")
		}
	case "scroll":
		if a.DX == 0 && a.DY == 0 {
			return fmt.Errorf("scroll action requires dx or dy")
		}
	case "wait":
		if a.Millis <= 0 {
			return fmt.Errorf("wait action requires a positive ms value")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// execute applies the action to the live page.
func executeAction(ctx context.Context, page *browser.Page, a uiAction) error {
	if err := a.validate(); err != nil {
		return err
	}

	switch a.Type {
	case "click":
		return page.ClickAt(ctx, a.X, a.Y)
	case "type":
		return page.TypeText(ctx, a.Text)
	case "key":
		return page.PressKey(ctx, a.Key)
	case "scroll":
		return page.ScrollBy(ctx, a.DX, a.DY)
	case "drag":
		return page.Drag(ctx, a.X, a.Y, a.ToX, a.ToY)
	case "wait":
		wait := time.Duration(a.Millis) * time.Millisecond
		if wait > maxActionWait {
			wait = maxActionWait
		}
		select {
		case <-time.After(wait):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("unknown action type %q", a.Type)
}
