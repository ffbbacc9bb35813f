// File: internal/browser/vision/actions_test.go
package vision

import (
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIActionValidate(t *testing.T) {
	testCases := []struct {
		name    string
		action  uiAction
		wantErr string
	}{
		{"click with coordinates", uiAction{Type: "click", X: 100, Y: 200}, ""},
		{"drag with endpoints", uiAction{Type: "drag", X: 10, Y: 10, ToX: 50, ToY: 90}, ""},
		{"type with text", uiAction{Type: "type", Text: "alice@example.com"}, ""},
		{"type without text", uiAction{Type: "type"}, "requires text"},
		{"key with name", uiAction{Type: "key", Key: "Enter"}, ""},
		{"key without name", uiAction{Type: "key"}, "requires a key name"},
		{"scroll with delta", uiAction{Type: "scroll", DY: 400}, ""},
		{"scroll without deltas", uiAction{Type: "scroll"}, "requires dx or dy"},
		{"wait with duration", uiAction{Type: "wait", Millis: 500}, ""},
		{"wait without duration", uiAction{Type: "wait"}, "positive ms"},
		{"unknown type", uiAction{Type: "hover"}, "unknown action type"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestUIActionUnmarshal(t *testing.T) {
	payload := []byte(`{"type": "click", "x": 412.5, "y": 303}`)
	var action uiAction
	require.NoError(t, json.Unmarshal(payload, &action))
	assert.Equal(t, "click", action.Type)
	assert.InDelta(t, 412.5, action.X, 0.001)
	assert.InDelta(t, 303.0, action.Y, 0.001)
}

func TestIsTransient(t *testing.T) {
	t.Run("rate limit is transient", func(t *testing.T) {
		assert.True(t, isTransient(&anthropic.Error{StatusCode: http.StatusTooManyRequests}))
	})

	t.Run("server errors are transient", func(t *testing.T) {
		assert.True(t, isTransient(&anthropic.Error{StatusCode: http.StatusBadGateway}))
	})

	t.Run("auth errors are not transient", func(t *testing.T) {
		assert.False(t, isTransient(&anthropic.Error{StatusCode: http.StatusUnauthorized}))
	})

	t.Run("invalid request errors are not transient", func(t *testing.T) {
		assert.False(t, isTransient(&anthropic.Error{StatusCode: http.StatusBadRequest}))
	})

	t.Run("connection reset is transient", func(t *testing.T) {
		assert.True(t, isTransient(syscall.ECONNRESET))
		assert.True(t, isTransient(fmt.Errorf("dial: %w", errors.New("read: connection reset by peer"))))
	})

	t.Run("arbitrary errors are not transient", func(t *testing.T) {
		assert.False(t, isTransient(errors.New("invalid api key")))
	})
}
