// File: internal/auth/fsm_test.go
package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romirom11/agentpass/api/schemas"
)

func TestRetryMachineSucceedsFirstTry(t *testing.T) {
	m := newRetryMachine(2, 0)
	final := m.Run(t.Context(), func(_ context.Context) attemptOutcome {
		return attemptOutcome{success: true}
	})

	assert.Equal(t, stateSucceeded, final)
	assert.Equal(t, 0, m.RetriesUsed())
}

func TestRetryMachineRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	m := newRetryMachine(2, 0)
	final := m.Run(t.Context(), func(_ context.Context) attemptOutcome {
		attempts++
		if attempts < 3 {
			return attemptOutcome{err: "flaky"}
		}
		return attemptOutcome{success: true}
	})

	assert.Equal(t, stateSucceeded, final)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, m.RetriesUsed())
}

func TestRetryMachineExhaustsAfterBound(t *testing.T) {
	attempts := 0
	m := newRetryMachine(2, 0)
	final := m.Run(t.Context(), func(_ context.Context) attemptOutcome {
		attempts++
		return attemptOutcome{err: "still broken"}
	})

	assert.Equal(t, stateFailed, final)
	assert.Equal(t, 3, attempts, "two retries means three attempts total")
	assert.Equal(t, 2, m.RetriesUsed())
	assert.Equal(t, "still broken", m.Last().err)
}

func TestRetryMachineHaltsOnCaptcha(t *testing.T) {
	attempts := 0
	m := newRetryMachine(2, 0)
	final := m.Run(t.Context(), func(_ context.Context) attemptOutcome {
		attempts++
		return attemptOutcome{captcha: true, captchaType: schemas.CaptchaHcaptcha}
	})

	assert.Equal(t, stateEscalated, final)
	assert.Equal(t, 1, attempts, "CAPTCHA must suppress all retries")
	assert.Equal(t, 0, m.RetriesUsed())
	assert.Equal(t, schemas.CaptchaHcaptcha, m.Last().captchaType)
}

func TestRetryMachineCaptchaAfterRetryKeepsCount(t *testing.T) {
	attempts := 0
	m := newRetryMachine(2, 0)
	final := m.Run(t.Context(), func(_ context.Context) attemptOutcome {
		attempts++
		if attempts == 1 {
			return attemptOutcome{err: "transient"}
		}
		return attemptOutcome{captcha: true, captchaType: schemas.CaptchaGeneric}
	})

	assert.Equal(t, stateEscalated, final)
	assert.Equal(t, 1, m.RetriesUsed())
}

func TestRetryMachineZeroRetriesMeansSingleAttempt(t *testing.T) {
	attempts := 0
	m := newRetryMachine(0, 0)
	final := m.Run(t.Context(), func(_ context.Context) attemptOutcome {
		attempts++
		return attemptOutcome{err: "nope"}
	})

	assert.Equal(t, stateFailed, final)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, m.RetriesUsed())
}

func TestTransitionTableRejectsIllegalEvents(t *testing.T) {
	m := newRetryMachine(1, 0)
	require.Equal(t, stateIdle, m.State())

	assert.Panics(t, func() { m.fire(eventSuccess) }, "success before start is a bug")

	m2 := newRetryMachine(1, 0)
	m2.fire(eventStart)
	assert.Panics(t, func() { m2.fire(eventRetry) }, "retry straight from attempting is a bug")
}

func TestTransitionTableCoversEveryNonTerminalState(t *testing.T) {
	for _, state := range []attemptState{stateIdle, stateAttempting, stateRetryableFailure, stateCaptchaDetected} {
		assert.NotEmpty(t, transitions[state], "state %s has no outgoing transitions", state)
	}
	for _, state := range []attemptState{stateSucceeded, stateEscalated, stateFailed} {
		assert.Empty(t, transitions[state], "terminal state %s must have no outgoing transitions", state)
	}
}
