// File: internal/auth/fsm.go
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/romirom11/agentpass/api/schemas"
)

// attemptState is a node in the retry state machine that governs one login
// or registration flow.
type attemptState string

const (
	stateIdle             attemptState = "idle"
	stateAttempting       attemptState = "attempting"
	stateSucceeded        attemptState = "succeeded"
	stateRetryableFailure attemptState = "retryable_failure"
	stateCaptchaDetected  attemptState = "captcha_detected"
	stateEscalated        attemptState = "escalated"
	stateFailed           attemptState = "failed"
)

type attemptEvent string

const (
	eventStart     attemptEvent = "start"
	eventSuccess   attemptEvent = "success"
	eventFailure   attemptEvent = "failure"
	eventCaptcha   attemptEvent = "captcha"
	eventRetry     attemptEvent = "retry"
	eventExhausted attemptEvent = "exhausted"
	eventEscalate  attemptEvent = "escalate"
)

// transitions is the complete legal state transition table. Any event not
// listed for the current state is a programming error.
var transitions = map[attemptState]map[attemptEvent]attemptState{
	stateIdle: {
		eventStart: stateAttempting,
	},
	stateAttempting: {
		eventSuccess: stateSucceeded,
		eventFailure: stateRetryableFailure,
		eventCaptcha: stateCaptchaDetected,
	},
	stateRetryableFailure: {
		eventRetry:     stateAttempting,
		eventExhausted: stateFailed,
	},
	stateCaptchaDetected: {
		eventEscalate: stateEscalated,
	},
}

// attemptOutcome is what one browser attempt reported back to the machine.
type attemptOutcome struct {
	success     bool
	captcha     bool
	captchaType schemas.CaptchaType
	screenshot  []byte
	err         string
}

// retryMachine drives bounded sequential attempts. retriesUsed counts only
// the attempts beyond the first one.
type retryMachine struct {
	maxRetries  int
	retryWait   time.Duration
	state       attemptState
	retriesUsed int
	last        attemptOutcome
}

func newRetryMachine(maxRetries int, retryWait time.Duration) *retryMachine {
	return &retryMachine{
		maxRetries: maxRetries,
		retryWait:  retryWait,
		state:      stateIdle,
	}
}

// fire applies one event. An illegal event panics: it can only be produced
// by a bug in Run, never by input data.
func (m *retryMachine) fire(event attemptEvent) {
	next, ok := transitions[m.state][event]
	if !ok {
		panic(fmt.Sprintf("illegal transition: %s event in %s state", event, m.state))
	}
	m.state = next
}

// Run executes attempts sequentially until the machine reaches a terminal
// state. CAPTCHA halts immediately regardless of remaining retries; plain
// failures retry up to the bound with a wait between attempts.
func (m *retryMachine) Run(ctx context.Context, attempt func(context.Context) attemptOutcome) attemptState {
	m.fire(eventStart)

	for {
		m.last = attempt(ctx)

		switch {
		case m.last.success:
			m.fire(eventSuccess)
			return m.state

		case m.last.captcha:
			m.fire(eventCaptcha)
			m.fire(eventEscalate)
			return m.state

		default:
			m.fire(eventFailure)
			if m.retriesUsed >= m.maxRetries || ctx.Err() != nil {
				m.fire(eventExhausted)
				return m.state
			}
			m.retriesUsed++
			m.fire(eventRetry)

			if m.retryWait > 0 {
				select {
				case <-time.After(m.retryWait):
				case <-ctx.Done():
					// The next attempt observes the cancelled context and
					// fails, which then exhausts the machine.
				}
			}
		}
	}
}

// State returns the machine's current state.
func (m *retryMachine) State() attemptState { return m.state }

// RetriesUsed returns how many retries beyond the first attempt ran.
func (m *retryMachine) RetriesUsed() int { return m.retriesUsed }

// Last returns the most recent attempt's outcome.
func (m *retryMachine) Last() attemptOutcome { return m.last }
