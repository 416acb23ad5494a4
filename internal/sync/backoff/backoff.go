// Package backoff implements the exponential retry policy shared by the
// send path and the realtime subscription managers.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrExhausted is returned once the attempt ceiling is reached. Callers
// must surface this to the user exactly once and engage their fallback
// path; it is never retried automatically.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes one call site's backoff shape.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// The three call sites in the sync core, each with its own ceiling.
var (
	Subscription = Policy{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 5}
	Send         = Policy{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 3}
	AudioChunk   = Policy{Base: time.Second, Max: 5 * time.Second, MaxAttempts: 3}
)

// Delay computes the sleep before the given attempt: min(base*2^attempt, max).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Manager tracks retry state for one logical operation. Reset is called on
// the operation's first success after any failures; after MaxAttempts the
// manager reports ErrExhausted and schedules nothing further.
type Manager struct {
	mu          sync.Mutex
	policy      Policy
	attempt     int
	lastAttempt time.Time
	hadFailure  bool
	log         zerolog.Logger
}

// NewManager creates a Manager for the given policy.
func NewManager(policy Policy, log zerolog.Logger) *Manager {
	return &Manager{policy: policy, log: log}
}

// Attempt returns the number of attempts consumed so far.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// HadFailure reports whether any attempt has been consumed since the last
// reset. Used to emit "connection restored" exactly once.
func (m *Manager) HadFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hadFailure
}

// Next consumes one attempt and returns the delay to sleep before retrying.
// Returns ErrExhausted when the ceiling has been reached.
func (m *Manager) Next() (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attempt >= m.policy.MaxAttempts {
		m.log.Warn().Int("attempts", m.attempt).Msg("retry budget exhausted")
		return 0, ErrExhausted
	}

	m.attempt++
	m.hadFailure = true
	m.lastAttempt = time.Now()
	delay := m.policy.Delay(m.attempt)

	m.log.Debug().
		Int("attempt", m.attempt).
		Int("max", m.policy.MaxAttempts).
		Dur("delay", delay).
		Msg("scheduling retry")

	return delay, nil
}

// Reset zeroes the attempt counter after a success.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempt = 0
	m.hadFailure = false
}

// PermanentError wraps a failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable: Retry stops immediately and
// returns the wrapped error.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Retry runs op until it succeeds, returns a permanent error, the policy
// is exhausted, or ctx is cancelled. On exhaustion the last operation
// error is wrapped together with ErrExhausted so callers can branch on
// either.
func (m *Manager) Retry(ctx context.Context, op func(context.Context) error) error {
	for {
		err := op(ctx)
		if err == nil {
			if m.HadFailure() {
				m.Reset()
			}
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay, nextErr := m.Next()
		if nextErr != nil {
			return fmt.Errorf("%w: %w", ErrExhausted, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
