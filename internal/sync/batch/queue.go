// Package batch coalesces bursts of realtime change events into single
// state updates so a flurry of inserts produces one reducer dispatch, not
// one render per event.
package batch

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ferndale-health/stitch/internal/core/chat"
	"github.com/ferndale-health/stitch/internal/sync/backoff"
)

const (
	// defaultWindow is how close to the previous flush an event must land
	// to be queued instead of applied immediately.
	defaultWindow = 50 * time.Millisecond
	// defaultQuiet is the quiescence period after which a queued batch is
	// flushed.
	defaultQuiet = 100 * time.Millisecond
)

// Flush receives a batch in arrival order. One call per flush; the callback
// performs exactly one reducer dispatch for the whole batch.
type Flush func([]chat.Event) error

// Queue is the single owned debounce timer for a chat session. Events
// arriving within the coalesce window of the previous flush are queued and
// flushed after quiescence; an event arriving on an empty queue outside the
// window is flushed immediately.
type Queue struct {
	mu        sync.Mutex
	flush     Flush
	window    time.Duration
	quiet     time.Duration
	pending   []chat.Event
	timer     *time.Timer
	lastFlush time.Time
	retry     *backoff.Manager
	stopped   bool
	log       zerolog.Logger
}

// Option tunes a Queue.
type Option func(*Queue)

// WithWindows overrides the coalesce and quiescence windows. Used by tests
// and exposed through config.
func WithWindows(window, quiet time.Duration) Option {
	return func(q *Queue) {
		if window > 0 {
			q.window = window
		}
		if quiet > 0 {
			q.quiet = quiet
		}
	}
}

// New creates a Queue that delivers batches to flush.
func New(flush Flush, log zerolog.Logger, opts ...Option) *Queue {
	q := &Queue{
		flush:  flush,
		window: defaultWindow,
		quiet:  defaultQuiet,
		retry:  backoff.NewManager(backoff.Subscription, log),
		log:    log,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue accepts one event. Never blocks on the flush callback's work
// beyond the immediate-flush fast path.
func (q *Queue) Enqueue(ev chat.Event) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}

	immediate := len(q.pending) == 0 && q.timer == nil && time.Since(q.lastFlush) >= q.window
	q.pending = append(q.pending, ev)

	if immediate {
		q.flushLocked()
		q.mu.Unlock()
		return
	}

	q.armTimer(q.quiet)
	q.mu.Unlock()
}

// Len returns the number of queued, unflushed events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop cancels any scheduled flush and drops queued events. Called on
// session teardown; a stopped queue silently ignores further events.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.pending = nil
}

// armTimer (re)schedules the next flush. Caller holds the lock.
func (q *Queue) armTimer(d time.Duration) {
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(d, q.onTimer)
}

func (q *Queue) onTimer() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.timer = nil
	q.flushLocked()
}

// flushLocked delivers the pending batch. On error the batch is retained
// and the next attempt scheduled by the retry manager. Caller holds the
// lock.
func (q *Queue) flushLocked() {
	if len(q.pending) == 0 {
		q.lastFlush = time.Now()
		return
	}

	batch := q.pending

	if err := q.flush(batch); err != nil {
		q.log.Error().Err(err).Int("events", len(batch)).Msg("batch flush failed")

		delay, nextErr := q.retry.Next()
		if errors.Is(nextErr, backoff.ErrExhausted) {
			// Events are never dropped; keep trying at the ceiling.
			q.retry.Reset()
			delay = backoff.Subscription.Max
		}
		q.armTimer(delay)
		return
	}

	if q.retry.HadFailure() {
		q.retry.Reset()
	}
	q.pending = nil
	q.lastFlush = time.Now()
}
