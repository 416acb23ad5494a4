package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ferndale-health/stitch/internal/core/chat"
	"github.com/ferndale-health/stitch/internal/notify"
	"github.com/ferndale-health/stitch/internal/sync/backoff"
)

const (
	defaultSubscribeTimeout = 30 * time.Second
	defaultPollInterval     = 5 * time.Minute
)

// Manager owns one channel per subscribed resource. Channels are reference
// counted: the first subscriber opens the stream, the last teardown closes
// it. Each channel runs its own goroutine so one flaky resource cannot stall
// the others.
type Manager struct {
	feed     Feed
	fetcher  Fetcher
	notifier notify.Notifier
	log      zerolog.Logger

	subscribeTimeout time.Duration
	pollInterval     time.Duration
	policy           backoff.Policy

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	channels map[Resource]*channel
	wg       sync.WaitGroup
}

// Option tunes a Manager.
type Option func(*Manager)

// WithSubscribeTimeout bounds how long one Open attempt may take.
func WithSubscribeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.subscribeTimeout = d }
}

// WithPollInterval sets the degraded-mode fetch cadence.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// WithBackoffPolicy overrides the reconnect schedule.
func WithBackoffPolicy(p backoff.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// NewManager creates a Manager. fetcher may be nil, in which case the
// degraded polling mode only probes for feed recovery without fetching rows.
func NewManager(feed Feed, fetcher Fetcher, notifier notify.Notifier, log zerolog.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		feed:             feed,
		fetcher:          fetcher,
		notifier:         notifier,
		log:              log,
		subscribeTimeout: defaultSubscribeTimeout,
		pollInterval:     defaultPollInterval,
		policy:           backoff.Subscription,
		ctx:              ctx,
		cancel:           cancel,
		channels:         make(map[Resource]*channel),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers a handler for res under subscriberID. The first
// subscriber for a resource opens its channel; later subscribers share it.
// Re-subscribing with the same subscriberID replaces the handler.
func (m *Manager) Subscribe(res Resource, subscriberID string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return
	}

	ch, ok := m.channels[res]
	if !ok {
		ctx, cancel := context.WithCancel(m.ctx)
		ch = &channel{
			res:      res,
			handlers: make(map[string]Handler),
			status:   StatusConnecting,
			retry: backoff.NewManager(m.policy, m.log.With().
				Str("kind", string(res.Kind)).
				Str("resource", res.ID).
				Logger()),
			cancel: cancel,
		}
		m.channels[res] = ch
		m.wg.Add(1)
		go m.run(ctx, ch)
	}

	ch.mu.Lock()
	ch.handlers[subscriberID] = h
	ch.mu.Unlock()
}

// Unsubscribe removes subscriberID's handler. When the last handler is gone
// the channel is torn down: its context is cancelled, which unwinds any
// in-flight backoff or poll timer.
func (m *Manager) Unsubscribe(res Resource, subscriberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[res]
	if !ok {
		return
	}

	ch.mu.Lock()
	delete(ch.handlers, subscriberID)
	remaining := len(ch.handlers)
	ch.mu.Unlock()

	if remaining == 0 {
		ch.cancel()
		ch.setStatus(StatusClosed)
		delete(m.channels, res)
	}
}

// Status reports the channel state for res, or StatusClosed when no channel
// exists.
func (m *Manager) Status(res Resource) Status {
	m.mu.Lock()
	ch, ok := m.channels[res]
	m.mu.Unlock()
	if !ok {
		return StatusClosed
	}
	return ch.getStatus()
}

// Close tears down every channel and waits for their goroutines to exit.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	for res, ch := range m.channels {
		ch.cancel()
		ch.setStatus(StatusClosed)
		delete(m.channels, res)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

type channel struct {
	res    Resource
	retry  *backoff.Manager
	cancel context.CancelFunc

	mu        sync.Mutex
	handlers  map[string]Handler
	status    Status
	lastEvent time.Time
}

func (c *channel) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *channel) getStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *channel) lastEventTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEvent
}

func (c *channel) dispatch(ev chat.Event) {
	c.mu.Lock()
	if ts := ev.Message.CreatedAt; ts.After(c.lastEvent) {
		c.lastEvent = ts
	}
	handlers := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// run is the channel lifecycle: connect, consume until the stream dies,
// reconnect with backoff, and fall back to polling once the retry budget is
// spent. Exits only on context cancellation.
func (m *Manager) run(ctx context.Context, ch *channel) {
	defer m.wg.Done()

	log := m.log.With().
		Str("kind", string(ch.res.Kind)).
		Str("resource", ch.res.ID).
		Logger()

	// lost marks that a previously live stream died, so the next successful
	// subscribe counts as a recovery even when no reconnect attempt failed.
	lost := false

	for {
		if ctx.Err() != nil {
			return
		}

		ch.setStatus(StatusConnecting)
		stream, err := m.openStream(ctx, ch.res)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ch.setStatus(StatusChannelError)
			log.Warn().Err(err).Int("attempt", ch.retry.Attempt()).Msg("subscribe failed")

			delay, nerr := ch.retry.Next()
			if errors.Is(nerr, backoff.ErrExhausted) {
				m.notifier.Toast(notify.Toast{
					Title:       "Connection lost",
					Description: "Live updates unavailable, refreshing periodically",
					Variant:     notify.VariantDestructive,
				})
				stream = m.pollUntilRestored(ctx, ch, log)
				if stream == nil {
					return
				}
			} else if !sleep(ctx, delay) {
				return
			} else {
				continue
			}
		}

		restored := lost || ch.retry.HadFailure()
		lost = false
		ch.retry.Reset()
		ch.setStatus(StatusSubscribed)
		if restored {
			log.Info().Msg("subscription restored")
			m.notifier.Toast(notify.Toast{
				Title:       "Connection restored",
				Description: "Live updates resumed",
				Variant:     notify.VariantSuccess,
			})
		}

		m.consume(ctx, ch, stream, log)
		if ctx.Err() != nil {
			return
		}
		lost = true
		ch.setStatus(StatusChannelError)
	}
}

// openStream bounds one connection attempt with the subscribe timeout.
func (m *Manager) openStream(ctx context.Context, res Resource) (Stream, error) {
	openCtx, cancel := context.WithTimeout(ctx, m.subscribeTimeout)
	defer cancel()
	return m.feed.Open(openCtx, res)
}

// consume drains a stream until it errors, closes, or ctx is cancelled.
func (m *Manager) consume(ctx context.Context, ch *channel, stream Stream, log zerolog.Logger) {
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				log.Debug().Msg("stream closed")
				return
			}
			ch.dispatch(ev)
		case err := <-stream.Err():
			log.Warn().Err(err).Msg("stream error")
			return
		}
	}
}

// pollUntilRestored is the degraded mode: every pollInterval, probe the feed
// and, while it stays down, fetch rows over HTTP so the conversation keeps
// moving. Returns the recovered stream, or nil when ctx was cancelled.
func (m *Manager) pollUntilRestored(ctx context.Context, ch *channel, log zerolog.Logger) Stream {
	ch.setStatus(StatusPolling)
	log.Info().Dur("interval", m.pollInterval).Msg("falling back to polling")

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		stream, err := m.openStream(ctx, ch.res)
		if err == nil {
			return stream
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Debug().Err(err).Msg("feed still unavailable")

		m.pollOnce(ctx, ch, log)
	}
}

// pollOnce fetches rows created since the last delivered event and replays
// them as inserts. Update semantics in the reducer make redelivery safe.
func (m *Manager) pollOnce(ctx context.Context, ch *channel, log zerolog.Logger) {
	if m.fetcher == nil {
		return
	}

	msgs, err := m.fetcher.FetchSince(ctx, ch.res, ch.lastEventTime())
	if err != nil {
		log.Warn().Err(err).Msg("poll fetch failed")
		return
	}

	for _, msg := range msgs {
		ch.dispatch(chat.Event{
			Type:    chat.EventInsert,
			ChatID:  msg.ChatID,
			Message: msg,
		})
	}
}

// sleep waits for d or until ctx is done. Reports whether the full duration
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
