// Package stitch wires the sync core together: one service owns the API
// client, the realtime subscriptions, the per-chat reducers and the disk
// cache, and exposes the operations the commands and the TUI call.
package stitch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ferndale-health/stitch/internal/core/chat"
	"github.com/ferndale-health/stitch/internal/core/config"
	"github.com/ferndale-health/stitch/internal/core/conversation"
	"github.com/ferndale-health/stitch/internal/core/validate"
	"github.com/ferndale-health/stitch/internal/notify"
	"github.com/ferndale-health/stitch/internal/sync/api"
	"github.com/ferndale-health/stitch/internal/sync/backoff"
	"github.com/ferndale-health/stitch/internal/sync/batch"
	"github.com/ferndale-health/stitch/internal/sync/realtime"
)

// API is the slice of the HTTP client the service depends on.
type API interface {
	InsertMessage(ctx context.Context, req api.InsertRequest) (chat.Message, error)
	ListMessages(ctx context.Context, chatID string, since time.Time) ([]chat.Message, error)
	ListChats(ctx context.Context) ([]chat.Chat, error)
}

// Cache persists confirmed rows between runs so a reopened chat renders
// before the network answers.
type Cache interface {
	Load(chatID string) ([]chat.Message, error)
	Save(chatID string, messages []chat.Message) error
}

// Subscriptions is the realtime manager surface the service uses.
type Subscriptions interface {
	Subscribe(res realtime.Resource, subscriberID string, h realtime.Handler)
	Unsubscribe(res realtime.Resource, subscriberID string)
	Status(res realtime.Resource) realtime.Status
}

const subscriberID = "stitch-service"

// Service orchestrates chat sessions.
type Service struct {
	api      API
	cache    Cache
	realtime Subscriptions
	notifier notify.Notifier
	config   *config.Config
	log      zerolog.Logger

	// sendPolicy is backoff.Send; tests shrink it.
	sendPolicy backoff.Policy

	mu       sync.Mutex
	sessions map[string]*ChatSession
}

// New creates a Service.
func New(
	apiClient API,
	cache Cache,
	subs Subscriptions,
	notifier notify.Notifier,
	cfg *config.Config,
	log zerolog.Logger,
) *Service {
	return &Service{
		api:        apiClient,
		cache:      cache,
		realtime:   subs,
		notifier:   notifier,
		config:     cfg,
		log:        log,
		sendPolicy: backoff.Send,
		sessions:   make(map[string]*ChatSession),
	}
}

// Open starts a chat session: the cached copy is installed synchronously,
// the fresh copy fetched in the background, and the realtime channel
// subscribed through the batching queue. Opening an already-open chat
// returns the existing session.
func (s *Service) Open(ctx context.Context, chatID string) (*ChatSession, error) {
	if err := validate.ChatID(chatID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if sess, ok := s.sessions[chatID]; ok {
		s.mu.Unlock()
		return sess, nil
	}

	log := s.log.With().Str("chat", chatID).Logger()
	conv := conversation.New(chatID, log)

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &ChatSession{
		ChatID:   chatID,
		OpenedAt: time.Now().UTC(),
		conv:     conv,
		cancel:   cancel,
	}
	sess.queue = batch.New(func(events []chat.Event) error {
		conv.ApplyEvents(events)
		s.persist(sess)
		return nil
	}, log.With().Str("component", "batch").Logger(),
		batch.WithWindows(s.config.Sync.BatchWindow, s.config.Sync.BatchQuiet))

	s.sessions[chatID] = sess
	s.mu.Unlock()

	// Cached copy first so the view has something immediately.
	if cached, err := s.cache.Load(chatID); err != nil {
		log.Warn().Err(err).Msg("cache load failed, starting empty")
	} else if len(cached) > 0 {
		conv.SetMessages(cached)
	}

	s.realtime.Subscribe(sess.resource(), subscriberID, sess.queue.Enqueue)

	go s.refresh(sessCtx, sess)

	log.Info().Msg("chat session opened")
	return sess, nil
}

// refresh fetches the authoritative list and installs it. Pending sends
// survive the install by construction.
func (s *Service) refresh(ctx context.Context, sess *ChatSession) {
	msgs, err := s.api.ListMessages(ctx, sess.ChatID, time.Time{})
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn().Err(err).Str("chat", sess.ChatID).Msg("initial fetch failed")
		}
		return
	}
	sess.conv.SetMessages(msgs)
	s.persist(sess)
}

// Close tears down a chat session: unsubscribes the realtime channel, stops
// the batch queue, and persists the final state.
func (s *Service) Close(chatID string) {
	s.mu.Lock()
	sess, ok := s.sessions[chatID]
	if ok {
		delete(s.sessions, chatID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	s.realtime.Unsubscribe(sess.resource(), subscriberID)
	sess.queue.Stop()
	sess.cancel()
	s.persist(sess)
	s.log.Info().Str("chat", chatID).Msg("chat session closed")
}

// CloseAll tears down every open session.
func (s *Service) CloseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Close(id)
	}
}

// Session returns the open session for chatID.
func (s *Service) Session(chatID string) (*ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %s is not open", chatID)
	}
	return sess, nil
}

// Snapshot returns the current view of an open chat.
func (s *Service) Snapshot(chatID string) (conversation.Snapshot, error) {
	sess, err := s.Session(chatID)
	if err != nil {
		return conversation.Snapshot{}, err
	}
	return sess.conv.Snapshot(), nil
}

// ConnectionStatus reports the realtime channel state for an open chat.
func (s *Service) ConnectionStatus(chatID string) realtime.Status {
	sess, err := s.Session(chatID)
	if err != nil {
		return realtime.StatusClosed
	}
	return s.realtime.Status(sess.resource())
}

// Chats lists the conversations visible to the configured key.
func (s *Service) Chats(ctx context.Context) ([]chat.Chat, error) {
	return s.api.ListChats(ctx)
}

// persist writes the session's confirmed rows to the cache. Failures are
// logged; the cache is an optimization, not a source of truth.
func (s *Service) persist(sess *ChatSession) {
	snap := sess.conv.Snapshot()
	if err := s.cache.Save(sess.ChatID, snap.Messages); err != nil {
		s.log.Warn().Err(err).Str("chat", sess.ChatID).Msg("cache save failed")
	}
}
