// Package realtime maintains the live subscriptions that mirror server-side
// message changes into the reducer. One channel exists per logical resource,
// reference-counted across subscriber components; channel errors are retried
// with backoff and degrade to slow polling rather than giving up.
package realtime

import (
	"context"
	"time"

	"github.com/ferndale-health/stitch/internal/core/chat"
)

// Kind names the resource class a channel is bound to.
type Kind string

const (
	KindChat    Kind = "chat"
	KindMessage Kind = "message"
)

// Resource identifies one subscription target.
type Resource struct {
	Kind Kind
	ID   string
}

// Status is the lifecycle of a channel.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusSubscribed   Status = "subscribed"
	StatusChannelError Status = "channel_error"
	StatusPolling      Status = "polling"
	StatusClosed       Status = "closed"
)

// Handler receives change events for one resource. Handlers for different
// resources run on independent goroutines; a slow handler for resource A
// never delays delivery for resource B.
type Handler func(chat.Event)

// Stream is one open feed connection.
type Stream interface {
	// Events yields validated change events. Closed when the stream dies.
	Events() <-chan chat.Event
	// Err reports the terminal stream error, if any.
	Err() <-chan error
	Close() error
}

// Feed opens streams. The websocket implementation lives in this package;
// tests substitute fakes.
type Feed interface {
	Open(ctx context.Context, res Resource) (Stream, error)
}

// Fetcher is the degraded path once the feed's retry budget is exhausted:
// fetch rows over plain HTTP on a long interval until the feed recovers.
type Fetcher interface {
	FetchSince(ctx context.Context, res Resource, since time.Time) ([]chat.Message, error)
}
