package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType tags a realtime feed event.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ErrUnknownEvent is returned for feed payloads whose tag is not recognized.
// Callers log and drop these rather than failing the subscription.
var ErrUnknownEvent = errors.New("unknown event type")

// Event is a validated realtime feed event carrying the full new row.
type Event struct {
	Type    EventType `json:"type"`
	ChatID  string    `json:"chat_id"`
	Message Message   `json:"record"`
}

// ParseEvent decodes and validates a raw feed payload. Missing fields
// default safely: an absent status becomes queued, an absent timestamp
// becomes the arrival time. An absent sequence is flagged on the record
// and assigned by the reducer, which knows the current list length; an
// explicit sequence 0 is kept as-is.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	switch ev.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	if ev.Message.ID == "" {
		return Event{}, fmt.Errorf("event %s missing record id", ev.Type)
	}
	if ev.ChatID == "" {
		ev.ChatID = ev.Message.ChatID
	}
	if ev.Message.ChatID == "" {
		ev.Message.ChatID = ev.ChatID
	}
	if !ev.Message.Status.Valid() {
		ev.Message.Status = StatusQueued
	}
	if ev.Message.CreatedAt.IsZero() {
		ev.Message.CreatedAt = time.Now().UTC()
	}

	return ev, nil
}
