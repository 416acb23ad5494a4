package stitch

import (
	"context"
	"time"

	"github.com/ferndale-health/stitch/internal/core/conversation"
	"github.com/ferndale-health/stitch/internal/sync/batch"
	"github.com/ferndale-health/stitch/internal/sync/realtime"
)

// ChatSession is one open chat: the reducer, its batching queue and the
// teardown handle. At most one session exists per chat id.
type ChatSession struct {
	ChatID   string
	OpenedAt time.Time

	conv   *conversation.Conversation
	queue  *batch.Queue
	cancel context.CancelFunc
}

// Snapshot returns the current view for rendering.
func (s *ChatSession) Snapshot() conversation.Snapshot {
	return s.conv.Snapshot()
}

// StartEdit begins editing a message.
func (s *ChatSession) StartEdit(id string) error {
	return s.conv.StartEdit(id)
}

// SaveEdit commits an edit.
func (s *ChatSession) SaveEdit(id, content string) error {
	return s.conv.SaveEdit(id, content)
}

// CancelEdit abandons the in-progress edit.
func (s *ChatSession) CancelEdit() {
	s.conv.CancelEdit()
}

func (s *ChatSession) resource() realtime.Resource {
	return realtime.Resource{Kind: realtime.KindChat, ID: s.ChatID}
}
