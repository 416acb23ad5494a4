// Package conversation holds the authoritative in-memory model of one chat.
//
// All mutation happens through the methods on Conversation, which serialize
// behind a single mutex: user sends, realtime pushes, polling results and
// retry timers each request a transition independently, and the message list
// converges to one (created_at, sequence)-ordered view regardless of arrival
// order.
package conversation

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ferndale-health/stitch/internal/core/chat"
)

var (
	ErrNotFound     = errors.New("message not found")
	ErrNotRetryable = errors.New("message is not in the error state")
	ErrEditPending  = errors.New("another message edit is in progress")
)

// Snapshot is the read-only view handed to consumers. Consumers re-read it
// after every transition and never mutate it.
type Snapshot struct {
	ChatID       string
	Messages     []chat.Message
	Pending      []chat.Message
	IsProcessing bool
	EditingID    string
}

// Conversation is the reducer for a single chat session. One instance owns
// a chat's state at a time; opening the chat elsewhere means closing this
// one first.
type Conversation struct {
	mu       sync.Mutex
	chatID   string
	messages []chat.Message
	pending  map[string]struct{}
	// confirmed tracks ids confirmed locally that no server list has
	// included yet, so a stale refetch racing a confirmation cannot make
	// the just-sent message flicker out.
	confirmed map[string]struct{}
	editingID string
	log       zerolog.Logger
}

// New creates an empty conversation for the given chat.
func New(chatID string, log zerolog.Logger) *Conversation {
	return &Conversation{
		chatID:    chatID,
		pending:   make(map[string]struct{}),
		confirmed: make(map[string]struct{}),
		log:       log.With().Str("chat", chatID).Logger(),
	}
}

// ChatID returns the owning chat id.
func (c *Conversation) ChatID() string { return c.chatID }

// Add appends a message. Optimistic messages also enter the pending set
// that feeds IsProcessing. Duplicate ids are dropped.
func (c *Conversation) Add(msg chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if chat.IsDuplicate(c.messages, msg) {
		c.log.Debug().Str("id", msg.ID).Msg("dropping duplicate add")
		return
	}
	if msg.IsOptimistic {
		// Invariant: an optimistic message carries its own id as temp id.
		msg.Metadata.TempID = msg.ID
		c.pending[msg.ID] = struct{}{}
	}
	c.messages = chat.SortMessages(append(c.messages, msg))
}

// Confirm replaces the optimistic entry identified by tempID with the
// server-confirmed row. Position is patched in place before the re-sort so
// the UI never sees a remove-then-reinsert. Returns false if no entry with
// that temp id exists (the realtime push may have reconciled it already).
func (c *Conversation) Confirm(tempID string, confirmed chat.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, tempID)
	c.confirmed[confirmed.ID] = struct{}{}

	confirmed.IsOptimistic = false
	if confirmed.Metadata.TempID == "" {
		confirmed.Metadata.TempID = tempID
	}
	if !confirmed.Status.Valid() || confirmed.Status == chat.StatusQueued {
		confirmed.Status = chat.StatusSent
	}

	for i, m := range c.messages {
		if m.ID == tempID || m.ID == confirmed.ID {
			c.messages[i] = confirmed
			c.messages = chat.SortMessages(c.messages)
			return true
		}
	}

	c.log.Debug().Str("temp_id", tempID).Str("id", confirmed.ID).
		Msg("confirm for unknown temp id, merging")
	c.messages = chat.MergeIncoming(c.messages, confirmed)
	return false
}

// Fail records a terminal send failure. The message is retained with error
// status and the failure description so the UI can offer a retry.
func (c *Conversation) Fail(id, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, id)

	for i, m := range c.messages {
		if m.ID != id {
			continue
		}
		if !m.Status.CanAdvance(chat.StatusError) {
			// Already past sending; a late failure report is stale.
			c.log.Debug().Str("id", id).Str("status", string(m.Status)).
				Msg("ignoring failure for settled message")
			return nil
		}
		c.messages[i].Status = chat.StatusError
		c.messages[i].Error = reason
		return nil
	}
	return ErrNotFound
}

// Retry moves a failed message back to sending and returns a copy for the
// resend path. The id is reused; a retry is not a new message.
func (c *Conversation) Retry(id string) (chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, m := range c.messages {
		if m.ID != id {
			continue
		}
		if m.Status != chat.StatusError {
			return chat.Message{}, ErrNotRetryable
		}
		c.messages[i].Status = chat.StatusSending
		c.messages[i].Error = ""
		c.pending[id] = struct{}{}
		return c.messages[i], nil
	}
	return chat.Message{}, ErrNotFound
}

// MarkSending advances a queued message to sending.
func (c *Conversation) MarkSending(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, m := range c.messages {
		if m.ID == id && m.Status.CanAdvance(chat.StatusSending) {
			c.messages[i].Status = chat.StatusSending
			return
		}
	}
}

// StartEdit marks a message as being edited. At most one edit is tracked
// globally per conversation.
func (c *Conversation) StartEdit(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.editingID != "" && c.editingID != id {
		return ErrEditPending
	}
	for _, m := range c.messages {
		if m.ID == id {
			c.editingID = id
			return nil
		}
	}
	return ErrNotFound
}

// SaveEdit mutates the edited message's content in place and sets the
// edited flag permanently.
func (c *Conversation) SaveEdit(id, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.editingID != id {
		return ErrNotFound
	}
	for i, m := range c.messages {
		if m.ID == id {
			c.messages[i].Content = content
			c.messages[i].Edited = true
			c.editingID = ""
			return nil
		}
	}
	c.editingID = ""
	return ErrNotFound
}

// CancelEdit clears the edit marker without touching content.
func (c *Conversation) CancelEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editingID = ""
}

// SetMessages installs a server-fetched list, used on initial load and
// refetch. Pending optimistic entries and recently confirmed rows always
// survive: the server list is unioned in, reconciling by id and temp id,
// so a refetch racing an in-flight or just-confirmed send never makes
// that send disappear.
func (c *Conversation) SetMessages(server []chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := make([]chat.Message, 0, len(c.pending)+len(c.confirmed))
	for _, m := range c.messages {
		_, isPending := c.pending[m.ID]
		_, isRecent := c.confirmed[m.ID]
		if isPending || isRecent {
			kept = append(kept, m)
		}
	}

	merged := kept
	for _, row := range server {
		row.IsOptimistic = false
		if !row.Status.Valid() {
			row.Status = chat.StatusQueued
		}
		if !row.HasSequence() {
			row.AssignSequence(len(merged))
		}
		// The server list caught up with this confirmation.
		delete(c.confirmed, row.ID)
		merged = chat.MergeIncoming(merged, row)
	}

	// A server row may have reconciled a pending entry by temp id.
	for id := range c.pending {
		if !containsID(merged, id) {
			delete(c.pending, id)
		}
	}

	c.messages = merged
}

// ApplyEvents folds a batch of realtime events into the list under one
// lock acquisition: one dispatch per flush, never one per event.
func (c *Conversation) ApplyEvents(events []chat.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ev := range events {
		if ev.ChatID != "" && ev.ChatID != c.chatID {
			c.log.Debug().Str("event_chat", ev.ChatID).Msg("dropping event for other chat")
			continue
		}
		switch ev.Type {
		case chat.EventInsert:
			c.applyInsert(ev.Message)
		case chat.EventUpdate:
			c.applyUpdate(ev.Message)
		case chat.EventDelete:
			// Messages are never removed outside Clear; tombstones from
			// the feed are acknowledged and ignored.
			c.log.Debug().Str("id", ev.Message.ID).Msg("ignoring delete event")
		default:
			c.log.Warn().Str("type", string(ev.Type)).Msg("ignoring unknown event")
		}
	}
}

func (c *Conversation) applyInsert(row chat.Message) {
	row.IsOptimistic = false
	if !row.HasSequence() {
		row.AssignSequence(len(c.messages))
	}
	if row.Metadata.TempID != "" {
		delete(c.pending, row.Metadata.TempID)
	}
	c.messages = chat.MergeIncoming(c.messages, row)
}

func (c *Conversation) applyUpdate(row chat.Message) {
	for i, m := range c.messages {
		if m.ID != row.ID {
			continue
		}
		if m.Status.CanAdvance(row.Status) {
			c.messages[i].Status = row.Status
			c.messages[i].Metadata.DeliveredAt = row.Metadata.DeliveredAt
			c.messages[i].Metadata.SeenAt = row.Metadata.SeenAt
		}
		if row.Content != "" && row.Content != m.Content {
			c.messages[i].Content = row.Content
			c.messages[i].Edited = true
			c.messages[i].EditedAt = row.EditedAt
		}
		return
	}
	// Update for a row we never saw; treat as an insert so the list heals.
	c.log.Debug().Str("id", row.ID).Msg("update for unknown message, inserting")
	c.applyInsert(row)
}

// Clear resets to the empty initial state. Used only on session teardown.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = nil
	c.pending = make(map[string]struct{})
	c.confirmed = make(map[string]struct{})
	c.editingID = ""
}

// Snapshot returns a copy of the current state for rendering.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]chat.Message, len(c.messages))
	copy(msgs, c.messages)

	var pending []chat.Message
	for _, m := range msgs {
		if _, ok := c.pending[m.ID]; ok {
			pending = append(pending, m)
		}
	}

	return Snapshot{
		ChatID:       c.chatID,
		Messages:     msgs,
		Pending:      pending,
		IsProcessing: len(c.pending) > 0,
		EditingID:    c.editingID,
	}
}

func containsID(msgs []chat.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
