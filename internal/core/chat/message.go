// Package chat defines the message domain types shared by the sync core.
package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ferndale-health/stitch/pkg/randid"
)

// tempIDPrefix marks locally generated placeholder IDs.
const tempIDPrefix = "temp-"

// Role identifies the author side of a message. Fixed at creation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Type identifies the message payload kind. Fixed at creation.
type Type string

const (
	TypeText  Type = "text"
	TypeAudio Type = "audio"
)

// Status is the mutable lifecycle field of a message.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
	StatusError     Status = "error"
)

// statusRank orders the success path. Error sits outside the ladder and is
// handled explicitly by the transition rules.
var statusRank = map[Status]int{
	StatusQueued:    0,
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusSeen:      4,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusError {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanAdvance reports whether a transition from s to next is legal.
// The success ladder is monotonic; error is reachable only from queued or
// sending, and sending is re-enterable from error (user-requested retry).
func (s Status) CanAdvance(next Status) bool {
	if s == next {
		return false
	}
	if next == StatusError {
		return s == StatusQueued || s == StatusSending
	}
	if s == StatusError {
		return next == StatusSending
	}
	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]
	return okFrom && okTo && to > from
}

// Metadata is the free-form bag carried by every message.
type Metadata struct {
	// TempID is the placeholder id, retained after confirmation so the
	// optimistic and confirmed representations of one send correlate.
	TempID      string     `json:"temp_id,omitempty"`
	SortIndex   int        `json:"sort_index,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	SeenAt      *time.Time `json:"seen_at,omitempty"`
}

// Message is the central entity of the sync core.
type Message struct {
	ID           string     `json:"id"`
	ChatID       string     `json:"chat_id"`
	Content      string     `json:"content"`
	Role         Role       `json:"role"`
	Type         Type       `json:"type"`
	Status       Status     `json:"status"`
	Sequence     int        `json:"sequence"`
	CreatedAt    time.Time  `json:"created_at"`
	IsOptimistic bool       `json:"is_optimistic,omitempty"`
	Metadata     Metadata   `json:"metadata"`
	Edited       bool       `json:"edited,omitempty"`
	EditedAt     *time.Time `json:"edited_at,omitempty"`
	// Error holds the failure description shown next to the retry control.
	Error string `json:"error,omitempty"`

	// sequenceAbsent marks rows whose wire payload omitted sequence. The
	// chat's first message legitimately carries sequence 0, so the zero
	// value cannot double as the sentinel.
	sequenceAbsent bool
}

// HasSequence reports whether the row carried an explicit sequence on the
// wire. Locally constructed messages always do.
func (m Message) HasSequence() bool { return !m.sequenceAbsent }

// AssignSequence fills in a locally computed sequence for a row whose
// payload omitted one.
func (m *Message) AssignSequence(n int) {
	m.Sequence = n
	m.sequenceAbsent = false
}

// UnmarshalJSON decodes sequence through a pointer so an absent field is
// distinguishable from a genuine zero.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		Sequence *int `json:"sequence"`
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Sequence == nil {
		m.sequenceAbsent = true
		return nil
	}
	m.Sequence = *aux.Sequence
	return nil
}

// NewOptimistic builds a not-yet-persisted message with a placeholder id.
// The placeholder id is mirrored into Metadata.TempID so the entry can be
// reconciled with its server-confirmed row later.
func NewOptimistic(chatID, content string, role Role, typ Type, sequence int) Message {
	id := tempIDPrefix + randid.Generate(12)
	return Message{
		ID:           id,
		ChatID:       chatID,
		Content:      content,
		Role:         role,
		Type:         typ,
		Status:       StatusQueued,
		Sequence:     sequence,
		CreatedAt:    time.Now().UTC(),
		IsOptimistic: true,
		Metadata: Metadata{
			TempID:    id,
			SortIndex: sequence,
		},
	}
}

// IsTempID reports whether id is a locally generated placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Chat is a conversation summary returned by the listing endpoint.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	PatientID string    `json:"patient_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
