package chat

import (
	"errors"
	"testing"
)

func TestStatusCanAdvance(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusSending, true},
		{StatusSending, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusDelivered, StatusSeen, true},
		{StatusQueued, StatusSeen, true},
		{StatusSent, StatusQueued, false},
		{StatusSeen, StatusDelivered, false},
		{StatusQueued, StatusError, true},
		{StatusSending, StatusError, true},
		{StatusSent, StatusError, false},
		{StatusError, StatusSending, true},
		{StatusError, StatusSent, false},
		{StatusSent, StatusSent, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanAdvance(tc.to); got != tc.want {
			t.Errorf("CanAdvance(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNewOptimistic(t *testing.T) {
	msg := NewOptimistic("chat-9", "hello", RoleUser, TypeText, 3)

	if !IsTempID(msg.ID) {
		t.Errorf("ID %q is not a temp id", msg.ID)
	}
	if msg.Metadata.TempID != msg.ID {
		t.Error("optimistic message must carry its own id as temp id")
	}
	if msg.Status != StatusQueued {
		t.Errorf("Status = %s, want queued", msg.Status)
	}
	if !msg.IsOptimistic {
		t.Error("IsOptimistic should be true")
	}
	if msg.Sequence != 3 || msg.Metadata.SortIndex != 3 {
		t.Errorf("sequence/sortIndex = %d/%d, want 3/3", msg.Sequence, msg.Metadata.SortIndex)
	}
}

func TestParseEvent_Defaults(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"INSERT","record":{"id":"m1","chat_id":"c1","content":"hi"}}`))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if ev.ChatID != "c1" {
		t.Errorf("ChatID = %q, want c1", ev.ChatID)
	}
	if ev.Message.Status != StatusQueued {
		t.Errorf("missing status should default to queued, got %s", ev.Message.Status)
	}
	if ev.Message.CreatedAt.IsZero() {
		t.Error("missing created_at should default to arrival time")
	}
	if ev.Message.HasSequence() {
		t.Error("omitted sequence must be flagged absent")
	}
}

func TestParseEvent_SequenceZeroIsPresent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"INSERT","record":{"id":"m1","chat_id":"c1","sequence":0}}`))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if !ev.Message.HasSequence() {
		t.Error("explicit sequence 0 must count as present")
	}
	if ev.Message.Sequence != 0 {
		t.Errorf("Sequence = %d, want 0", ev.Message.Sequence)
	}
}

func TestParseEvent_UnknownType(t *testing.T) {
	_, err := ParseEvent([]byte(`{"type":"TRUNCATE","record":{"id":"m1"}}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestParseEvent_MissingID(t *testing.T) {
	if _, err := ParseEvent([]byte(`{"type":"INSERT","record":{}}`)); err == nil {
		t.Error("expected error for record without id")
	}
}
