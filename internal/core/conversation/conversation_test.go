package conversation

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferndale-health/stitch/internal/core/chat"
)

func newConv(t *testing.T) *Conversation {
	t.Helper()
	return New("c1", zerolog.Nop())
}

func serverRow(id string, ts time.Time, tempID string) chat.Message {
	return chat.Message{
		ID:        id,
		ChatID:    "c1",
		Content:   "body-" + id,
		Role:      chat.RoleUser,
		Type:      chat.TypeText,
		Status:    chat.StatusSent,
		CreatedAt: ts,
		Metadata:  chat.Metadata{TempID: tempID},
	}
}

func TestAdd_OptimisticEntersPendingSet(t *testing.T) {
	conv := newConv(t)

	msg := chat.NewOptimistic("c1", "hello", chat.RoleUser, chat.TypeText, 0)
	conv.Add(msg)

	snap := conv.Snapshot()
	require.Len(t, snap.Messages, 1)
	require.Len(t, snap.Pending, 1)
	assert.True(t, snap.IsProcessing)
	assert.Equal(t, chat.StatusQueued, snap.Messages[0].Status)
}

func TestAdd_DuplicateIgnored(t *testing.T) {
	conv := newConv(t)

	msg := chat.NewOptimistic("c1", "hello", chat.RoleUser, chat.TypeText, 0)
	conv.Add(msg)
	conv.Add(msg)

	assert.Len(t, conv.Snapshot().Messages, 1)
}

func TestConfirm_ReplacesInPlace(t *testing.T) {
	conv := newConv(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	optimistic := chat.NewOptimistic("c1", "hello", chat.RoleUser, chat.TypeText, 0)
	conv.Add(optimistic)

	confirmed := serverRow("m1", t0, optimistic.ID)
	confirmed.Content = "hello"
	require.True(t, conv.Confirm(optimistic.ID, confirmed))

	snap := conv.Snapshot()
	// Net +1 from the send, +0 from the confirm.
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.Equal(t, chat.StatusSent, snap.Messages[0].Status)
	assert.False(t, snap.IsProcessing)
	assert.Empty(t, snap.Pending)
}

func TestConfirm_AfterRealtimeAlreadyReconciled(t *testing.T) {
	conv := newConv(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	optimistic := chat.NewOptimistic("c1", "hello", chat.RoleUser, chat.TypeText, 0)
	conv.Add(optimistic)

	// Realtime push lands before the HTTP response.
	row := serverRow("m1", t0, optimistic.ID)
	conv.ApplyEvents([]chat.Event{{Type: chat.EventInsert, ChatID: "c1", Message: row}})

	// HTTP response confirms the same send afterwards.
	conv.Confirm(optimistic.ID, row)

	snap := conv.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.False(t, snap.IsProcessing)
}

func TestOrderInvariantUnderRace(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	optimistic := chat.NewOptimistic("c1", "hello", chat.RoleUser, chat.TypeText, 1)
	optimistic.CreatedAt = t0.Add(time.Second)
	confirmed := serverRow("m1", t0.Add(time.Second), optimistic.ID)
	neighbor := serverRow("m0", t0, "")

	// Path A: HTTP confirmation first, then realtime push.
	a := New("c1", zerolog.Nop())
	a.Add(optimistic)
	a.SetMessages([]chat.Message{neighbor})
	a.Confirm(optimistic.ID, confirmed)
	a.ApplyEvents([]chat.Event{{Type: chat.EventInsert, ChatID: "c1", Message: confirmed}})

	// Path B: realtime push first, then HTTP confirmation.
	b := New("c1", zerolog.Nop())
	b.Add(optimistic)
	b.SetMessages([]chat.Message{neighbor})
	b.ApplyEvents([]chat.Event{{Type: chat.EventInsert, ChatID: "c1", Message: confirmed}})
	b.Confirm(optimistic.ID, confirmed)

	idsA := ids(a.Snapshot().Messages)
	idsB := ids(b.Snapshot().Messages)
	assert.Equal(t, idsA, idsB)
	assert.Equal(t, []string{"m0", "m1"}, idsA)
}

func TestFail_RetainsMessageWithError(t *testing.T) {
	conv := newConv(t)

	msg := chat.NewOptimistic("c1", "hello", chat.RoleUser, chat.TypeText, 0)
	conv.Add(msg)
	require.NoError(t, conv.Fail(msg.ID, "network unreachable"))

	snap := conv.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, chat.StatusError, snap.Messages[0].Status)
	assert.Equal(t, "network unreachable", snap.Messages[0].Error)
	assert.False(t, snap.IsProcessing)
}

func TestFail_IgnoredAfterSettled(t *testing.T) {
	conv := newConv(t)
	t0 := time.Now()

	optimistic := chat.NewOptimistic("c1", "hello", chat.RoleUser, chat.TypeText, 0)
	conv.Add(optimistic)
	conv.Confirm(optimistic.ID, serverRow("m1", t0, optimistic.ID))

	require.NoError(t, conv.Fail("m1", "late failure"))
	assert.Equal(t, chat.StatusSent, conv.Snapshot().Messages[0].Status)
}

func TestRetry_ReusesID(t *testing.T) {
	conv := newConv(t)

	msg := chat.NewOptimistic("c1", "hello", chat.RoleUser, chat.TypeText, 0)
	conv.Add(msg)
	require.NoError(t, conv.Fail(msg.ID, "boom"))

	again, err := conv.Retry(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, again.ID)
	assert.Equal(t, chat.StatusSending, again.Status)
	assert.True(t, conv.Snapshot().IsProcessing)
}

func TestRetry_OnlyFromError(t *testing.T) {
	conv := newConv(t)

	msg := chat.NewOptimistic("c1", "hello", chat.RoleUser, chat.TypeText, 0)
	conv.Add(msg)

	_, err := conv.Retry(msg.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestSetMessages_PreservesPending(t *testing.T) {
	conv := newConv(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	pending := chat.NewOptimistic("c1", "in flight", chat.RoleUser, chat.TypeText, 1)
	conv.Add(pending)

	conv.SetMessages([]chat.Message{serverRow("m1", t0, "")})

	snap := conv.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.True(t, snap.IsProcessing)
	assert.True(t, containsID(snap.Messages, pending.ID))
	assert.True(t, containsID(snap.Messages, "m1"))
}

func TestSetMessages_KeepsJustConfirmedRows(t *testing.T) {
	conv := newConv(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	optimistic := chat.NewOptimistic("c1", "hello", chat.RoleUser, chat.TypeText, 1)
	conv.Add(optimistic)
	conv.Confirm(optimistic.ID, serverRow("m1", t0, optimistic.ID))

	// A list response that started before the send settles lacks the
	// confirmed row; it must not vanish from the view.
	conv.SetMessages([]chat.Message{serverRow("m0", t0.Add(-time.Minute), "")})
	assert.Equal(t, []string{"m0", "m1"}, ids(conv.Snapshot().Messages))

	// A later list that includes the row settles it for good.
	conv.SetMessages([]chat.Message{serverRow("m0", t0.Add(-time.Minute), ""), serverRow("m1", t0, "")})
	assert.Equal(t, []string{"m0", "m1"}, ids(conv.Snapshot().Messages))
}

func TestSetMessages_ReconcilesPendingByTempID(t *testing.T) {
	conv := newConv(t)
	t0 := time.Now()

	pending := chat.NewOptimistic("c1", "in flight", chat.RoleUser, chat.TypeText, 0)
	conv.Add(pending)

	conv.SetMessages([]chat.Message{serverRow("m1", t0, pending.ID)})

	snap := conv.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.False(t, snap.IsProcessing)
}

func TestApplyEvents_SequenceZeroKeepsItsSlot(t *testing.T) {
	conv := newConv(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// The chat's first message carries sequence 0. It arrives after a
	// later row with the same timestamp and must still sort first.
	later := serverRow("m1", t0, "")
	later.Sequence = 1
	first := serverRow("m0", t0, "")
	first.Sequence = 0

	conv.ApplyEvents([]chat.Event{{Type: chat.EventInsert, ChatID: "c1", Message: later}})
	conv.ApplyEvents([]chat.Event{{Type: chat.EventInsert, ChatID: "c1", Message: first}})

	snap := conv.Snapshot()
	require.Equal(t, []string{"m0", "m1"}, ids(snap.Messages))
	assert.Equal(t, 0, snap.Messages[0].Sequence)
}

func TestApplyEvents_AbsentSequenceDefaultsToListLength(t *testing.T) {
	conv := newConv(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	conv.SetMessages([]chat.Message{serverRow("m1", t0, "")})

	ev, err := chat.ParseEvent([]byte(`{"type":"INSERT","chat_id":"c1","record":{"id":"m2","chat_id":"c1","content":"hi","created_at":"2026-03-01T09:00:05Z"}}`))
	require.NoError(t, err)
	conv.ApplyEvents([]chat.Event{ev})

	snap := conv.Snapshot()
	require.Equal(t, []string{"m1", "m2"}, ids(snap.Messages))
	assert.Equal(t, 1, snap.Messages[1].Sequence)
}

func TestApplyEvents_SingleDispatchForBatch(t *testing.T) {
	conv := newConv(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	conv.ApplyEvents([]chat.Event{
		{Type: chat.EventInsert, ChatID: "c1", Message: serverRow("m1", t0, "")},
		{Type: chat.EventInsert, ChatID: "c1", Message: serverRow("m2", t0.Add(time.Second), "")},
		{Type: chat.EventInsert, ChatID: "c1", Message: serverRow("m1", t0, "")}, // duplicate delivery
	})

	snap := conv.Snapshot()
	assert.Equal(t, []string{"m1", "m2"}, ids(snap.Messages))
}

func TestApplyEvents_UpdateAdvancesStatusMonotonically(t *testing.T) {
	conv := newConv(t)
	t0 := time.Now()

	row := serverRow("m1", t0, "")
	conv.SetMessages([]chat.Message{row})

	seen := row
	seen.Status = chat.StatusSeen
	conv.ApplyEvents([]chat.Event{{Type: chat.EventUpdate, ChatID: "c1", Message: seen}})
	assert.Equal(t, chat.StatusSeen, conv.Snapshot().Messages[0].Status)

	// A stale delivered update must not move the status backwards.
	stale := row
	stale.Status = chat.StatusDelivered
	conv.ApplyEvents([]chat.Event{{Type: chat.EventUpdate, ChatID: "c1", Message: stale}})
	assert.Equal(t, chat.StatusSeen, conv.Snapshot().Messages[0].Status)
}

func TestApplyEvents_DropsEventsForOtherChats(t *testing.T) {
	conv := newConv(t)

	conv.ApplyEvents([]chat.Event{
		{Type: chat.EventInsert, ChatID: "other", Message: serverRow("m1", time.Now(), "")},
	})

	assert.Empty(t, conv.Snapshot().Messages)
}

func TestEditLifecycle(t *testing.T) {
	conv := newConv(t)
	t0 := time.Now()
	conv.SetMessages([]chat.Message{serverRow("m1", t0, ""), serverRow("m2", t0.Add(time.Second), "")})

	require.NoError(t, conv.StartEdit("m1"))
	assert.ErrorIs(t, conv.StartEdit("m2"), ErrEditPending)

	require.NoError(t, conv.SaveEdit("m1", "amended"))
	snap := conv.Snapshot()
	assert.Equal(t, "amended", snap.Messages[0].Content)
	assert.True(t, snap.Messages[0].Edited)
	assert.Empty(t, snap.EditingID)

	require.NoError(t, conv.StartEdit("m2"))
	conv.CancelEdit()
	assert.Empty(t, conv.Snapshot().EditingID)
}

func TestClear(t *testing.T) {
	conv := newConv(t)
	conv.Add(chat.NewOptimistic("c1", "x", chat.RoleUser, chat.TypeText, 0))

	conv.Clear()

	snap := conv.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.IsProcessing)
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
