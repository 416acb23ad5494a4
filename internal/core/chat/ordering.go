package chat

import "sort"

// SortMessages returns a new slice sorted by created_at ascending, ties
// broken by metadata sort index, then sequence. The sort is stable and
// idempotent: sorting an already-sorted list yields an equal list.
func SortMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Metadata.SortIndex != b.Metadata.SortIndex {
			return a.Metadata.SortIndex < b.Metadata.SortIndex
		}
		return a.Sequence < b.Sequence
	})

	return out
}

// IsDuplicate reports whether any element of msgs shares candidate's id.
func IsDuplicate(msgs []Message, candidate Message) bool {
	for _, m := range msgs {
		if m.ID == candidate.ID {
			return true
		}
	}
	return false
}

// MergeIncoming reconciles one incoming message into the list. Optimistic
// entries correlated to the incoming row by temp id are replaced, a row
// already present by id is patched in place, and anything else is appended.
// The result is sorted and contains each id at most once.
func MergeIncoming(msgs []Message, incoming Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	replaced := false

	for _, m := range msgs {
		switch {
		case m.ID == incoming.ID:
			// Duplicate delivery; the newer representation wins.
			out = append(out, incoming)
			replaced = true
		case m.IsOptimistic && incoming.Metadata.TempID != "" && m.Metadata.TempID == incoming.Metadata.TempID:
			// The server-confirmed row for this optimistic send.
			out = append(out, incoming)
			replaced = true
		default:
			out = append(out, m)
		}
	}

	if !replaced {
		out = append(out, incoming)
	}

	return SortMessages(dedupe(out))
}

// dedupe keeps the last occurrence of each id, preserving order otherwise.
// MergeIncoming can introduce a duplicate when a confirmed row matches both
// by id and by temp id across separate elements.
func dedupe(msgs []Message) []Message {
	last := make(map[string]int, len(msgs))
	for i, m := range msgs {
		last[m.ID] = i
	}
	out := msgs[:0]
	for i, m := range msgs {
		if last[m.ID] == i {
			out = append(out, m)
		}
	}
	return out
}
