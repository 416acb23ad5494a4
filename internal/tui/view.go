package tui

import (
	"fmt"
	"strings"

	"github.com/ferndale-health/stitch/internal/core/chat"
	"github.com/ferndale-health/stitch/internal/sync/realtime"
)

// Status glyphs shown after own messages.
const (
	glyphQueued    = "…"
	glyphSending   = "↑"
	glyphSent      = "✓"
	glyphDelivered = "✓✓"
	glyphSeen      = "✓✓"
	glyphError     = "✘"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(m.chatID))
	b.WriteString("  ")
	b.WriteString(m.renderConnection())
	b.WriteString("\n\n")

	visible := m.visibleMessages()
	for _, msg := range visible {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}

	if m.snapshot.IsProcessing {
		b.WriteString(metaStyle.Render("  sending…"))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render("  " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send • ctrl+r retry failed • esc quit"))

	return b.String()
}

// visibleMessages trims history to what fits the terminal height, newest
// kept.
func (m Model) visibleMessages() []chat.Message {
	msgs := m.snapshot.Messages
	if m.height == 0 {
		return msgs
	}

	// Reserve rows for the title, input line, help and spacing.
	budget := m.height - 7
	if budget < 1 {
		budget = 1
	}
	if len(msgs) > budget {
		msgs = msgs[len(msgs)-budget:]
	}
	return msgs
}

func (m Model) renderMessage(msg chat.Message) string {
	ts := metaStyle.Render(msg.CreatedAt.Local().Format("15:04"))

	var body string
	switch msg.Role {
	case chat.RoleAssistant:
		body = assistantStyle.Render(msg.Content)
	default:
		body = userStyle.Render(msg.Content)
	}

	line := fmt.Sprintf(" %s %s", ts, body)

	if msg.Edited {
		line += " " + editedStyle.Render("(edited)")
	}

	if msg.Role == chat.RoleUser {
		line += " " + m.renderStatus(msg)
	}

	return line
}

func (m Model) renderStatus(msg chat.Message) string {
	switch msg.Status {
	case chat.StatusQueued:
		return metaStyle.Render(glyphQueued)
	case chat.StatusSending:
		return metaStyle.Render(glyphSending)
	case chat.StatusSent:
		return metaStyle.Render(glyphSent)
	case chat.StatusDelivered:
		return metaStyle.Render(glyphDelivered)
	case chat.StatusSeen:
		return connectedStyle.Render(glyphSeen)
	case chat.StatusError:
		return errorStyle.Render(glyphError + " failed")
	default:
		return ""
	}
}

func (m Model) renderConnection() string {
	switch m.status {
	case realtime.StatusSubscribed:
		return connectedStyle.Render("● live")
	case realtime.StatusConnecting:
		return degradedStyle.Render("● connecting")
	case realtime.StatusPolling:
		return degradedStyle.Render("● polling")
	case realtime.StatusChannelError:
		return degradedStyle.Render("● reconnecting")
	default:
		return offlineStyle.Render("● offline")
	}
}
