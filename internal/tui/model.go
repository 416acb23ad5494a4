package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ferndale-health/stitch/internal/core/chat"
	"github.com/ferndale-health/stitch/internal/core/conversation"
	"github.com/ferndale-health/stitch/internal/stitch"
	"github.com/ferndale-health/stitch/internal/sync/realtime"
)

// snapshotPollInterval is how often the view re-reads the reducer. The
// reducer batches realtime bursts already, so a short poll stays cheap.
const snapshotPollInterval = 250 * time.Millisecond

// Key constants for event handling.
const (
	keyEnter = "enter"
	keyCtrlC = "ctrl+c"
	keyCtrlR = "ctrl+r"
	keyEsc   = "esc"
)

// pollTickMsg triggers the next snapshot read.
type pollTickMsg struct{}

// snapshotMsg carries the latest reducer state into the view.
type snapshotMsg struct {
	snapshot conversation.Snapshot
	status   realtime.Status
}

// sendSettledMsg is sent when a dispatched message's retry chain finishes.
type sendSettledMsg struct {
	result stitch.SendResult
}

// Model is the main Bubble Tea model for the chat view.
type Model struct {
	service *stitch.Service
	chatID  string

	snapshot conversation.Snapshot
	status   realtime.Status
	input    textinput.Model

	width    int
	height   int
	err      error
	quitting bool
}

// New creates the chat view model. The chat session must already be open.
func New(service *stitch.Service, chatID string) Model {
	input := textinput.New()
	input.Placeholder = "Type a message"
	input.Prompt = "> "
	input.Focus()

	return Model{
		service: service,
		chatID:  chatID,
		status:  realtime.StatusConnecting,
		input:   input,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.readSnapshot(), textinput.Blink)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case pollTickMsg:
		return m, m.readSnapshot()

	case snapshotMsg:
		m.snapshot = msg.snapshot
		m.status = msg.status
		return m, m.schedulePoll()

	case sendSettledMsg:
		if msg.result.Err != nil {
			m.err = msg.result.Err
		}
		return m, m.readSnapshot()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case keyCtrlC, keyEsc:
		m.quitting = true
		return m, tea.Quit

	case keyEnter:
		content := m.input.Value()
		m.input.Reset()
		m.err = nil
		return m, m.send(content)

	case keyCtrlR:
		m.err = nil
		return m, m.retryLastFailed()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// readSnapshot reads the reducer state off the Bubble Tea goroutine.
func (m Model) readSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.service.Snapshot(m.chatID)
		if err != nil {
			return snapshotMsg{status: realtime.StatusClosed}
		}
		return snapshotMsg{
			snapshot: snap,
			status:   m.service.ConnectionStatus(m.chatID),
		}
	}
}

func (m Model) schedulePoll() tea.Cmd {
	return tea.Tick(snapshotPollInterval, func(time.Time) tea.Msg {
		return pollTickMsg{}
	})
}

// send dispatches the composed message and waits for the chain to settle in
// the background. The placeholder shows up on the next snapshot poll.
func (m Model) send(content string) tea.Cmd {
	return func() tea.Msg {
		_, results, err := m.service.Send(context.Background(), m.chatID, content)
		if err != nil {
			return sendSettledMsg{result: stitch.SendResult{Err: err}}
		}
		return sendSettledMsg{result: <-results}
	}
}

// retryLastFailed resends the most recent message in the error state.
func (m Model) retryLastFailed() tea.Cmd {
	var failed *chat.Message
	for i := len(m.snapshot.Messages) - 1; i >= 0; i-- {
		if m.snapshot.Messages[i].Status == chat.StatusError {
			failed = &m.snapshot.Messages[i]
			break
		}
	}
	if failed == nil {
		return nil
	}

	id := failed.ID
	return func() tea.Msg {
		results, err := m.service.RetrySend(context.Background(), m.chatID, id)
		if err != nil {
			return sendSettledMsg{result: stitch.SendResult{Err: err}}
		}
		return sendSettledMsg{result: <-results}
	}
}
