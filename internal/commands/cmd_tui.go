package commands

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/ferndale-health/stitch/internal/tui"
)

type TuiCmd struct {
	flags *Flags
	chat  string
}

// NewTuiCmd creates a new tui command
func NewTuiCmd(flags *Flags) *TuiCmd {
	return &TuiCmd{flags: flags}
}

// Flags returns the TUI-specific flags for registration on the root command
func (cmd *TuiCmd) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "chat",
			Usage:       "chat id to open",
			Sources:     cli.EnvVars("STITCH_CHAT"),
			Destination: &cmd.chat,
		},
	}
}

// Run executes the TUI. Exported for use as default command.
func (cmd *TuiCmd) Run(ctx context.Context, c *cli.Command) error {
	return cmd.run(ctx, c)
}

func (cmd *TuiCmd) run(ctx context.Context, _ *cli.Command) error {
	svc, err := cmd.flags.RequireService()
	if err != nil {
		return err
	}

	chatID := cmd.chat
	if chatID == "" {
		// Fall back to the most recently updated chat.
		chats, err := svc.Chats(ctx)
		if err != nil {
			return fmt.Errorf("list chats: %w", err)
		}
		if len(chats) == 0 {
			return fmt.Errorf("no chats available; pass --chat to open one")
		}
		best := chats[0]
		for _, ch := range chats[1:] {
			if ch.UpdatedAt.After(best.UpdatedAt) {
				best = ch
			}
		}
		chatID = best.ID
	}

	if _, err := svc.Open(ctx, chatID); err != nil {
		return fmt.Errorf("open chat: %w", err)
	}
	defer svc.Close(chatID)

	m := tui.New(svc, chatID)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}

	return nil
}
