package commands

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/ferndale-health/stitch/internal/core/chat"
	"github.com/ferndale-health/stitch/internal/printer"
)

type ChatsCmd struct {
	flags *Flags
}

// NewChatsCmd creates a new chats command
func NewChatsCmd(flags *Flags) *ChatsCmd {
	return &ChatsCmd{flags: flags}
}

// Register adds the chats command to the application
func (cmd *ChatsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "chats",
		Usage:       "List available chats",
		UsageText:   "stitch chats",
		Description: "Displays a table of the chats visible to the configured API key.",
		Action:      cmd.run,
	})

	return app
}

func (cmd *ChatsCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	svc, err := cmd.flags.RequireService()
	if err != nil {
		return err
	}

	chats, err := svc.Chats(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	if len(chats) == 0 {
		p.Infof("No chats found")
		return nil
	}

	slices.SortFunc(chats, func(a, b chat.Chat) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tUPDATED")

	for _, ch := range chats {
		title := ch.Title
		if strings.TrimSpace(title) == "" {
			title = "(untitled)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", ch.ID, title, ch.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}

	return w.Flush()
}
