package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ferndale-health/stitch/internal/core/chat"
	"github.com/ferndale-health/stitch/internal/printer"
)

type HistoryCmd struct {
	flags *Flags
	since string
	limit int
}

// NewHistoryCmd creates a new history command
func NewHistoryCmd(flags *Flags) *HistoryCmd {
	return &HistoryCmd{flags: flags}
}

// Register adds the history command to the application
func (cmd *HistoryCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "history",
		Usage:       "Show a chat's message history",
		UsageText:   "stitch history <chat-id> [options]",
		Description: "Fetches the chat's messages from the server and prints them in delivery order.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "since",
				Usage:       "only show messages after this RFC3339 timestamp",
				Destination: &cmd.since,
			},
			&cli.IntFlag{
				Name:        "limit",
				Usage:       "show at most N most recent messages (0 = all)",
				Destination: &cmd.limit,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *HistoryCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	chatID := c.Args().First()
	if chatID == "" {
		return fmt.Errorf("chat id is required")
	}

	if cmd.flags.Client == nil {
		if cmd.flags.LoadErr != nil {
			return cmd.flags.LoadErr
		}
		return fmt.Errorf("api client not initialized")
	}

	var since time.Time
	if cmd.since != "" {
		parsed, err := time.Parse(time.RFC3339, cmd.since)
		if err != nil {
			return fmt.Errorf("parse --since: %w", err)
		}
		since = parsed
	}

	msgs, err := cmd.flags.Client.ListMessages(ctx, chatID, since)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	msgs = chat.SortMessages(msgs)
	if cmd.limit > 0 && len(msgs) > cmd.limit {
		msgs = msgs[len(msgs)-cmd.limit:]
	}

	if len(msgs) == 0 {
		p.Infof("No messages")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tROLE\tSTATUS\tCONTENT")

	for _, m := range msgs {
		content := m.Content
		if len(content) > 60 {
			content = content[:57] + "..."
		}
		content = strings.ReplaceAll(content, "\n", " ")
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Role, m.Status, content)
	}

	return w.Flush()
}
