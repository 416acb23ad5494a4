package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/ferndale-health/stitch/internal/printer"
)

type SendCmd struct {
	flags *Flags
	chat  string
}

// NewSendCmd creates a new send command
func NewSendCmd(flags *Flags) *SendCmd {
	return &SendCmd{flags: flags}
}

// Register adds the send command to the application
func (cmd *SendCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "send",
		Usage:       "Send a message to a chat",
		UsageText:   "stitch send --chat <chat-id> <message...>",
		Description: "Sends one message and waits for the delivery to settle, retrying transient failures.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "chat",
				Usage:       "chat id to send to",
				Required:    true,
				Destination: &cmd.chat,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *SendCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	svc, err := cmd.flags.RequireService()
	if err != nil {
		return err
	}

	content := strings.Join(c.Args().Slice(), " ")

	if _, err := svc.Open(ctx, cmd.chat); err != nil {
		return fmt.Errorf("open chat: %w", err)
	}
	defer svc.Close(cmd.chat)

	_, results, err := svc.Send(ctx, cmd.chat, content)
	if err != nil {
		return err
	}

	res := <-results
	if res.Err != nil {
		return fmt.Errorf("send message: %w", res.Err)
	}

	p.Successf("Delivered as %s", res.Message.ID)
	return nil
}
