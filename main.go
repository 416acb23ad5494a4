package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/ferndale-health/stitch/internal/commands"
	"github.com/ferndale-health/stitch/internal/core/chat"
	"github.com/ferndale-health/stitch/internal/core/config"
	"github.com/ferndale-health/stitch/internal/notify"
	"github.com/ferndale-health/stitch/internal/printer"
	"github.com/ferndale-health/stitch/internal/stitch"
	"github.com/ferndale-health/stitch/internal/store/jsonfile"
	"github.com/ferndale-health/stitch/internal/sync/api"
	"github.com/ferndale-health/stitch/internal/sync/realtime"
	"github.com/ferndale-health/stitch/pkg/utils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}

	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

func main() {
	if err := setupLogger("info", "", nil); err != nil {
		panic(err)
	}

	var (
		p     = printer.New(os.Stderr)
		ctx   = printer.NewContext(context.Background(), p)
		flags = &commands.Flags{}
	)

	var deferredLogs *utils.DeferredWriter
	var rtManager *realtime.Manager

	app := &cli.Command{
		Name:      "stitch",
		Usage:     "Synchronized chat sessions from the terminal",
		UsageText: "stitch [global options] command [command options]",
		Description: `Stitch keeps a local chat view converged with the server: sends show up
instantly as placeholders, realtime pushes are merged in order, and failures
retry with backoff before asking you to intervene.

Run 'stitch' with no arguments to open the interactive chat view.
Run 'stitch send' to deliver a single message from a script.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("STITCH_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (optional)",
				Sources:     cli.EnvVars("STITCH_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("STITCH_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("STITCH_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// Detect TUI mode: no subcommand means TUI (default action)
			isTUI := len(c.Args().Slice()) == 0 && term.IsTerminal(int(os.Stdout.Fd()))

			// In TUI mode, buffer logs to display after exit
			var deferred io.Writer
			if isTUI {
				deferredLogs = &utils.DeferredWriter{}
				deferred = deferredLogs
			}

			if err := setupLogger(flags.LogLevel, flags.LogFile, deferred); err != nil {
				return ctx, err
			}

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				// Doctor and config validate still run against a broken
				// config; everything else surfaces this error.
				flags.LoadErr = fmt.Errorf("load config: %w", err)
				return ctx, nil
			}
			flags.Config = cfg

			client, err := api.NewClient(cfg.Server.URL, cfg.Server.APIKey)
			if err != nil {
				flags.LoadErr = fmt.Errorf("api client: %w", err)
				return ctx, nil
			}
			flags.Client = client

			var (
				logger   = log.With().Str("component", "stitch").Logger()
				cache    = jsonfile.NewCacheStore(cfg.CacheDir()).WithMaxMessages(cfg.Sync.CacheMessages)
				feed     = realtime.NewWebsocketFeed(cfg.Server.URL, cfg.Server.APIKey, log.With().Str("component", "feed").Logger())
				notifier = buildNotifier(cfg, logger)
			)

			rtManager = realtime.NewManager(
				feed,
				&pollFetcher{client: client},
				notifier,
				log.With().Str("component", "realtime").Logger(),
				realtime.WithPollInterval(cfg.Sync.PollInterval),
			)

			flags.Service = stitch.New(client, cache, rtManager, notifier, cfg, logger)
			return ctx, nil
		},
	}

	tuiCmd := commands.NewTuiCmd(flags)

	app = commands.NewSendCmd(flags).Register(app)
	app = commands.NewHistoryCmd(flags).Register(app)
	app = commands.NewChatsCmd(flags).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)
	app = commands.NewDoctorCmd(flags).Register(app)

	// Register TUI flags on root command
	app.Flags = append(app.Flags, tuiCmd.Flags()...)

	// Set TUI as default action when no subcommand is provided
	app.Action = func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() > 0 {
			return fmt.Errorf("unknown command %q. Run 'stitch --help' for usage", c.Args().First())
		}
		return tuiCmd.Run(ctx, c)
	}

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Println()
		printer.Ctx(ctx).FatalError(err)
		exitCode = 1
	}

	// Tear down sessions and subscriptions before exit.
	if flags.Service != nil {
		flags.Service.CloseAll()
	}
	if rtManager != nil {
		rtManager.Close()
	}

	// Flush deferred logs to console after TUI exits
	if deferredLogs != nil {
		if err := deferredLogs.Flush(zerolog.ConsoleWriter{Out: os.Stderr}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
		}
	}

	os.Exit(exitCode)
}

// buildNotifier always logs; the desktop sink is added when enabled.
func buildNotifier(cfg *config.Config, logger zerolog.Logger) notify.Notifier {
	sinks := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.Notifications.Desktop {
		sinks = append(sinks, notify.NewDesktopNotifier(logger))
	}
	return sinks
}

// pollFetcher adapts the API client to the realtime degraded-mode fetcher.
type pollFetcher struct {
	client *api.Client
}

func (f *pollFetcher) FetchSince(ctx context.Context, res realtime.Resource, since time.Time) ([]chat.Message, error) {
	return f.client.ListMessages(ctx, res.ID, since)
}

func setupLogger(level string, logFile string, deferred io.Writer) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}

	if logFile != "" {
		// Create log directory if it doesn't exist
		logDir := filepath.Dir(logFile)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		// Open log file
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		if deferred != nil {
			// TUI mode with explicit log file - write to both file and deferred buffer
			output = io.MultiWriter(file, deferred)
		} else {
			// Write to both console and file
			output = io.MultiWriter(
				zerolog.ConsoleWriter{Out: os.Stderr},
				file,
			)
		}
	} else if deferred != nil {
		// TUI mode without log file - buffer for display after exit
		output = deferred
	}

	log.Logger = log.Output(output).Level(parsedLevel)

	return nil
}
