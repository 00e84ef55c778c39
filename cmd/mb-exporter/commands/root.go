package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/chrko/mb-exporter/internal/app"
	"github.com/chrko/mb-exporter/internal/observability"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// logFlushTimeout bounds the final log export on shutdown.
const logFlushTimeout = 5 * time.Second

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:    "mb-exporter",
		Usage:   "Mercedes-Benz vehicle data Prometheus exporter",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
		},
		Commands: []*cli.Command{
			startCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name: "start",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (auto|text|json|otlp)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.StringFlag{
				Name:  "vehicle--vin",
				Usage: "vehicle identification number",
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "credential storage backend (file|keyring)",
				Value: string(app.DefaultConfigStorageType),
			},
			&cli.StringFlag{
				Name:  "storage--file",
				Usage: "state file path for file storage",
			},
		},
		Action: startAction,
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdownLogs, err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat))
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), logFlushTimeout)
		defer cancel()
		if err := shutdownLogs(flushCtx); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs: %v\n", err)
		}
	}()

	application, err := app.New(ctx, cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting", "version", version)

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
