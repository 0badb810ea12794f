package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/chat-relay/chat-relay/internal/app"
	"github.com/chat-relay/chat-relay/internal/observability"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Starts the relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "address to listen on (host:port)",
			},
			&cli.StringFlag{
				Name:  "upstream-url",
				Usage: "base URL of the OpenAI-compatible gateway",
			},
			&cli.StringFlag{
				Name:  "default-model",
				Usage: "model used when a request names none",
			},
			&cli.StringFlag{
				Name:  "log-exporter",
				Usage: "OpenTelemetry log exporter (none|stdout|otlp-http|otlp-grpc)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), flagOverrides(cmd), os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logOpts, err := cfg.Log.Options()
	if err != nil {
		return err
	}

	// Set up observability before creating app
	shutdownLogs, err := observability.Instrument(ctx, logOpts)
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() {
		// ctx is already cancelled here; flushing gets its own deadline
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownLogs(flushCtx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
		}
	}()

	application, err := app.New(*cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting", "version", cmd.Root().Version, "listen", cfg.Server.Listen)

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
