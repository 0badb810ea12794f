package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string, version, commit string) error {
	return newRootCommand(version, commit).Run(ctx, args)
}

func newRootCommand(version, commit string) *cli.Command {
	return &cli.Command{
		Name:    "chat-relay",
		Usage:   "Streaming chat relay for the Helicone AI gateway",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: "text",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			configCommand(),
		},
	}
}

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"log-level":     "log.level",
	"log-format":    "log.format",
	"log-exporter":  "log.exporter",
	"listen":        "server.listen",
	"upstream-url":  "upstream.base_url",
	"default-model": "upstream.default_model",
}

// flagOverrides collects the flags given explicitly on the command line, so
// flag defaults never shadow values from the config file or environment.
func flagOverrides(cmd *cli.Command) map[string]any {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if cmd.IsSet(flag) {
			overrides[key] = cmd.String(flag)
		}
	}
	return overrides
}
