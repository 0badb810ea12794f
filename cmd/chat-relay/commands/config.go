package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/chat-relay/chat-relay/internal/app"
)

// envPrefix marks environment variables read as configuration. A double
// underscore separates nesting levels: CHAT_RELAY_SERVER__LISTEN sets server.listen.
const envPrefix = "CHAT_RELAY_"

func configCommand() *cli.Command {
	return &cli.Command{
		Name:   "config",
		Usage:  "Prints the effective configuration",
		Action: configAction,
	}
}

func configAction(ctx context.Context, cmd *cli.Command) error {
	k, err := loadKoanf(cmd.String("config"), flagOverrides(cmd), os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := unmarshalConfig(k); err != nil {
		return err
	}

	out, err := k.Marshal(toml.Parser())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = cmd.Root().Writer.Write(out)
	return err
}

// loadConfig resolves the configuration from, in increasing precedence:
// defaults, the TOML file at path (if any), the environment, and overrides.
func loadConfig(path string, overrides map[string]any, environ func() []string) (*app.Config, error) {
	k, err := loadKoanf(path, overrides, environ)
	if err != nil {
		return nil, err
	}
	return unmarshalConfig(k)
}

func loadKoanf(path string, overrides map[string]any, environ func() []string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(app.Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: envKey,
		EnvironFunc:   environ,
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to apply flags: %w", err)
		}
	}

	return k, nil
}

func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", "."), value
}

func unmarshalConfig(k *koanf.Koanf) (*app.Config, error) {
	var cfg app.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
