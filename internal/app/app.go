package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/chat-relay/chat-relay/internal/registry"
	"github.com/chat-relay/chat-relay/internal/relay"
	"github.com/chat-relay/chat-relay/internal/upstream"
)

// App orchestrates the lifecycle of the relay server and related services.
type App struct {
	cfg    Config
	health *Health
	relay  *relay.Relay
}

// New wires the upstream gateway, model registry and relay server from cfg.
// cfg is expected to be validated already.
func New(cfg Config) (*App, error) {
	gateway, err := upstream.NewGateway(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream gateway: %w", err)
	}

	models := registry.New(cfg.Registry.URL,
		registry.WithCacheTTL(cfg.Registry.CacheTTL),
		registry.WithTimeout(cfg.Registry.Timeout),
	)

	health := NewHealth()

	opts := []relay.Option{
		relay.WithDefaultModel(cfg.Upstream.DefaultModel),
		relay.WithMaxRequestBytes(cfg.Server.MaxRequestBytes),
		relay.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, relay.WithMetrics(relay.NewMetrics(nil), cfg.Metrics.Path))
	}

	relayServer, err := relay.New(gateway, models, health, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay: %w", err)
	}

	return &App{
		cfg:    cfg,
		health: health,
		relay:  relayServer,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting relay server", "upstream", a.cfg.Upstream.BaseURL)
	relayErrCh, err := a.relay.Start(gCtx, a.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("relay startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.relay.Shutdown)

	a.health.SetReady(true)
	// Runs first on shutdown so load balancers stop routing before streams drain
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		a.health.SetReady(false)
		return nil
	})

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-relayErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "relay runtime error", "error", err)
				return fmt.Errorf("relay: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.InfoContext(shutdownCtx, "application stopped")
	return nil
}
