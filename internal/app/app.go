// Package app wires every component into a running router process: the
// state store, pool client, notifier, filter registry, routing config, the
// per-route workers under internal/router, and the performance monitor.
// Grounded on the teacher's internal/app/app.go + wire.go composition root,
// adapted from a single-strategy trading bot to N configured routes.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/copytrade/router/internal/config"
)

// App holds only what Run and Close need once Wire has built the real
// dependencies. It does no I/O itself; New never fails.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	deps    *Dependencies
	closers []func()
}

// New returns an App ready to be started with Run. No connections are made
// and nothing can fail here; that work happens inside Wire, invoked from
// Run.
func New(cfg *config.Config, log *slog.Logger) *App {
	return &App{cfg: cfg, log: log}
}

// Run wires every dependency, starts every route's worker, the global
// supervisor, the performance monitor, and (if enabled) the control-bus
// command handler, and blocks until ctx is cancelled or an unrecoverable
// error occurs in any of them.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.log)
	a.closers = append(a.closers, cleanup)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.deps = deps

	if err := deps.Router.Start(ctx); err != nil {
		return fmt.Errorf("app: start router: %w", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-egCtx.Done()
		deps.Router.Stop()
		return nil
	})

	eg.Go(func() error {
		return deps.Perf.Run(egCtx)
	})

	if a.cfg.ControlBus.Enabled {
		eg.Go(func() error {
			return deps.Router.RunControlBus(egCtx, deps.HMACKey, a.cfg.Routing.ConfigPath, a.cfg.Routing.ExamplePath)
		})
	}

	eg.Go(func() error {
		return deps.Router.Wait()
	})

	return eg.Wait()
}

// Close releases every connection the App holds. Safe to call multiple
// times and safe to call even if Run returned before Wire finished.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// MustLogger builds the process-wide slog.Logger from the configured log
// level, writing JSON to stdout. Exported for cmd/copyrouter's use before
// App.New is called.
func MustLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
