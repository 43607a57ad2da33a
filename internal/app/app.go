// Package app provides the top-level application lifecycle for the auction
// server. It wires together all dependencies (store, cache, blob storage,
// notifications), builds the engine registry and HTTP/WebSocket server, and
// runs them until the context is cancelled.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pitchside/auctiond/internal/config"
	"github.com/pitchside/auctiond/internal/engine"
	"github.com/pitchside/auctiond/internal/server"
	"github.com/pitchside/auctiond/internal/server/handler"
	"github.com/pitchside/auctiond/internal/server/ws"
)

// shutdownGrace is how long in-flight HTTP requests get to finish.
const shutdownGrace = 10 * time.Second

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions that are called in reverse order on
// shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the HTTP
// server, WebSocket hub and registry janitor, and blocks until the context
// is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.Int("port", a.cfg.Server.Port),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// --- Engine registry ---
	registry := engine.NewRegistry(deps.Store, deps.LockManager, engine.Deps{
		Store:    deps.Store,
		Bus:      &busBroadcaster{bus: deps.SignalBus, logger: a.logger},
		Sched:    engine.NewScheduler(),
		Alerts:   deps.Notifier,
		Archive:  deps.BlobWriter,
		Logger:   a.logger,
		LockWait: a.cfg.Engine.LockWait.Duration,
	}, a.logger)
	a.closers = append(a.closers, registry.Close)

	// --- WebSocket hub ---
	snapshotFn := func(ctx context.Context, orgID, auctionID string) ([]byte, error) {
		eng, err := registry.Get(ctx, orgID, auctionID)
		if err != nil {
			return nil, err
		}
		snap, err := eng.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	}
	hub := ws.NewHub(deps.SignalBus, snapshotFn, a.logger)

	// --- HTTP server ---
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.PG, deps.Redis, a.logger),
		Auctions:  handler.NewAuctionHandler(registry, deps.Store, a.logger),
		Bids:      handler.NewBidHandler(registry, deps.Store, deps.RateLimiter, a.logger),
		Trades:    handler.NewTradeHandler(registry, deps.Store, a.logger),
		Snapshots: handler.NewSnapshotHandler(registry, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminAPIKey: a.cfg.Server.AdminAPIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	g.Go(func() error {
		return ignoreCanceled(registry.Janitor(ctx))
	})

	// Shutdown watcher: when the context ends, stop accepting requests and
	// drain in-flight ones.
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ignoreCanceled filters the expected error from a clean shutdown.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
