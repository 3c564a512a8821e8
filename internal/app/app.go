// Package app wires the hub, storage, exchange cache, and HTTP transport
// into one runnable unit.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/overlaykit/chathub/internal/config"
	"github.com/overlaykit/chathub/internal/exchange"
	"github.com/overlaykit/chathub/internal/hub"
	"github.com/overlaykit/chathub/internal/layout"
	"github.com/overlaykit/chathub/internal/store"
	"github.com/overlaykit/chathub/internal/store/sqlite"
	"github.com/overlaykit/chathub/internal/telemetry"
	transporthttp "github.com/overlaykit/chathub/internal/transport/http"
)

// App holds the wired components.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *hub.Hub
	rates           *exchange.Cache
	store           store.PaidMessageStore
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// A broken durable log must not keep the hub from starting; fall back
	// to in-memory storage and run degraded.
	var st store.PaidMessageStore
	st, err := sqlite.New(cfg.ResolvedDatabasePath())
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.ResolvedDatabasePath()).
			Msg("durable log unavailable, paid messages will not survive restarts")
		telemetry.Init()
		telemetry.DegradedMode.Set(1)
		st = store.NewMemory()
	} else {
		logger.Info().Str("db_path", cfg.ResolvedDatabasePath()).Msg("durable log initialized")
	}

	layouts, err := layout.NewStore(cfg.ResolvedLayoutsDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("init layout store: %w", err)
	}

	rates := exchange.New(exchange.Options{
		URL:          cfg.RatesURL,
		SnapshotPath: cfg.ResolvedRatesCachePath(),
		Interval:     cfg.RatesRefreshInterval,
	}, logger)

	h := hub.New(hub.Options{
		Store:        st,
		Layouts:      layouts,
		Rates:        rates,
		Logger:       logger,
		HistoryLimit: cfg.HistoryLimit,
		ReplayWindow: cfg.ReplayWindow,
	})

	server := transporthttp.NewServer(h, layouts, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             h,
		rates:           rates,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	hubDone := make(chan struct{})

	go a.rates.Run(ctx)
	go func() {
		a.hub.Run(ctx)
		close(hubDone)
	}()

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup(hubDone)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup(hubDone)
			return err
		}

		a.cleanup(hubDone)
		return <-serverErr
	}
}

// cleanup waits for the hub to drain pending writes, then closes the
// durable log.
func (a *App) cleanup(hubDone <-chan struct{}) {
	select {
	case <-hubDone:
	case <-time.After(a.shutdownTimeout + 10*time.Second):
		a.log.Warn().Msg("hub did not drain in time")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
