package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/htmxchat/internal/adapter/httpserver"
	"github.com/pscheid92/htmxchat/internal/adapter/metrics"
	"github.com/pscheid92/htmxchat/internal/broadcast"
	"github.com/pscheid92/htmxchat/internal/history"
	"github.com/pscheid92/htmxchat/internal/platform/config"
	"github.com/pscheid92/htmxchat/internal/platform/logging"
	"github.com/pscheid92/htmxchat/internal/platform/version"
	"github.com/pscheid92/htmxchat/internal/render"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupChat(cfg *config.Config, chatMetrics *metrics.ChatMetrics, clock clockwork.Clock) (*broadcast.Hub, *history.Actor) {
	hub := broadcast.NewHub(cfg.HubBuffer, chatMetrics, clock)

	feed, err := hub.Subscribe()
	if err != nil {
		slog.Error("Failed to subscribe history to hub", "error", err)
		os.Exit(1)
	}

	actor := history.Start(feed, history.Config{
		SnapshotSize: cfg.SnapshotSize,
		QueueSize:    cfg.HistoryQueue,
		Retention:    cfg.HistoryRetention,
	}, chatMetrics)

	return hub, actor
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", append([]any{"env", cfg.AppEnv, "port", cfg.Port}, version.Get().LogAttrs()...)...)

	reg := metrics.NewRegistry()
	chatMetrics := metrics.NewChatMetrics(reg)

	hub, actor := setupChat(cfg, chatMetrics, clock)

	templates, err := render.New()
	if err != nil {
		slog.Error("Failed to load templates", "error", err)
		os.Exit(1)
	}

	srv := httpserver.NewServer(cfg, hub, actor, templates, reg, chatMetrics, clock, httpserver.ChatHealthChecks(hub, actor))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-actor.Done():
			if gctx.Err() == nil {
				slog.Error("History actor terminated unexpectedly, serving without history")
			}
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		hub.Stop()
		actor.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
