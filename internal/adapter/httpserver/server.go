package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/htmxchat/internal/adapter/metrics"
	"github.com/pscheid92/htmxchat/internal/broadcast"
	"github.com/pscheid92/htmxchat/internal/chat"
	"github.com/pscheid92/htmxchat/internal/domain"
	"github.com/pscheid92/htmxchat/internal/platform/config"
	"github.com/pscheid92/htmxchat/internal/render"
)

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	hub       *broadcast.Hub
	history   domain.HistoryProvider
	templates *render.Templates

	chatMetrics    *metrics.ChatMetrics
	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler

	limits        *ConnectionLimits
	upgrader      websocket.Upgrader
	sessionConfig chat.Config

	// sessionsCtx is cancelled on shutdown to end hijacked chat connections,
	// which echo's own shutdown does not track.
	sessionsCtx    context.Context
	cancelSessions context.CancelFunc
	sessions       sync.WaitGroup

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(
	cfg *config.Config,
	hub *broadcast.Hub,
	history domain.HistoryProvider,
	templates *render.Templates,
	reg *prometheus.Registry,
	chatMetrics *metrics.ChatMetrics,
	clock clockwork.Clock,
	healthChecks []HealthCheck,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	sessionsCtx, cancelSessions := context.WithCancel(context.Background())

	srv := &Server{
		echo:           e,
		config:         cfg,
		clock:          clock,
		hub:            hub,
		history:        history,
		templates:      templates,
		chatMetrics:    chatMetrics,
		httpMetrics:    metrics.NewHTTPMetrics(reg),
		metricsHandler: metrics.Handler(reg),
		limits:         NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
		},
		sessionConfig: chat.Config{
			IdentifyTimeout: cfg.IdentifyTimeout,
			SnapshotTimeout: cfg.SnapshotTimeout,
		},
		sessionsCtx:    sessionsCtx,
		cancelSessions: cancelSessions,
		healthChecks:   healthChecks,
		startTime:      clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, then ends every live chat session and
// waits for them until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.cancelSessions()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for chat sessions: %w", ctx.Err())
	}
}

func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	page, err := s.templates.Page(name, data)
	if err != nil {
		slog.ErrorContext(c.Request().Context(), "Template execution failed", "path", c.Request().URL.Path, "error", err)
		if err := c.String(http.StatusInternalServerError, "Failed to render page"); err != nil {
			return fmt.Errorf("failed to send error response: %w", err)
		}
		return nil
	}
	if err := c.HTMLBlob(http.StatusOK, page); err != nil {
		return fmt.Errorf("failed to send HTML response: %w", err)
	}
	return nil
}
