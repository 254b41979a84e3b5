package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/htmxchat/internal/chat"
	"github.com/pscheid92/htmxchat/internal/domain"
	apperrors "github.com/pscheid92/htmxchat/internal/platform/errors"
)

const chatPath = "/chat"

func (s *Server) registerChatRoutes() {
	s.echo.GET("/", s.handleLanding)
	s.echo.GET(chatPath, s.handleChat)
}

func (s *Server) handleLanding(c echo.Context) error {
	return s.renderTemplate(c, "landing.html", map[string]any{
		"Title":    "htmxchat",
		"ChatPath": chatPath,
	})
}

// handleChat serves the chat page to plain requests and runs a chat session
// on WebSocket upgrade requests.
func (s *Server) handleChat(c echo.Context) error {
	if !isUpgradeRequest(c.Request()) {
		return s.renderTemplate(c, "chat.html", map[string]any{
			"Title":      "Chat",
			"SocketPath": chatPath,
		})
	}
	return s.handleChatSocket(c)
}

func isUpgradeRequest(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Upgrade")), "websocket")
}

func (s *Server) handleChatSocket(c echo.Context) error {
	ctx := c.Request().Context()
	ip := c.RealIP()

	if !s.hub.Running() {
		s.chatMetrics.ConnectionsRejected.WithLabelValues("hub_stopped").Inc()
		return apperrors.UnavailableError("chat is not accepting connections", domain.ErrHubStopped)
	}

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		s.chatMetrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		return apperrors.UnavailableError("too many chat connections", nil).
			WithField("reason", string(reason)).
			WithField("remote_ip", ip)
	}
	defer s.limits.Release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already replied with an HTTP error
		s.chatMetrics.ConnectionsRejected.WithLabelValues("handshake").Inc()
		slog.DebugContext(ctx, "WebSocket handshake failed", "remote_ip", ip, "error", err)
		return nil
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.sessionsCtx, cancel)
	defer stop()

	session := chat.NewSession(conn, s.hub, s.history, s.templates, s.clock, s.chatMetrics, s.sessionConfig)
	slog.DebugContext(ctx, "Chat connection upgraded", "connection_id", session.ID().String(), "remote_ip", ip)

	// Run logs its own outcome, and an HTTP error cannot be sent after the
	// handshake.
	_ = session.Run(sessionCtx)
	return nil
}
