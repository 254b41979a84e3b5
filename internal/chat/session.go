package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/htmxchat/internal/adapter/metrics"
	"github.com/pscheid92/htmxchat/internal/broadcast"
	"github.com/pscheid92/htmxchat/internal/domain"
)

const (
	DefaultSnapshotTimeout = 5 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultPingInterval    = 30 * time.Second
	DefaultPongWait        = 60 * time.Second
)

// Config holds the session timing knobs. Zero values select the defaults,
// except IdentifyTimeout where 0 waits for a username indefinitely.
type Config struct {
	IdentifyTimeout time.Duration
	SnapshotTimeout time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdentifyTimeout < 0 {
		c.IdentifyTimeout = 0
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = DefaultSnapshotTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	return c
}

// Session drives one client connection from identification to teardown.
type Session struct {
	id        uuid.UUID
	conn      Conn
	hub       *broadcast.Hub
	history   domain.HistoryProvider
	renderer  domain.Renderer
	clock     clockwork.Clock
	metrics   *metrics.ChatMetrics
	cfg       Config
	log       *slog.Logger
	closeOnce sync.Once
}

// NewSession binds a freshly upgraded connection to the chat core. The
// session owns conn from here on and closes it when Run returns.
func NewSession(
	conn Conn,
	hub *broadcast.Hub,
	history domain.HistoryProvider,
	renderer domain.Renderer,
	clock clockwork.Clock,
	m *metrics.ChatMetrics,
	cfg Config,
) *Session {
	id := uuid.New()
	return &Session{
		id:       id,
		conn:     conn,
		hub:      hub,
		history:  history,
		renderer: renderer,
		clock:    clock,
		metrics:  m,
		cfg:      cfg.withDefaults(),
		log:      slog.Default().With("connection_id", id.String()),
	}
}

// ID returns the connection id used in the session's log lines.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Run blocks until the session ends. It returns nil when the client went
// away normally and the cause otherwise.
func (s *Session) Run(ctx context.Context) error {
	defer s.closeConn()
	stop := context.AfterFunc(ctx, s.closeConn)
	defer stop()

	s.conn.SetReadLimit(maxFrameSize)

	username, err := s.identify(ctx)
	if err != nil {
		reason := "identify_failed"
		switch {
		case errors.Is(err, domain.ErrEmptyUsername):
			reason = "empty_username"
		case errors.Is(err, domain.ErrIdentifyTimeout):
			reason = "identify_timeout"
		}
		s.metrics.SessionsEnded.WithLabelValues(reason).Inc()
		if reason == "identify_failed" && isExpectedClose(err) {
			s.log.DebugContext(ctx, "Client left before identifying", "error", err)
			return nil
		}
		s.log.InfoContext(ctx, "Session ended during identification", "reason", reason, "error", err)
		return err
	}

	log := s.log.With("username", username)

	sub, err := s.hub.Subscribe()
	if err != nil {
		s.metrics.SessionsEnded.WithLabelValues("hub_stopped").Inc()
		log.WarnContext(ctx, "Unable to subscribe to chat hub", "error", err)
		return fmt.Errorf("subscribing to hub: %w", err)
	}
	defer sub.Close()

	s.metrics.ActiveSessions.Inc()
	defer s.metrics.ActiveSessions.Dec()
	log.InfoContext(ctx, "Session identified")

	liveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan error, 1)
	readerDone := make(chan error, 1)
	go func() { writerDone <- s.runWriter(liveCtx, log, username, sub) }()
	go func() { readerDone <- s.runReader(liveCtx, log, username) }()

	var (
		first   string
		pending chan error
	)
	select {
	case err = <-writerDone:
		first, pending = "writer", readerDone
	case err = <-readerDone:
		first, pending = "reader", writerDone
	}

	// The sibling is released by the closed subscription and connection.
	sub.Close()
	cancel()
	s.closeConn()
	<-pending

	reason := first + "_done"
	if errors.Is(err, domain.ErrHistoryUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		reason = "history_unavailable"
	}
	s.metrics.SessionsEnded.WithLabelValues(reason).Inc()

	if err == nil || isExpectedClose(err) {
		log.InfoContext(ctx, "Session ended", "finished_first", first)
		return nil
	}
	log.InfoContext(ctx, "Session ended", "finished_first", first, "error", err)
	return err
}

// identify reads frames until a username arrives. Anything else is discarded.
func (s *Session) identify(ctx context.Context) (string, error) {
	var deadline time.Time
	if s.cfg.IdentifyTimeout > 0 {
		deadline = s.clock.Now().Add(s.cfg.IdentifyTimeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("setting identify deadline: %w", err)
	}

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				return "", fmt.Errorf("%w: %w", domain.ErrIdentifyTimeout, err)
			}
			return "", fmt.Errorf("reading identity frame: %w", err)
		}

		frame, ok := s.decode(ctx, s.log, messageType, data)
		if !ok {
			continue
		}

		identity, ok := frame.(IdentityFrame)
		if !ok {
			s.metrics.FramesRejected.WithLabelValues("unidentified").Inc()
			s.log.DebugContext(ctx, "Discarding message sent before identification")
			continue
		}

		if identity.Username == "" {
			return "", domain.ErrEmptyUsername
		}
		return identity.Username, nil
	}
}

// runWriter sends the history snapshot, then forwards hub messages until the
// subscription closes or a write fails.
func (s *Session) runWriter(ctx context.Context, log *slog.Logger, username string, sub *broadcast.Subscription) error {
	snapshotCtx, cancel := context.WithTimeout(ctx, s.cfg.SnapshotTimeout)
	messages, err := s.history.Snapshot(snapshotCtx)
	cancel()
	if err != nil {
		log.ErrorContext(ctx, "Unable to send initial messages", "error", err)
		return fmt.Errorf("fetching history snapshot: %w", err)
	}

	payload, err := s.renderer.History(username, messages)
	if err != nil {
		return fmt.Errorf("rendering history: %w", err)
	}
	if err := s.write(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}

	ticker := s.clock.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return domain.ErrSubscriptionClosed
			}
			payload, err := s.renderer.Message(username, msg)
			if err != nil {
				log.ErrorContext(ctx, "Failed to render chat message", "error", err)
				continue
			}
			if err := s.write(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("writing message: %w", err)
			}
		case <-ticker.Chan():
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("writing ping: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runReader publishes the client's messages until the connection fails.
func (s *Session) runReader(ctx context.Context, log *slog.Logger, username string) error {
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(s.clock.Now().Add(s.cfg.PongWait))
	})
	if err := s.conn.SetReadDeadline(s.clock.Now().Add(s.cfg.PongWait)); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading client frame: %w", err)
		}
		if err := s.conn.SetReadDeadline(s.clock.Now().Add(s.cfg.PongWait)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		frame, ok := s.decode(ctx, log, messageType, data)
		if !ok {
			continue
		}

		switch f := frame.(type) {
		case IdentityFrame:
			s.metrics.FramesRejected.WithLabelValues("rename").Inc()
			log.DebugContext(ctx, "Ignoring username change", "requested", f.Username)
		case MessageFrame:
			msg := domain.NewChatMessage(username, f.Content, s.clock.Now())
			if err := s.hub.Publish(msg); err != nil {
				return fmt.Errorf("publishing message: %w", err)
			}
		}
	}
}

func (s *Session) decode(ctx context.Context, log *slog.Logger, messageType int, data []byte) (Frame, bool) {
	if messageType != websocket.TextMessage {
		s.metrics.FramesRejected.WithLabelValues("binary").Inc()
		log.DebugContext(ctx, "Ignoring non-text frame", "message_type", messageType)
		return nil, false
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		s.metrics.FramesRejected.WithLabelValues("malformed").Inc()
		log.WarnContext(ctx, "Ignoring malformed client frame", "error", err)
		return nil, false
	}
	return frame, true
}

func (s *Session) write(messageType int, data []byte) error {
	if err := s.conn.SetWriteDeadline(s.clock.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.log.Debug("Error closing connection", "error", err)
		}
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isExpectedClose reports errors that only mean the peer or the server hung up.
func isExpectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return true
		}
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, domain.ErrSubscriptionClosed) || errors.Is(err, context.Canceled)
}
