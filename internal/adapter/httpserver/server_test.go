package httpserver

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/htmxchat/internal/adapter/metrics"
	"github.com/pscheid92/htmxchat/internal/broadcast"
	"github.com/pscheid92/htmxchat/internal/history"
	"github.com/pscheid92/htmxchat/internal/platform/config"
	"github.com/pscheid92/htmxchat/internal/render"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv     *Server
	hub     *broadcast.Hub
	history *history.Actor
	metrics *metrics.ChatMetrics
	http    *httptest.Server
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	assets := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(assets, "htmx.min.js"), []byte("/* htmx */"), 0o600))

	return &config.Config{
		AppEnv:                  "development",
		Port:                    "0",
		AppURL:                  "http://localhost:8080",
		AssetsDir:               assets,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     10,
		HubBuffer:               broadcast.DefaultBufferSize,
		HistoryQueue:            history.DefaultQueueSize,
		SnapshotSize:            history.DefaultSnapshotSize,
		HistoryRetention:        history.DefaultRetention,
		IdentifyTimeout:         time.Minute,
		SnapshotTimeout:         5 * time.Second,
	}
}

func newTestServer(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig(t)
	for _, opt := range opts {
		opt(cfg)
	}

	clock := clockwork.NewRealClock()
	reg := metrics.NewRegistry()
	chatMetrics := metrics.NewChatMetrics(reg)

	hub := broadcast.NewHub(cfg.HubBuffer, chatMetrics, clock)
	feed, err := hub.Subscribe()
	require.NoError(t, err)
	actor := history.Start(feed, history.Config{
		SnapshotSize: cfg.SnapshotSize,
		QueueSize:    cfg.HistoryQueue,
		Retention:    cfg.HistoryRetention,
	}, chatMetrics)

	templates, err := render.New()
	require.NoError(t, err)

	srv := NewServer(cfg, hub, actor, templates, reg, chatMetrics, clock, ChatHealthChecks(hub, actor))
	httpSrv := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		httpSrv.Close()
		hub.Stop()
		actor.Stop()
	})

	return &testEnv{srv: srv, hub: hub, history: actor, metrics: chatMetrics, http: httpSrv}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + chatPath
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}
