package metrics

import "github.com/prometheus/client_golang/prometheus"

// ChatMetrics holds Prometheus metrics for the chat hub, history and sessions.
type ChatMetrics struct {
	ActiveSessions      prometheus.Gauge
	SessionsEnded       *prometheus.CounterVec
	Subscribers         prometheus.Gauge
	MessagesPublished   prometheus.Counter
	MessagesDropped     prometheus.Counter
	HistoryMessages     prometheus.Gauge
	SnapshotsServed     prometheus.Counter
	FramesRejected      *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec
	ActorPanics         *prometheus.CounterVec
}

// NewChatMetrics creates and registers chat metrics on the given registry.
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "active_sessions",
			Help:      "Number of chat sessions in the live phase.",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "sessions_ended_total",
			Help:      "Total number of chat sessions ended, by reason.",
		}, []string{"reason"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "hub_subscribers",
			Help:      "Number of live hub subscriptions, history included.",
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_published_total",
			Help:      "Total number of chat messages published to the hub.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped for lagging subscribers.",
		}),
		HistoryMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "history_messages",
			Help:      "Number of messages retained by the history log.",
		}),
		SnapshotsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "snapshots_served_total",
			Help:      "Total number of history snapshots served.",
		}),
		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "frames_rejected_total",
			Help:      "Total number of client frames ignored, by reason.",
		}, []string{"reason"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Total number of WebSocket connections rejected before upgrade, by reason.",
		}, []string{"reason"}),
		ActorPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "actor_panics_total",
			Help:      "Total number of recovered panics in the chat actors, by actor.",
		}, []string{"actor"}),
	}

	reg.MustRegister(
		m.ActiveSessions,
		m.SessionsEnded,
		m.Subscribers,
		m.MessagesPublished,
		m.MessagesDropped,
		m.HistoryMessages,
		m.SnapshotsServed,
		m.FramesRejected,
		m.ConnectionsRejected,
		m.ActorPanics,
	)
	return m
}
