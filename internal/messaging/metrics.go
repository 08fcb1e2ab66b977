package messaging

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_store_actions_total",
			Help: "Total number of store actions applied, by action type",
		},
		[]string{"action"},
	)

	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_messages_sent_total",
			Help: "Total number of messages sent, by message type",
		},
		[]string{"type"},
	)

	staleFetchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_stale_fetches_total",
			Help: "Total number of page fetches discarded by the stale-response guard",
		},
	)

	bridgeResubscribesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_bridge_resubscribes_total",
			Help: "Total number of bridge recoveries after transport loss",
		},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_active_sessions",
			Help: "Number of live messaging sessions",
		},
	)

	fetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "messaging_fetch_duration_seconds",
			Help:    "Duration of conversation page fetches",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func recordAction(a Action) {
	actionsTotal.WithLabelValues(actionName(a)).Inc()
}

func observeFetchDuration(d time.Duration) {
	fetchDuration.Observe(d.Seconds())
}

func actionName(a Action) string {
	switch a.(type) {
	case SetConversations:
		return "set_conversations"
	case SetMessages:
		return "set_messages"
	case AddMessage:
		return "add_message"
	case DeleteMessage:
		return "delete_message"
	case UpdateMessageStatus:
		return "update_message_status"
	case MarkConversationRead:
		return "mark_conversation_read"
	case UpsertConversation:
		return "upsert_conversation"
	case SetLoading:
		return "set_loading"
	case SetError:
		return "set_error"
	default:
		return "unknown"
	}
}
