// Package metrics provides Prometheus metrics collection for the supportchat service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnections tracks the current number of active WebSocket connections
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportchat_websocket_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// EventsReceived tracks the total number of events received from clients
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_events_received_total",
		Help: "Total number of events received from clients",
	})

	// EventsSent tracks the total number of events sent to clients
	EventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_events_sent_total",
		Help: "Total number of events sent to clients",
	})

	// EventErrors tracks the total number of event processing errors
	EventErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_event_errors_total",
		Help: "Total number of event processing errors",
	})

	// ActiveSessions tracks the current number of live chat sessions in the registry
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportchat_active_sessions_total",
		Help: "Current number of active chat sessions",
	})

	// SessionsCreated tracks the total number of sessions created
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_sessions_created_total",
		Help: "Total number of chat sessions created",
	})

	// SessionsEnded tracks the total number of sessions ended, by reason
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_sessions_ended_total",
		Help: "Total number of chat sessions ended, by termination reason",
	}, []string{"reason"})

	// Escalations tracks the total number of sessions escalated to staff
	Escalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_escalations_total",
		Help: "Total number of sessions escalated to live support",
	})

	// ClaimsWon tracks successful staff claims
	ClaimsWon = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_claims_won_total",
		Help: "Total number of successful staff claims",
	})

	// ClaimsLost tracks staff claims rejected as already claimed or expired
	ClaimsLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_claims_lost_total",
		Help: "Total number of staff claims that lost a race or arrived late, by outcome",
	}, []string{"outcome"})

	// WatchdogExpiries tracks sessions force-ended by the inactivity watchdog
	WatchdogExpiries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_watchdog_expiries_total",
		Help: "Total number of sessions ended by the inactivity watchdog",
	})

	// BotReplies tracks bot replies by kind (matched rule or fallback)
	BotReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_bot_replies_total",
		Help: "Total number of bot replies produced, by kind",
	}, []string{"kind"})

	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supportchat_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method"})
)
