package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the number of live websocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetdesk_active_connections",
			Help: "Number of live notification channel connections",
		},
	)

	// NotificationsDispatched counts persisted notifications by audience kind.
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetdesk_notifications_dispatched_total",
			Help: "Total number of notifications persisted and fanned out",
		},
		[]string{"audience"},
	)

	// PushFailures counts delivery attempts that failed against a vanished or
	// backlogged connection. These never surface to dispatch callers.
	PushFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetdesk_push_failures_total",
			Help: "Total number of swallowed per-connection push failures",
		},
	)

	// SweptConnections counts presence entries removed by the inactivity sweep.
	SweptConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetdesk_swept_connections_total",
			Help: "Total number of stale connections removed by the sweep",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetdesk_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
