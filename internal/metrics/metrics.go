package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombus_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roombus_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"method", "route"},
	)

	// Bus
	MessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roombus_messages_published_total",
			Help: "Messages successfully appended and fanned out",
		},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombus_publish_errors_total",
			Help: "Failed publish calls by error kind",
		},
		[]string{"kind"}, // validation|storage|not_found|other
	)

	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roombus_active_subscribers",
			Help: "Subscriptions currently registered",
		},
	)

	SubscriberOverflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roombus_subscriber_overflows_total",
			Help: "Subscribers dropped because their buffer was full",
		},
	)

	GapRefills = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roombus_gap_refills_total",
			Help: "Live deliveries that required a store read to fill an id gap",
		},
	)

	// Presence
	PresenceJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roombus_presence_joins_total",
			Help: "Presence joins",
		},
	)

	PresenceEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roombus_presence_evictions_total",
			Help: "Presence entries evicted by heartbeat timeout",
		},
	)

	// Relay
	RelayNotices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roombus_relay_notices_total",
			Help: "Cross-instance notices",
		},
		[]string{"direction"}, // out|in|failed|dropped
	)

	// Infrastructure
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roombus_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"driver", "op"},
	)
)
