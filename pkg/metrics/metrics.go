package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LiveSessions tracks authenticated realtime sessions currently registered with the hub.
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsenote_live_sessions",
			Help: "Number of authenticated realtime sessions",
		},
	)

	// FramesDelivered counts push frames handed to session send queues, by frame type.
	FramesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsenote_frames_delivered_total",
			Help: "Total number of push frames delivered to sessions",
		},
		[]string{"type"},
	)

	// FramesDropped counts frames that could not be enqueued (backpressure or dead session).
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsenote_frames_dropped_total",
			Help: "Total number of push frames dropped",
		},
		[]string{"reason"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsenote_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
