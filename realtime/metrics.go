package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnectionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bunnyup_realtime_connection_attempts_total",
		Help: "The total number of connection attempts to the realtime websocket",
	})

	wsConnectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bunnyup_realtime_connection_errors_total",
		Help: "The total number of connection errors encountered",
	})

	wsCurrentConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bunnyup_realtime_current_connections",
		Help: "The current number of open realtime websocket connections",
	})

	wsConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bunnyup_realtime_connection_duration_seconds",
		Help:    "Duration of realtime websocket connections",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	changesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bunnyup_realtime_changes_total",
		Help: "Row changes delivered by the realtime channel, by table and type",
	}, []string{"table", "type"})

	malformedChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bunnyup_realtime_malformed_changes_total",
		Help: "Row changes dropped because the payload could not be decoded, by table",
	}, []string{"table"})
)
