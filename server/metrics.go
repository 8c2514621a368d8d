package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bunnyup_server_request_duration_seconds",
		Help:    "Preview server request latency by method and route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	sseClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bunnyup_server_sse_clients",
		Help: "Number of connected server-sent-event clients",
	})
)
