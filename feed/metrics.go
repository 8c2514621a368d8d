package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bunnyup_feed_events_applied_total",
		Help: "Change events applied to an in-memory feed, by event kind",
	}, []string{"kind"})

	eventsIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bunnyup_feed_events_ignored_total",
		Help: "Change events that left the feed unchanged (duplicates, unknown ids), by event kind",
	}, []string{"kind"})

	pageFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bunnyup_feed_page_fetches_total",
		Help: "Paginated feed fetches, by outcome",
	}, []string{"outcome"})

	feedSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bunnyup_feed_visible_posts",
		Help: "Number of posts in the most recently published feed snapshot",
	})
)
