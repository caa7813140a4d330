// Package metrics exposes Prometheus instrumentation for the polling engine
// and the update relay.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snaphunt_polls_total",
			Help: "Total number of poll ticks by result",
		},
		[]string{"result"},
	)

	pollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snaphunt_poll_duration_seconds",
			Help:    "Poll tick duration in seconds, including the gateway fetch",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	commentsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snaphunt_comments_fetched_total",
			Help: "Total number of comments fetched from the forum",
		},
	)

	updatesDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snaphunt_updates_decoded_total",
			Help: "Total number of decoded game updates by kind",
		},
		[]string{"kind"},
	)

	activeGames = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snaphunt_active_games",
			Help: "Number of games currently being polled",
		},
	)

	updatesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snaphunt_updates_published_total",
			Help: "Total number of updates relayed to the message bus by result",
		},
		[]string{"result"},
	)
)

// ObservePoll records one completed poll tick.
func ObservePoll(success bool, d time.Duration) {
	pollsTotal.WithLabelValues(resultLabel(success)).Inc()
	pollDuration.Observe(d.Seconds())
}

// AddCommentsFetched counts comments returned by a gateway fetch.
func AddCommentsFetched(n int) {
	commentsFetched.Add(float64(n))
}

// RecordUpdateDecoded counts one decoded update of the given kind.
func RecordUpdateDecoded(kind string) {
	updatesDecoded.WithLabelValues(kind).Inc()
}

// SetActiveGames tracks the size of the polling registry.
func SetActiveGames(n int) {
	activeGames.Set(float64(n))
}

// RecordPublish records one relay publish attempt.
func RecordPublish(success bool) {
	updatesPublished.WithLabelValues(resultLabel(success)).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
