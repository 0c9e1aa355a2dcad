// Package metrics exposes Prometheus instrumentation for the
// announcement pipeline. Metrics are registered on the default
// registry and served by promhttp on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/herald-home/herald/internal/announce"
)

var (
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_outcomes_total",
		Help: "Announcement outcomes by status and reason",
	}, []string{"status", "reason"})

	deliveriesByMode = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_deliveries_total",
		Help: "Delivered announcements by room and mode",
	}, []string{"room", "mode"})

	pipelineFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_pipeline_fallbacks_total",
		Help: "Text transformations that fell back to the original message",
	}, []string{"reason"})

	requestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herald_requests_total",
		Help: "Announcement requests accepted",
	})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "herald_request_duration_seconds",
		Help:    "Wall time from request accept to last outcome",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// Sink feeds every announcement outcome into the Prometheus counters.
// It implements announce.Sink.
type Sink struct{}

// NewSink creates the metrics sink.
func NewSink() *Sink { return &Sink{} }

// Record implements announce.Sink.
func (s *Sink) Record(_ string, o announce.Outcome) {
	outcomesTotal.WithLabelValues(string(o.Status), string(o.Reason)).Inc()
	if o.Status == announce.StatusDelivered {
		deliveriesByMode.WithLabelValues(o.Room, string(o.Mode)).Inc()
	}
	if o.Warning != announce.ReasonNone {
		pipelineFallbacks.WithLabelValues(string(o.Warning)).Inc()
	}
}

// RequestAccepted counts an accepted request and returns a done
// function that observes its total duration.
func RequestAccepted() (done func()) {
	requestsTotal.Inc()
	start := time.Now()
	return func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}
}
