package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelLabel  = "label"
	statusLabel = "status"
)

var (
	dispatchSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_dispatch_submitted_total",
		Help: "The number of work items submitted to dispatch queues.",
	}, []string{
		labelLabel,
	})

	dispatchCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_dispatch_completed_total",
		Help: "The number of work items completed, by outcome.",
	}, []string{
		labelLabel,
		statusLabel,
	})

	dispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terrain_dispatch_latency_seconds",
		Help:    "The time work items spent running.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{
		labelLabel,
	})

	dispatchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_dispatch_in_flight",
		Help: "The number of admitted work items.",
	})

	dispatchPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_dispatch_pending",
		Help: "The number of work items waiting for a slot.",
	})
)

func instrumentSubmit(label string) {
	dispatchSubmitted.With(prometheus.Labels{
		labelLabel: label,
	}).Inc()
}

func instrumentCompletion(label string, status Status, elapsed time.Duration) {
	dispatchCompleted.With(prometheus.Labels{
		labelLabel:  label,
		statusLabel: status.String(),
	}).Inc()
	if status == StatusDone {
		dispatchLatency.With(prometheus.Labels{
			labelLabel: label,
		}).Observe(elapsed.Seconds())
	}
}

func instrumentInFlight(delta int) {
	dispatchInFlight.Add(float64(delta))
}

func instrumentPending(delta int) {
	dispatchPending.Add(float64(delta))
}
