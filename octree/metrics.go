package octree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	fromStateLabel = "from"
	toStateLabel   = "to"
)

var (
	nodeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_octree_transitions_total",
		Help: "The number of node state transitions.",
	}, []string{
		fromStateLabel,
		toStateLabel,
	})

	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_octree_dropped_events_total",
		Help: "Transition events dropped because the profiling channel was full.",
	})

	nodeCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_octree_nodes",
		Help: "The number of nodes in the octree arena.",
	})
)

func instrumentTransition(from, to State) {
	nodeTransitions.With(prometheus.Labels{
		fromStateLabel: from.String(),
		toStateLabel:   to.String(),
	}).Inc()
}

func instrumentDroppedEvent() {
	droppedEvents.Inc()
}

func instrumentNodes(delta int) {
	nodeCount.Add(float64(delta))
}
