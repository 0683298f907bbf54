package lod

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gogpu/terrain/octree"
)

const (
	labelLabel = "label"
	stageLabel = "stage"
)

var (
	staleDiscards = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_lod_stale_discards_total",
		Help: "Completions discarded because their node changed.",
	}, []string{
		labelLabel,
	})

	failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_lod_failures_total",
		Help: "Failed dispatches by the stage that failed.",
	}, []string{
		stageLabel,
	})

	subdivisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_lod_subdivisions_total",
		Help: "Octree subdivisions.",
	})

	merges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_lod_merges_total",
		Help: "Octree merges.",
	})

	frontierSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_lod_frontier_nodes",
		Help: "Nodes in the last renderable frontier.",
	})
)

func instrumentStaleDiscard(label string) {
	staleDiscards.With(prometheus.Labels{labelLabel: label}).Inc()
}

func instrumentFailure(stage octree.State) {
	failures.With(prometheus.Labels{stageLabel: stage.String()}).Inc()
}

func instrumentSubdivide() {
	subdivisions.Inc()
}

func instrumentMerge() {
	merges.Inc()
}

func instrumentFrontier(n int) {
	frontierSize.Set(float64(n))
}
