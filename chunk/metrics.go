package chunk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const resultLabel = "result"

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_grid_cache_lookups_total",
		Help: "Released grid cache lookups by result.",
	}, []string{
		resultLabel,
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_grid_cache_evictions_total",
		Help: "Grids evicted from the released grid cache.",
	})

	cacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_grid_cache_bytes",
		Help: "Memory held by the released grid cache.",
	})

	storeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_chunk_store_bytes",
		Help: "Memory held by retained grids and meshes.",
	})
)

func instrumentCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.With(prometheus.Labels{resultLabel: result}).Inc()
}

func instrumentCacheEviction() {
	cacheEvictions.Inc()
}

func instrumentCacheBytes(n int64) {
	cacheBytes.Set(float64(n))
}

func instrumentStoreBytes(delta int64) {
	storeBytes.Add(float64(delta))
}
