package terrain

import (
	"fmt"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/terrain/dispatch"
	"github.com/gogpu/terrain/kernel"
	"github.com/gogpu/terrain/octree"
)

// Backend selects where kernels run.
type Backend string

const (
	// BackendAuto uses the registered GPU kernel when there is one and
	// the CPU kernel otherwise.
	BackendAuto Backend = "auto"

	// BackendGPU requires a registered GPU kernel.
	BackendGPU Backend = "gpu"

	// BackendCPU always uses the CPU kernel.
	BackendCPU Backend = "cpu"
)

// WorldBounds is the axis-aligned box covered by the root node.
type WorldBounds struct {
	Min [3]float64 `mapstructure:"min" yaml:"min"`
	Max [3]float64 `mapstructure:"max" yaml:"max"`
}

// Bounds converts b to octree bounds.
func (b WorldBounds) Bounds() octree.Bounds {
	return octree.Bounds{
		Min: r3.Vector{X: b.Min[0], Y: b.Min[1], Z: b.Min[2]},
		Max: r3.Vector{X: b.Max[0], Y: b.Max[1], Z: b.Max[2]},
	}
}

// Config holds the engine parameters. Field tags carry the option names
// used in configuration files.
type Config struct {
	// MaxDepth is the deepest octree level.
	MaxDepth int `mapstructure:"max_depth" yaml:"max_depth"`

	// ChunkResolution is the number of lattice cells per axis of every
	// node's density grid.
	ChunkResolution int `mapstructure:"chunk_resolution" yaml:"chunk_resolution"`

	// LODDistances are the level of detail thresholds. A node wants one
	// more level of depth for every threshold greater than its distance
	// to the viewer.
	LODDistances []float64 `mapstructure:"lod_distances" yaml:"lod_distances"`

	MaxInFlightDispatches int           `mapstructure:"max_in_flight_dispatches" yaml:"max_in_flight_dispatches"`
	StuckWorkTimeout      time.Duration `mapstructure:"stuck_work_timeout" yaml:"stuck_work_timeout"`
	WorldSeed             int64         `mapstructure:"world_seed" yaml:"world_seed"`
	WorldBounds           WorldBounds   `mapstructure:"world_bounds" yaml:"world_bounds"`
	IsoLevel              float64       `mapstructure:"iso_level" yaml:"iso_level"`

	// MaxTriangles is the per-node mesh capacity. Zero means unbounded.
	MaxTriangles int `mapstructure:"max_triangles" yaml:"max_triangles"`

	RetryLimit   int           `mapstructure:"retry_limit" yaml:"retry_limit"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`

	// GridCacheBytes budgets the cache of released density grids. Zero
	// disables it.
	GridCacheBytes int64 `mapstructure:"grid_cache_bytes" yaml:"grid_cache_bytes"`

	Backend Backend      `mapstructure:"backend" yaml:"backend"`
	Noise   kernel.Noise `mapstructure:"noise" yaml:"noise"`

	// EventBuffer is the capacity of the transition event channel. Zero
	// disables events.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer"`

	// CheckInvariants validates the octree after every tick.
	CheckInvariants bool `mapstructure:"check_invariants" yaml:"check_invariants"`
}

// DefaultConfig returns a configuration for a 2 km world of rolling hills.
func DefaultConfig() Config {
	return Config{
		MaxDepth:              6,
		ChunkResolution:       16,
		LODDistances:          []float64{1600, 800, 400, 200, 100, 50},
		MaxInFlightDispatches: dispatch.DefaultMaxInFlight,
		StuckWorkTimeout:      dispatch.DefaultStuckTimeout,
		WorldSeed:             1,
		WorldBounds: WorldBounds{
			Min: [3]float64{-1024, -1024, -1024},
			Max: [3]float64{1024, 1024, 1024},
		},
		IsoLevel:       0,
		MaxTriangles:   0,
		RetryLimit:     3,
		RetryBackoff:   500 * time.Millisecond,
		GridCacheBytes: 64 << 20,
		Backend:        BackendAuto,
		Noise:          kernel.DefaultNoise(),
		EventBuffer:    256,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.MaxDepth < 0 || c.MaxDepth > octree.MaxSupportedDepth:
		return fmt.Errorf("%w: max_depth %d outside [0, %d]", ErrInvalidConfig, c.MaxDepth, octree.MaxSupportedDepth)
	case c.ChunkResolution < 1:
		return fmt.Errorf("%w: chunk_resolution %d", ErrInvalidConfig, c.ChunkResolution)
	case c.MaxInFlightDispatches < 1:
		return fmt.Errorf("%w: max_in_flight_dispatches %d", ErrInvalidConfig, c.MaxInFlightDispatches)
	case c.StuckWorkTimeout < 0:
		return fmt.Errorf("%w: negative stuck_work_timeout", ErrInvalidConfig)
	case c.WorldBounds.Bounds().Empty():
		return fmt.Errorf("%w: empty world_bounds %v", ErrInvalidConfig, c.WorldBounds)
	case c.MaxTriangles < 0:
		return fmt.Errorf("%w: negative max_triangles", ErrInvalidConfig)
	case c.RetryLimit < 1:
		return fmt.Errorf("%w: retry_limit %d", ErrInvalidConfig, c.RetryLimit)
	case c.RetryBackoff < 0:
		return fmt.Errorf("%w: negative retry_backoff", ErrInvalidConfig)
	case c.GridCacheBytes < 0:
		return fmt.Errorf("%w: negative grid_cache_bytes", ErrInvalidConfig)
	case c.EventBuffer < 0:
		return fmt.Errorf("%w: negative event_buffer", ErrInvalidConfig)
	}
	switch c.Backend {
	case BackendAuto, BackendGPU, BackendCPU:
	default:
		return fmt.Errorf("%w: backend %q", ErrInvalidConfig, c.Backend)
	}
	for i, d := range c.LODDistances {
		if d <= 0 {
			return fmt.Errorf("%w: lod_distances[%d] = %g", ErrInvalidConfig, i, d)
		}
	}
	if err := c.Noise.Validate(); err != nil {
		return fmt.Errorf("%w: noise: %w", ErrInvalidConfig, err)
	}
	return nil
}

// DecodeConfig decodes raw option values over DefaultConfig. Durations
// may be given as strings such as "10s". Unknown keys are rejected.
func DecodeConfig(raw map[string]any) (Config, error) {
	cfg := DefaultConfig()
	if _, ok := raw["lod_distances"]; ok {
		cfg.LODDistances = nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		ErrorUnused: true,
		Result:      &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file. Options absent from the
// file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("terrain: read config: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
	}
	return DecodeConfig(raw)
}

// YAML encodes c in the configuration file format.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
