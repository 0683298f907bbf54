package terrain

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"

	"github.com/gogpu/terrain/chunk"
	"github.com/gogpu/terrain/density"
	"github.com/gogpu/terrain/dispatch"
	"github.com/gogpu/terrain/extract"
	"github.com/gogpu/terrain/kernel"
	"github.com/gogpu/terrain/lod"
	"github.com/gogpu/terrain/octree"
	"github.com/gogpu/terrain/work"
)

// Engine is a terrain instance: one octree, its dispatch queue and store,
// and the controller that drives them.
//
// Engine is not safe for concurrent use. Tick, Deform, Frontier, Stats and
// Close must be called from one goroutine, typically the host's frame
// loop. Kernels run on the queue's workers; their results are applied
// only inside Tick. Events may be read from any goroutine.
type Engine struct {
	cfg        Config
	kernel     kernel.Kernel
	ownsKernel bool
	backend    string

	tree     *octree.Tree
	store    *chunk.Store
	queue    *work.Queue
	ctrl     *lod.Controller
	renderer Renderer
	log      *slog.Logger
	closed   bool
}

// New creates an engine. The world starts as a single empty root node;
// the first Tick begins generating it.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = Logger()
	}

	k, owns, err := selectKernel(cfg.Backend, o, log)
	if err != nil {
		return nil, err
	}

	tree, err := octree.New(cfg.WorldBounds.Bounds(), cfg.MaxDepth,
		octree.WithClock(o.clock),
		octree.WithEventBuffer(cfg.EventBuffer),
	)
	if err != nil {
		return nil, closeOwned(fmt.Errorf("terrain: %w", err), k, owns)
	}
	q, err := dispatch.New[work.Result](dispatch.Config{
		MaxInFlight:  cfg.MaxInFlightDispatches,
		StuckTimeout: cfg.StuckWorkTimeout,
		Clock:        o.clock,
		Logger:       log.With("component", "dispatch"),
	})
	if err != nil {
		return nil, closeOwned(fmt.Errorf("terrain: %w", err), k, owns)
	}

	store := chunk.NewStore(chunk.NewGridCache(cfg.GridCacheBytes))
	gen := density.New(q, k, store.Cache(), density.Config{
		Resolution: cfg.ChunkResolution,
		Seed:       cfg.WorldSeed,
		Noise:      cfg.Noise,
	}, log.With("component", "density"))
	ext := extract.New(q, k, tree, store, extract.Config{
		IsoLevel:     cfg.IsoLevel,
		MaxTriangles: cfg.MaxTriangles,
	}, log.With("component", "extract"))
	ctrl := lod.New(tree, store, q, gen, ext, lod.Config{
		Distances:       cfg.LODDistances,
		Retry:           work.RetryPolicy{Limit: cfg.RetryLimit, Backoff: cfg.RetryBackoff},
		CheckInvariants: cfg.CheckInvariants,
	}, lod.WithClock(o.clock), lod.WithLogger(log.With("component", "lod")))

	return &Engine{
		cfg:        cfg,
		kernel:     k,
		ownsKernel: owns,
		backend:    k.Name(),
		tree:       tree,
		store:      store,
		queue:      q,
		ctrl:       ctrl,
		renderer:   o.renderer,
		log:        log,
	}, nil
}

// selectKernel picks the kernel for a backend. owns reports whether the
// engine must close it.
func selectKernel(b Backend, o engineOptions, log *slog.Logger) (k kernel.Kernel, owns bool, err error) {
	if o.kernel != nil {
		log.Info("terrain: using injected kernel", "kernel", o.kernel.Name())
		return o.kernel, false, nil
	}
	if o.provider != nil && b != BackendCPU {
		if err := SetKernelDeviceProvider(o.provider); err != nil {
			if b == BackendGPU {
				return nil, false, fmt.Errorf("terrain: share device: %w", err)
			}
			log.Warn("terrain: cannot share device, GPU kernel keeps its own", "err", err)
		}
	}

	switch b {
	case BackendCPU:
		log.Info("terrain: using CPU kernel")
		return kernel.NewCPU(), true, nil
	case BackendGPU:
		g := RegisteredKernel()
		if g == nil {
			return nil, false, ErrNoGPUKernel
		}
		log.Info("terrain: using GPU kernel", "kernel", g.Name())
		return g, false, nil
	default:
		g := RegisteredKernel()
		if g == nil {
			log.Warn("terrain: no GPU kernel registered, falling back to CPU")
			return kernel.NewCPU(), true, nil
		}
		log.Info("terrain: using GPU kernel with CPU fallback", "kernel", g.Name())
		return &fallbackKernel{gpu: g, cpu: kernel.NewCPU()}, true, nil
	}
}

func closeOwned(err error, k kernel.Kernel, owns bool) error {
	if owns {
		err = multierr.Append(err, k.Close())
	}
	return err
}

// Tick runs one control step for the viewer position: completed work is
// applied, the octree is refined or coarsened toward the wanted level of
// detail, and new work is dispatched. Tick never waits for kernels.
//
// An error wrapping ErrInvariantViolation means the engine is corrupt and
// must not be ticked again.
func (e *Engine) Tick(viewer r3.Vector) error {
	if e.closed {
		return ErrClosed
	}
	if err := e.ctrl.Tick(viewer); err != nil {
		return fmt.Errorf("terrain: tick: %w", err)
	}
	if e.renderer != nil {
		if err := e.renderer.Render(e.ctrl.Frontier()); err != nil {
			return fmt.Errorf("terrain: render: %w", err)
		}
	}
	return nil
}

// Frontier returns the meshes to draw: an antichain of nodes covering
// every region that has any surface ready.
func (e *Engine) Frontier() []FrontierEntry {
	return e.ctrl.Frontier()
}

// Events returns the best-effort channel of node transitions, or nil
// when event_buffer is zero. Events are dropped when the channel is full.
func (e *Engine) Events() <-chan octree.TransitionEvent {
	return e.tree.Events()
}

// Deform adds or removes a sphere of material. Positive strength adds
// material. Affected nodes regenerate; their old meshes stay visible until
// replacements are ready.
func (e *Engine) Deform(center r3.Vector, radius, strength float64) error {
	if e.closed {
		return ErrClosed
	}
	if !(radius > 0) || math.IsInf(radius, 0) || math.IsNaN(strength) || math.IsInf(strength, 0) {
		return fmt.Errorf("terrain: invalid deformation radius %g strength %g", radius, strength)
	}
	if err := e.ctrl.Deform(kernel.Edit{Center: center, Radius: radius, Strength: strength}); err != nil {
		return fmt.Errorf("terrain: deform: %w", err)
	}
	return nil
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Backend    string
	LOD        lod.Stats
	Queue      dispatch.Stats
	Cache      chunk.CacheStats
	StoreNodes int
	StoreBytes int64
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Backend:    e.backend,
		LOD:        e.ctrl.Stats(),
		Queue:      e.queue.Stats(),
		Cache:      e.store.Cache().Stats(),
		StoreNodes: e.store.Len(),
		StoreBytes: e.store.Bytes(),
	}
}

// Backend returns the name of the kernel in use.
func (e *Engine) Backend() string { return e.backend }

// Config returns the configuration the engine was created with.
func (e *Engine) Config() Config { return e.cfg }

// Validate checks the engine's structural invariants.
func (e *Engine) Validate() error {
	return e.ctrl.Validate()
}

// Close cancels outstanding work and releases the engine's resources. A
// kernel passed with WithKernel or registered with RegisterKernel is not
// closed.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.queue.Close()
	var err error
	if e.ownsKernel {
		err = multierr.Append(err, e.kernel.Close())
	}
	e.log.Debug("terrain: engine closed", "nodes", e.tree.Len())
	return err
}
