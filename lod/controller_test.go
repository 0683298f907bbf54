package lod

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"

	"github.com/gogpu/terrain/chunk"
	"github.com/gogpu/terrain/density"
	"github.com/gogpu/terrain/dispatch"
	"github.com/gogpu/terrain/extract"
	"github.com/gogpu/terrain/kernel"
	"github.com/gogpu/terrain/octree"
	"github.com/gogpu/terrain/work"
)

type harnessConfig struct {
	root       octree.Bounds
	maxDepth   int
	distances  []float64
	resolution int
	noise      kernel.Noise
	iso        float64
	retry      work.RetryPolicy
	kernel     kernel.Kernel
}

type harness struct {
	tree  *octree.Tree
	store *chunk.Store
	queue *work.Queue
	ctrl  *Controller
	gen   *density.Generator
	clock *clock.Mock
}

func newHarness(t *testing.T, hc harnessConfig) *harness {
	t.Helper()
	if hc.resolution == 0 {
		hc.resolution = 4
	}
	if hc.kernel == nil {
		hc.kernel = kernel.NewCPU()
	}
	if hc.retry.Limit == 0 {
		hc.retry = work.RetryPolicy{Limit: 3, Backoff: time.Second}
	}
	mock := clock.NewMock()

	tree, err := octree.New(hc.root, hc.maxDepth, octree.WithEventBuffer(0))
	if err != nil {
		t.Fatalf("octree.New() error = %v", err)
	}
	q, err := dispatch.New[work.Result](dispatch.Config{MaxInFlight: 4, Clock: mock})
	if err != nil {
		t.Fatalf("dispatch.New() error = %v", err)
	}
	t.Cleanup(q.Close)

	store := chunk.NewStore(chunk.NewGridCache(1 << 24))
	gen := density.New(q, hc.kernel, store.Cache(), density.Config{
		Resolution: hc.resolution,
		Seed:       7,
		Noise:      hc.noise,
	}, nil)
	ext := extract.New(q, hc.kernel, tree, store, extract.Config{IsoLevel: hc.iso}, nil)
	ctrl := New(tree, store, q, gen, ext, Config{
		Distances:       hc.distances,
		Retry:           hc.retry,
		CheckInvariants: true,
	}, WithClock(mock))

	return &harness{tree: tree, store: store, queue: q, ctrl: ctrl, gen: gen, clock: mock}
}

func (h *harness) tick(t *testing.T, viewer r3.Vector) {
	t.Helper()
	if err := h.ctrl.Tick(viewer); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
}

// settle ticks until the controller has no work left and a further tick
// changes nothing. check, if set, runs after every tick.
func (h *harness) settle(t *testing.T, viewer r3.Vector, check func()) {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	quiet := 0
	for quiet < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("pipeline did not settle: %+v", h.ctrl.Stats())
		}
		before := h.ctrl.Stats()
		h.tick(t, viewer)
		if check != nil {
			check()
		}
		after := h.ctrl.Stats()
		if after.InFlight == 0 &&
			after.DensityRequests == before.DensityRequests &&
			after.SurfaceRequests == before.SurfaceRequests &&
			after.Subdivisions == before.Subdivisions &&
			after.Merges == before.Merges {
			quiet++
			continue
		}
		quiet = 0
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) waitFor(t *testing.T, viewer r3.Vector, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %+v", what, h.ctrl.Stats())
		}
		h.tick(t, viewer)
		time.Sleep(time.Millisecond)
	}
}

func frontierVolume(entries []Entry) float64 {
	var v float64
	for _, e := range entries {
		v += e.Bounds.Volume()
	}
	return v
}

// gapless fails the test once the frontier stops covering the whole root.
func (h *harness) gapless(t *testing.T) func() {
	want := h.tree.Bounds().Volume()
	return func() {
		t.Helper()
		if got := frontierVolume(h.ctrl.Frontier()); got != want {
			t.Fatalf("frontier covers volume %v, want %v", got, want)
		}
	}
}

// requireCurrentRoot checks that the root's grid was built with every edit
// touching it.
func (h *harness) requireCurrentRoot(t *testing.T) {
	t.Helper()
	g, ok := h.store.Grid(octree.RootID)
	if !ok {
		t.Fatal("root has no grid")
	}
	if want := len(h.gen.EditsFor(h.tree.Bounds())); g.Edits != want {
		t.Errorf("root grid built with %d edits, want %d", g.Edits, want)
	}
}

var far = r3.Vector{X: 500}

// =============================================================================
// LOD Scenarios
// =============================================================================

func TestController_Approach(t *testing.T) {
	h := newHarness(t, harnessConfig{
		root:      octree.Cube(r3.Vector{}, 100),
		maxDepth:  4,
		distances: []float64{400, 8, 6, 4},
		noise:     kernel.DefaultNoise(),
	})

	h.settle(t, far, nil)
	s := h.ctrl.Stats()
	if s.DensityRequests != 1 || s.Subdivisions != 0 {
		t.Fatalf("far viewer: %d requests, %d subdivisions, want 1 and 0", s.DensityRequests, s.Subdivisions)
	}

	near := r3.Vector{X: 10, Y: 10, Z: 10}
	deadline := time.Now().Add(20 * time.Second)
	for h.ctrl.Stats().Subdivisions < 4 || h.ctrl.Stats().InFlight > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("approach did not finish: %+v", h.ctrl.Stats())
		}
		before := h.ctrl.Stats()
		h.tick(t, near)
		after := h.ctrl.Stats()

		subdivided := after.Subdivisions - before.Subdivisions
		if subdivided > 1 {
			t.Fatalf("%d subdivisions in one tick, want sequential", subdivided)
		}
		if got := after.DensityRequests - before.DensityRequests; got != 8*subdivided {
			t.Fatalf("tick issued %d density requests after %d subdivisions", got, subdivided)
		}
		time.Sleep(time.Millisecond)
	}
	h.settle(t, near, nil)

	s = h.ctrl.Stats()
	if s.Subdivisions != 4 || s.DensityRequests != 33 {
		t.Errorf("Subdivisions = %d, DensityRequests = %d, want 4 and 33", s.Subdivisions, s.DensityRequests)
	}
	if h.tree.Len() != 33 {
		t.Errorf("tree has %d nodes, want 33", h.tree.Len())
	}
	leaf, ok := h.tree.FindContaining(near)
	if !ok || leaf.Depth() != 4 {
		t.Errorf("leaf at viewer = %v, want depth 4", leaf)
	}

	frontier := h.ctrl.Frontier()
	if got, want := frontierVolume(frontier), h.tree.Bounds().Volume(); got != want {
		t.Errorf("frontier covers volume %v, want %v", got, want)
	}
	for _, e := range frontier {
		if !h.tree.IsLeaf(e.Node) {
			t.Errorf("frontier entry %v is not a leaf after settling", e.Node)
		}
	}
	if h.store.Has(octree.RootID) {
		t.Error("root data retained after its children became renderable")
	}
}

func TestController_MergePrefetchAndCache(t *testing.T) {
	h := newHarness(t, harnessConfig{
		root:      octree.Cube(r3.Vector{}, 100),
		maxDepth:  1,
		distances: []float64{50},
		noise:     kernel.DefaultNoise(),
	})
	rootVolume := h.tree.Bounds().Volume()

	h.settle(t, r3.Vector{}, nil)
	if got := len(h.ctrl.Frontier()); got != 8 {
		t.Fatalf("near frontier has %d entries, want 8", got)
	}

	noGaps := func() {
		if got := frontierVolume(h.ctrl.Frontier()); got != rootVolume {
			t.Fatalf("frontier covers volume %v during merge, want %v", got, rootVolume)
		}
	}
	h.settle(t, far, noGaps)

	frontier := h.ctrl.Frontier()
	if len(frontier) != 1 || frontier[0].Node != octree.RootID {
		t.Fatalf("far frontier = %v, want the root alone", frontier)
	}
	s := h.ctrl.Stats()
	if s.Merges != 1 || s.Nodes != 1 {
		t.Errorf("Merges = %d, Nodes = %d, want 1 and 1", s.Merges, s.Nodes)
	}

	h.settle(t, r3.Vector{}, noGaps)
	if s := h.ctrl.Stats(); s.CacheHits != 8 {
		t.Errorf("CacheHits = %d after subdividing again, want 8", s.CacheHits)
	}
}

// gatedKernel blocks density generation of every node but the root until
// gate is closed.
type gatedKernel struct {
	kernel.Kernel
	root octree.Bounds
	gate chan struct{}
}

func (k *gatedKernel) GenerateDensity(ctx context.Context, in *kernel.DensityInput) (*kernel.DensityOutput, error) {
	if in.Bounds != k.root {
		select {
		case <-k.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return k.Kernel.GenerateDensity(ctx, in)
}

func TestController_CancelMidFlight(t *testing.T) {
	root := octree.Cube(r3.Vector{}, 100)
	gk := &gatedKernel{Kernel: kernel.NewCPU(), root: root, gate: make(chan struct{})}
	h := newHarness(t, harnessConfig{
		root:      root,
		maxDepth:  1,
		distances: []float64{50},
		noise:     kernel.DefaultNoise(),
		kernel:    gk,
	})

	h.settle(t, far, nil)
	before, ok := h.store.Mesh(octree.RootID)
	if !ok {
		t.Fatal("root has no mesh")
	}
	positions := append([]mgl32.Vec3(nil), before.Positions...)

	h.tick(t, r3.Vector{})
	if h.tree.IsLeaf(octree.RootID) {
		t.Fatal("root did not subdivide")
	}
	h.tick(t, r3.Vector{})

	// Back out before any child finishes.
	h.tick(t, far)
	if !h.tree.IsLeaf(octree.RootID) {
		t.Fatal("root did not merge")
	}
	close(gk.gate)
	h.settle(t, far, nil)

	after, ok := h.store.Mesh(octree.RootID)
	if !ok || after != before {
		t.Fatal("root mesh was replaced by the merge")
	}
	if len(after.Positions) != len(positions) {
		t.Errorf("root mesh has %d vertices, want %d", len(after.Positions), len(positions))
	}
	for i := range 8 {
		kid := octree.RootID.Child(i)
		if h.store.Has(kid) {
			t.Errorf("store retains data for merged child %v", kid)
		}
	}
	s := h.ctrl.Stats()
	if s.Cancelled+s.StaleDiscarded != 8 {
		t.Errorf("Cancelled = %d, StaleDiscarded = %d, want 8 together", s.Cancelled, s.StaleDiscarded)
	}
	if n, _ := h.tree.Node(octree.RootID); n.State != octree.Ready {
		t.Errorf("root state = %v, want Ready", n.State)
	}
}

func TestController_StaleCompletion(t *testing.T) {
	h := newHarness(t, harnessConfig{
		root:     octree.Cube(r3.Vector{}, 16),
		maxDepth: 0,
		noise:    kernel.DefaultNoise(),
	})

	h.tick(t, far)
	deadline := time.Now().Add(10 * time.Second)
	for h.queue.Stats().Completed == 0 {
		if time.Now().After(deadline) {
			t.Fatal("density never completed")
		}
		time.Sleep(time.Millisecond)
	}

	// The finished result is still queued when the edit lands.
	if err := h.ctrl.Deform(kernel.Edit{Center: r3.Vector{}, Radius: 4, Strength: 10}); err != nil {
		t.Fatalf("Deform() error = %v", err)
	}
	h.settle(t, far, nil)

	s := h.ctrl.Stats()
	if s.StaleDiscarded != 1 {
		t.Errorf("StaleDiscarded = %d, want 1", s.StaleDiscarded)
	}
	m, ok := h.store.Mesh(octree.RootID)
	if !ok || m.Generation != 1 {
		t.Fatalf("root mesh = %v, want generation 1", m)
	}
	if g, _ := h.store.Grid(octree.RootID); g.Edits != 1 {
		t.Errorf("grid built with %d edits, want 1", g.Edits)
	}
}

func TestController_Deform(t *testing.T) {
	h := newHarness(t, harnessConfig{
		root:     octree.Cube(r3.Vector{}, 16),
		maxDepth: 0,
		noise:    kernel.DefaultNoise(),
	})
	h.settle(t, far, nil)
	old, _ := h.store.Mesh(octree.RootID)

	if err := h.ctrl.Deform(kernel.Edit{Center: r3.Vector{}, Radius: 6, Strength: 30}); err != nil {
		t.Fatalf("Deform() error = %v", err)
	}
	if n, _ := h.tree.Node(octree.RootID); n.State != octree.Stale {
		t.Errorf("root state = %v after edit, want Stale", n.State)
	}
	if f := h.ctrl.Frontier(); len(f) != 1 || f[0].Mesh != old {
		t.Error("old mesh left the frontier before its replacement was ready")
	}

	h.settle(t, far, nil)
	m, _ := h.store.Mesh(octree.RootID)
	if m == old || m.Generation != 1 {
		t.Errorf("mesh generation = %d, want a new generation 1 mesh", m.Generation)
	}
	if s := h.ctrl.Stats(); s.Deforms != 1 || s.DensityRequests != 2 {
		t.Errorf("Deforms = %d, DensityRequests = %d, want 1 and 2", s.Deforms, s.DensityRequests)
	}
}

// failingKernel fails every density dispatch.
type failingKernel struct {
	kernel.Kernel
}

var errBoom = errors.New("boom")

func (failingKernel) GenerateDensity(context.Context, *kernel.DensityInput) (*kernel.DensityOutput, error) {
	return nil, errBoom
}

func TestController_RetryThenFail(t *testing.T) {
	h := newHarness(t, harnessConfig{
		root:     octree.Cube(r3.Vector{}, 16),
		maxDepth: 0,
		retry:    work.RetryPolicy{Limit: 3, Backoff: time.Second},
		kernel:   failingKernel{Kernel: kernel.NewCPU()},
	})
	failures := func(n uint64) func() bool {
		return func() bool { return h.ctrl.Stats().Failures >= n }
	}

	h.waitFor(t, far, "first failure", failures(1))
	h.tick(t, far)
	if got := h.ctrl.Stats().DensityRequests; got != 1 {
		t.Fatalf("DensityRequests = %d during back-off, want 1", got)
	}

	h.clock.Add(time.Second)
	h.waitFor(t, far, "second failure", failures(2))
	h.clock.Add(time.Second)
	h.tick(t, far)
	if got := h.ctrl.Stats().DensityRequests; got != 2 {
		t.Fatalf("DensityRequests = %d before doubled back-off elapsed, want 2", got)
	}

	h.clock.Add(time.Second)
	h.waitFor(t, far, "third failure", failures(3))
	n, _ := h.tree.Node(octree.RootID)
	if n.State != octree.GenerationFailed {
		t.Fatalf("root state = %v, want GenerationFailed", n.State)
	}

	h.clock.Add(time.Hour)
	h.settle(t, far, nil)
	s := h.ctrl.Stats()
	if s.DensityRequests != 3 || s.Failed != 1 {
		t.Errorf("DensityRequests = %d, Failed = %d, want 3 and 1", s.DensityRequests, s.Failed)
	}
	if len(h.ctrl.Frontier()) != 0 {
		t.Error("failed node produced a frontier entry")
	}
}

// =============================================================================
// Edits during LOD changes
// =============================================================================

func TestController_DeformWhileSubdividing(t *testing.T) {
	root := octree.Cube(r3.Vector{}, 100)
	gk := &gatedKernel{Kernel: kernel.NewCPU(), root: root, gate: make(chan struct{})}
	h := newHarness(t, harnessConfig{
		root:      root,
		maxDepth:  1,
		distances: []float64{50},
		noise:     kernel.DefaultNoise(),
		kernel:    gk,
	})
	noGaps := h.gapless(t)

	h.settle(t, far, nil)
	old, _ := h.store.Mesh(octree.RootID)

	h.tick(t, r3.Vector{})
	if n, _ := h.tree.Node(octree.RootID); n.State != octree.Subdividing {
		t.Fatalf("root state = %v, want Subdividing", n.State)
	}
	if err := h.ctrl.Deform(kernel.Edit{Center: r3.Vector{}, Radius: 10, Strength: 30}); err != nil {
		t.Fatalf("Deform() error = %v", err)
	}
	noGaps()

	// Back out before any child finishes; the root comes back with data
	// that predates the edit.
	h.tick(t, far)
	noGaps()
	if !h.tree.IsLeaf(octree.RootID) {
		t.Fatal("root did not merge")
	}
	if n, _ := h.tree.Node(octree.RootID); n.State != octree.Stale && n.State != octree.Generating {
		t.Errorf("root state = %v after merge, want Stale or regenerating", n.State)
	}

	close(gk.gate)
	h.settle(t, far, noGaps)

	n, _ := h.tree.Node(octree.RootID)
	if n.State != octree.Ready {
		t.Errorf("root state = %v, want Ready", n.State)
	}
	if m, _ := h.store.Mesh(octree.RootID); m == old {
		t.Error("root still shows the mesh from before the edit")
	}
	h.requireCurrentRoot(t)
	if err := h.ctrl.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

// flakyRootKernel fails the first edited density request for the root.
type flakyRootKernel struct {
	kernel.Kernel
	root  octree.Bounds
	fails atomic.Int32
}

func (k *flakyRootKernel) GenerateDensity(ctx context.Context, in *kernel.DensityInput) (*kernel.DensityOutput, error) {
	if in.Bounds == k.root && len(in.Edits) > 0 && k.fails.Add(1) == 1 {
		return nil, errBoom
	}
	return k.Kernel.GenerateDensity(ctx, in)
}

func TestController_FailedRegenerationKeepsMesh(t *testing.T) {
	root := octree.Cube(r3.Vector{}, 100)
	h := newHarness(t, harnessConfig{
		root:      root,
		maxDepth:  1,
		distances: []float64{50},
		noise:     kernel.DefaultNoise(),
		kernel:    &flakyRootKernel{Kernel: kernel.NewCPU(), root: root},
	})
	noGaps := h.gapless(t)

	h.settle(t, far, nil)
	if err := h.ctrl.Deform(kernel.Edit{Center: r3.Vector{}, Radius: 10, Strength: 30}); err != nil {
		t.Fatalf("Deform() error = %v", err)
	}
	h.waitFor(t, far, "failed regeneration", func() bool { return h.ctrl.Stats().Failures >= 1 })
	noGaps()

	n, _ := h.tree.Node(octree.RootID)
	if n.State != octree.Stale {
		t.Fatalf("root state = %v during back-off, want Stale", n.State)
	}
	if !h.store.Retained(octree.RootID) {
		t.Fatal("root mesh dropped by the failed regeneration")
	}

	// The viewer closes in and backs out again while the retry waits.
	for range 3 {
		h.tick(t, r3.Vector{})
		noGaps()
	}
	h.tick(t, far)
	noGaps()
	if s := h.ctrl.Stats(); s.Subdivisions != 0 {
		t.Errorf("Subdivisions = %d during back-off, want 0", s.Subdivisions)
	}

	h.clock.Add(time.Second)
	h.settle(t, r3.Vector{}, noGaps)
	if h.tree.IsLeaf(octree.RootID) {
		t.Fatal("root did not subdivide after regenerating")
	}
	h.settle(t, far, noGaps)

	if !h.tree.IsLeaf(octree.RootID) {
		t.Fatal("root did not merge")
	}
	if n, _ := h.tree.Node(octree.RootID); n.State != octree.Ready {
		t.Errorf("root state = %v, want Ready", n.State)
	}
	h.requireCurrentRoot(t)
	if s := h.ctrl.Stats(); s.Merges != 1 || s.Failed != 0 {
		t.Errorf("Merges = %d, Failed = %d, want 1 and 0", s.Merges, s.Failed)
	}
}

// =============================================================================
// Seams
// =============================================================================

func TestController_SeamAcrossDepths(t *testing.T) {
	h := newHarness(t, harnessConfig{
		root:      octree.Cube(r3.Vector{}, 16),
		maxDepth:  2,
		distances: []float64{100, 5},
		noise:     kernel.Noise{Octaves: 3, Frequency: 0.1, Amplitude: 4, Persistence: 0.5, Lacunarity: 2},
		iso:       4,
	})
	viewer := r3.Vector{X: -12, Y: -12, Z: -12}
	h.settle(t, viewer, nil)

	coarse := octree.RootID.Child(1)
	if !h.tree.IsLeaf(coarse) || h.tree.IsLeaf(octree.RootID.Child(0)) {
		t.Fatal("expected octant 0 subdivided and octant 1 a leaf")
	}

	fine := make(map[mgl32.Vec3]bool)
	for _, e := range h.ctrl.Frontier() {
		if e.Node.Depth() == 2 {
			for _, p := range e.Mesh.Positions {
				fine[p] = true
			}
		}
	}
	m, ok := h.store.Mesh(coarse)
	if !ok {
		t.Fatal("coarse leaf has no mesh")
	}
	shared := 0
	for _, p := range m.Positions {
		if p.X() != 0 {
			continue
		}
		shared++
		if !fine[p] {
			t.Errorf("coarse boundary vertex %v missing from the finer meshes", p)
		}
	}
	if shared == 0 {
		t.Fatal("no vertices on the shared face")
	}
	if h.ctrl.Stats().Restitches == 0 {
		t.Log("no re-stitching was needed")
	}
}

func TestController_DesiredDepth(t *testing.T) {
	h := newHarness(t, harnessConfig{
		root:      octree.Cube(r3.Vector{}, 100),
		maxDepth:  2,
		distances: []float64{400, 8, 6, 4},
	})
	h.ctrl.viewer = r3.Vector{X: 500}
	tests := []struct {
		b    octree.Bounds
		want int
	}{
		{octree.Cube(r3.Vector{}, 100), 0},
		{octree.Cube(r3.Vector{X: 450}, 49), 2},
		{octree.Cube(r3.Vector{X: 300}, 10), 1},
	}
	for _, tt := range tests {
		if got := h.ctrl.DesiredDepth(tt.b); got != tt.want {
			t.Errorf("DesiredDepth(%v) = %d, want %d", tt.b, got, tt.want)
		}
	}
}
