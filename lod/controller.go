package lod

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"

	"github.com/gogpu/terrain/chunk"
	"github.com/gogpu/terrain/density"
	"github.com/gogpu/terrain/dispatch"
	"github.com/gogpu/terrain/extract"
	"github.com/gogpu/terrain/kernel"
	"github.com/gogpu/terrain/octree"
	"github.com/gogpu/terrain/work"
)

// Config configures a Controller.
type Config struct {
	// Distances are the LOD thresholds. A node wants one level of depth
	// for every threshold greater than its distance to the viewer.
	Distances []float64

	Retry work.RetryPolicy

	// CheckInvariants validates the tree after every tick.
	CheckInvariants bool
}

// Option configures a Controller.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
}

// WithClock sets the clock used for retry back-off.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger for per-node decisions.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Controller drives the octree toward the level of detail wanted around
// the viewer. It owns the tree and the store and must only be used from
// the control goroutine.
type Controller struct {
	tree    *octree.Tree
	store   *chunk.Store
	queue   *work.Queue
	density *density.Generator
	extract *extract.Extractor
	cfg     Config
	clock   clock.Clock
	log     *slog.Logger

	inflight map[dispatch.Handle]work.Request
	byNode   map[octree.NodeID]dispatch.Handle
	dirty    map[octree.NodeID]struct{}

	viewer r3.Vector
	stats  Stats
}

// New creates a controller over the given pipeline parts.
func New(tree *octree.Tree, store *chunk.Store, queue *work.Queue, gen *density.Generator, ext *extract.Extractor, cfg Config, opts ...Option) *Controller {
	o := options{clock: clock.New(), logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller{
		tree:     tree,
		store:    store,
		queue:    queue,
		density:  gen,
		extract:  ext,
		cfg:      cfg,
		clock:    o.clock,
		log:      o.logger,
		inflight: make(map[dispatch.Handle]work.Request),
		byNode:   make(map[octree.NodeID]dispatch.Handle),
		dirty:    make(map[octree.NodeID]struct{}),
	}
}

// Tick runs one control step for the given viewer position. An error
// wrapping octree.ErrInvariantViolation means the engine state is corrupt
// and ticking must stop.
func (c *Controller) Tick(viewer r3.Vector) error {
	c.viewer = viewer
	c.stats.Ticks++

	if err := c.drain(); err != nil {
		return err
	}
	if err := c.releaseParents(octree.RootID); err != nil {
		return err
	}
	if err := c.visit(octree.RootID, c.clock.Now()); err != nil {
		return err
	}
	c.reprioritize()
	c.restitch()

	if c.cfg.CheckInvariants {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DesiredDepth returns the depth wanted for a node with bounds b.
func (c *Controller) DesiredDepth(b octree.Bounds) int {
	d := b.Distance(c.viewer)
	want := 0
	for _, t := range c.cfg.Distances {
		if t > d {
			want++
		}
	}
	return min(want, c.tree.MaxDepth())
}

func (c *Controller) priority(b octree.Bounds) float64 {
	return work.Priority(b.Distance(c.viewer))
}

// =============================================================================
// Completions
// =============================================================================

func (c *Controller) drain() error {
	for _, comp := range c.queue.Poll() {
		req, ok := c.inflight[comp.Handle]
		if !ok {
			// Work abandoned by a cancel, merge or edit.
			if comp.Status == dispatch.StatusCancelled {
				c.stats.Cancelled++
			} else {
				c.discard(comp, "untracked")
			}
			continue
		}
		delete(c.inflight, comp.Handle)
		if c.byNode[req.Node] == comp.Handle {
			delete(c.byNode, req.Node)
		}
		if comp.Status == dispatch.StatusCancelled {
			c.stats.Cancelled++
			continue
		}

		n, ok := c.tree.Node(req.Node)
		switch {
		case !ok:
			c.discard(comp, "node gone")
			continue
		case n.Incarnation != req.Incarnation:
			c.discard(comp, "node recreated")
			continue
		case req.Epoch < n.Epoch:
			c.discard(comp, "old epoch")
			continue
		case req.Epoch > n.Epoch:
			return fmt.Errorf("%w: completion for %v has epoch %d, node has %d",
				octree.ErrInvariantViolation, req.Node, req.Epoch, n.Epoch)
		}

		var err error
		switch req.Kind {
		case work.KindDensity:
			err = c.completeDensity(n, req, comp)
		case work.KindSurface:
			err = c.completeSurface(n, req, comp)
		default:
			err = fmt.Errorf("%w: request kind %v", octree.ErrInvariantViolation, req.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) discard(comp work.Completion, reason string) {
	c.stats.StaleDiscarded++
	instrumentStaleDiscard(comp.Label)
	c.log.Debug("lod: completion discarded",
		"handle", uint64(comp.Handle), "label", comp.Label, "reason", reason, "err", work.ErrStaleDiscarded)
}

func (c *Controller) completeDensity(n *octree.Node, req work.Request, comp work.Completion) error {
	if n.State != octree.Generating {
		c.discard(comp, "node not generating")
		return nil
	}
	grid, err := c.density.Complete(comp)
	if err != nil {
		return c.fail(n, err)
	}
	if comp.Value.Cached {
		c.stats.CacheHits++
	}
	c.store.Stage(n.ID, grid)
	if err := c.tree.Transition(n.ID, octree.DensityReady); err != nil {
		return err
	}
	c.touchNeighbors(n.ID)
	return c.requestSurface(n, grid)
}

func (c *Controller) completeSurface(n *octree.Node, req work.Request, comp work.Completion) error {
	restitch := n.State == octree.Ready
	if n.State != octree.Extracting && !restitch {
		c.discard(comp, "node not extracting")
		return nil
	}
	mesh, err := c.extract.Complete(comp)
	if err != nil {
		if restitch {
			c.stats.Failures++
			c.log.Debug("lod: re-stitch failed", "node", n.ID.String(), "err", err)
			return nil
		}
		return c.fail(n, err)
	}
	if err := c.store.CommitMesh(n.ID, mesh); err != nil {
		return fmt.Errorf("%w: %w", octree.ErrInvariantViolation, err)
	}
	n.Attempts = 0
	n.RetryAt = time.Time{}
	if !restitch {
		if err := c.tree.Transition(n.ID, octree.Ready); err != nil {
			return err
		}
	}
	if n.Leaf() {
		c.dirty[n.ID] = struct{}{}
	}
	return nil
}

// fail schedules a retry of the failed stage, or marks the node failed
// once the retry policy is exhausted.
func (c *Controller) fail(n *octree.Node, err error) error {
	n.Attempts++
	c.stats.Failures++
	instrumentFailure(n.State)

	if c.cfg.Retry.Exhausted(n.Attempts) {
		c.log.Warn("lod: generation failed permanently",
			"node", n.ID.String(), "attempts", n.Attempts, "err", err)
		c.store.Unstage(n.ID)
		return c.tree.Transition(n.ID, octree.GenerationFailed)
	}

	delay := c.cfg.Retry.Delay(n.Attempts)
	n.RetryAt = c.clock.Now().Add(delay)
	c.log.Debug("lod: dispatch failed, retrying",
		"node", n.ID.String(), "state", n.State.String(), "attempt", n.Attempts, "delay", delay, "err", err)
	if n.State == octree.Extracting {
		return c.tree.Transition(n.ID, octree.DensityReady)
	}
	return c.tree.Transition(n.ID, c.idle(n))
}

// idle is the state a node waits in without work in flight: Stale while
// it still shows a mesh, Empty otherwise.
func (c *Controller) idle(n *octree.Node) octree.State {
	if c.store.Retained(n.ID) {
		return octree.Stale
	}
	return octree.Empty
}

// current reports whether the node's grid reflects every edit touching it.
func (c *Controller) current(n *octree.Node) bool {
	g, ok := c.store.Grid(n.ID)
	return ok && g.Edits == len(c.density.EditsFor(n.Bounds))
}

// =============================================================================
// Requests
// =============================================================================

func (c *Controller) track(h dispatch.Handle, req work.Request) {
	c.inflight[h] = req
	c.byNode[req.Node] = h
}

func (c *Controller) requestDensity(n *octree.Node) error {
	if err := c.tree.Transition(n.ID, octree.Generating); err != nil {
		return err
	}
	req := work.For(n, work.KindDensity, c.priority(n.Bounds))
	c.track(c.density.Request(req, n.Bounds), req)
	c.stats.DensityRequests++
	c.log.Debug("lod: density requested", "node", n.ID.String(), "epoch", n.Epoch)
	return nil
}

func (c *Controller) requestSurface(n *octree.Node, grid *chunk.DensityGrid) error {
	if err := c.tree.Transition(n.ID, octree.Extracting); err != nil {
		return err
	}
	c.submitSurface(n, grid)
	return nil
}

func (c *Controller) submitSurface(n *octree.Node, grid *chunk.DensityGrid) {
	req := work.For(n, work.KindSurface, c.priority(n.Bounds))
	c.track(c.extract.Request(req, grid), req)
	c.stats.SurfaceRequests++
}

// cancel abandons the node's tracked work. Its completion, if any, is
// then discarded as untracked.
func (c *Controller) cancel(id octree.NodeID) {
	h, ok := c.byNode[id]
	if !ok {
		return
	}
	c.queue.Cancel(h)
	delete(c.inflight, h)
	delete(c.byNode, id)
}

func (c *Controller) reprioritize() {
	for h, req := range c.inflight {
		n, ok := c.tree.Node(req.Node)
		if !ok {
			continue
		}
		p := c.priority(n.Bounds)
		if p != req.Priority && c.queue.Reprioritize(h, p) {
			req.Priority = p
			c.inflight[h] = req
		}
	}
}

// =============================================================================
// Tree decisions
// =============================================================================

func (c *Controller) visit(id octree.NodeID, now time.Time) error {
	n, ok := c.tree.Node(id)
	if !ok {
		return nil
	}
	want := c.DesiredDepth(n.Bounds)

	if !n.Leaf() {
		kids, _ := c.tree.Children(id)
		if want <= n.Depth() && c.childrenAreLeaves(kids) {
			return c.merge(n, kids, now)
		}
		for _, kid := range kids {
			if err := c.visit(kid, now); err != nil {
				return err
			}
		}
		return nil
	}

	if want > n.Depth() && n.Depth() < c.tree.MaxDepth() && (n.State == octree.Ready || n.State == octree.Empty) {
		return c.subdivide(n)
	}
	return c.fill(n, now)
}

// fill requests whatever a node lacks once its back-off has elapsed.
func (c *Controller) fill(n *octree.Node, now time.Time) error {
	if now.Before(n.RetryAt) {
		return nil
	}
	switch n.State {
	case octree.Empty, octree.Stale:
		return c.requestDensity(n)
	case octree.DensityReady:
		grid, ok := c.store.Grid(n.ID)
		if !ok {
			return fmt.Errorf("%w: %v is %v without a grid", octree.ErrInvariantViolation, n.ID, n.State)
		}
		return c.requestSurface(n, grid)
	}
	return nil
}

func (c *Controller) subdivide(n *octree.Node) error {
	c.cancel(n.ID)
	kids, err := c.tree.Subdivide(n.ID)
	if err != nil {
		return err
	}
	c.stats.Subdivisions++
	instrumentSubdivide()
	c.log.Debug("lod: subdivided", "node", n.ID.String(), "state", n.State.String())

	for _, kid := range kids {
		child, _ := c.tree.Node(kid)
		if err := c.requestDensity(child); err != nil {
			return err
		}
	}
	c.touchNeighbors(n.ID)
	return nil
}

// merge collapses the children of n once n can be shown in their place.
// A parent without data is generated first when any child is visible, so
// the merge never opens a hole. A parent whose retained mesh predates an
// edit comes back Stale and is regenerated behind that mesh.
func (c *Controller) merge(n *octree.Node, kids [8]octree.NodeID, now time.Time) error {
	switch n.State {
	case octree.Generating, octree.Extracting:
		return nil
	case octree.DensityReady:
		if c.store.Retained(n.ID) {
			return c.fill(n, now)
		}
	}
	if c.store.Retained(n.ID) {
		settle := octree.Stale
		if (n.State == octree.Ready || n.State == octree.Subdividing) && c.current(n) {
			settle = octree.Ready
		}
		return c.collapse(n, settle)
	}

	visible := false
	for _, kid := range kids {
		if c.covered(kid) {
			visible = true
			break
		}
	}
	if visible {
		if n.State == octree.GenerationFailed {
			return nil
		}
		return c.fill(n, now)
	}

	c.cancel(n.ID)
	c.store.Release(n.ID)
	if n.State != octree.Empty && n.State != octree.GenerationFailed {
		if err := c.tree.Transition(n.ID, octree.Empty); err != nil {
			return err
		}
	}
	return c.collapse(n, octree.Empty)
}

func (c *Controller) collapse(n *octree.Node, settle octree.State) error {
	c.cancel(n.ID)
	removed, err := c.tree.Merge(n.ID)
	if err != nil {
		return err
	}
	for _, kid := range removed {
		c.cancel(kid)
		c.store.Release(kid)
		delete(c.dirty, kid)
	}
	if err := c.tree.Transition(n.ID, settle); err != nil {
		return err
	}
	c.stats.Merges++
	instrumentMerge()
	c.log.Debug("lod: merged", "node", n.ID.String(), "state", settle.String())
	c.touchNeighbors(n.ID)
	c.dirty[n.ID] = struct{}{}
	return nil
}

// releaseParents drops the data of internal nodes whose children cover
// them, unless the node is about to be merged back.
func (c *Controller) releaseParents(id octree.NodeID) error {
	n, ok := c.tree.Node(id)
	if !ok || n.Leaf() {
		return nil
	}
	kids, _ := c.tree.Children(id)
	for _, kid := range kids {
		if err := c.releaseParents(kid); err != nil {
			return err
		}
	}

	if !c.store.Has(id) && (n.State == octree.Empty || n.State == octree.GenerationFailed) {
		return nil
	}
	if c.DesiredDepth(n.Bounds) <= n.Depth() && c.childrenAreLeaves(kids) {
		return nil
	}
	for _, kid := range kids {
		if !c.covered(kid) {
			return nil
		}
	}

	c.cancel(id)
	c.store.Release(id)
	if n.State != octree.Empty {
		if err := c.tree.Transition(id, octree.Empty); err != nil {
			return err
		}
	}
	n.Attempts = 0
	n.RetryAt = time.Time{}
	c.log.Debug("lod: released parent", "node", id.String())
	return nil
}

func (c *Controller) childrenAreLeaves(kids [8]octree.NodeID) bool {
	for _, kid := range kids {
		if !c.tree.IsLeaf(kid) {
			return false
		}
	}
	return true
}

// covered reports whether the subtree at id can be drawn without holes.
func (c *Controller) covered(id octree.NodeID) bool {
	if c.store.Retained(id) {
		return true
	}
	kids, ok := c.tree.Children(id)
	if !ok {
		return false
	}
	for _, kid := range kids {
		if !c.covered(kid) {
			return false
		}
	}
	return true
}

// =============================================================================
// Seams and edits
// =============================================================================

func (c *Controller) touchNeighbors(id octree.NodeID) {
	for _, f := range octree.AllFaces {
		for _, nb := range c.tree.Neighbors(id, f) {
			c.dirty[nb] = struct{}{}
		}
	}
}

// restitch re-extracts Ready leaves whose meshes were stitched against
// neighbor data that has since changed.
func (c *Controller) restitch() {
	ids := make([]octree.NodeID, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		n, ok := c.tree.Node(id)
		if !ok || !n.Leaf() {
			delete(c.dirty, id)
			continue
		}
		if n.State != octree.Ready {
			// Extraction still to come picks up current neighbors.
			if n.State != octree.Stale {
				delete(c.dirty, id)
			}
			continue
		}
		if _, busy := c.byNode[id]; busy {
			continue
		}
		delete(c.dirty, id)
		mesh, ok := c.store.Mesh(id)
		if !ok {
			continue
		}
		if mesh.Sources == c.extract.Sources(id) {
			continue
		}
		grid, ok := c.store.Grid(id)
		if !ok {
			continue
		}
		c.stats.Restitches++
		c.log.Debug("lod: re-stitching", "node", id.String())
		c.submitSurface(n, grid)
	}
}

// Deform applies an edit to the world. Every node the edit touches has its
// work invalidated and is regenerated; visible meshes stay until their
// replacements are ready.
func (c *Controller) Deform(e kernel.Edit) error {
	c.density.AddEdit(e)
	c.stats.Deforms++

	var hit []*octree.Node
	c.tree.Walk(func(n *octree.Node) bool {
		if !e.Affects(n.Bounds) {
			return false
		}
		hit = append(hit, n)
		return true
	})

	// Subdividing nodes keep their state; merge finds their grid out of
	// date and settles them Stale.
	for _, n := range hit {
		c.cancel(n.ID)
		if _, err := c.tree.BumpEpoch(n.ID); err != nil {
			return err
		}
		n.Attempts = 0
		n.RetryAt = time.Time{}

		var err error
		switch n.State {
		case octree.Ready:
			err = c.tree.Transition(n.ID, octree.Stale)
		case octree.Generating, octree.DensityReady, octree.Extracting:
			c.store.Unstage(n.ID)
			err = c.tree.Transition(n.ID, c.idle(n))
		case octree.GenerationFailed:
			err = c.tree.Transition(n.ID, c.idle(n))
		}
		if err != nil {
			return err
		}
	}
	c.log.Debug("lod: deformed", "center", e.Center, "radius", e.Radius, "nodes", len(hit))
	return nil
}
