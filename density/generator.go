// Package density turns density requests into dispatch work.
package density

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gogpu/terrain/chunk"
	"github.com/gogpu/terrain/dispatch"
	"github.com/gogpu/terrain/kernel"
	"github.com/gogpu/terrain/octree"
	"github.com/gogpu/terrain/work"
)

// Config holds the field parameters shared by every node.
type Config struct {
	// Resolution is the number of lattice cells per axis.
	Resolution int
	Seed       int64
	Noise      kernel.Noise
}

// Generator submits density work for octree nodes and keeps the log of
// deformation edits applied to the world.
type Generator struct {
	queue  *work.Queue
	kernel kernel.Kernel
	cache  *chunk.GridCache
	cfg    Config
	edits  []kernel.Edit
	log    *slog.Logger
}

// New creates a generator. cache may be nil.
func New(q *work.Queue, k kernel.Kernel, cache *chunk.GridCache, cfg Config, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Generator{queue: q, kernel: k, cache: cache, cfg: cfg, log: log}
}

// AddEdit appends a deformation to the world. It affects grids generated
// afterwards.
func (g *Generator) AddEdit(e kernel.Edit) {
	g.edits = append(g.edits, e)
}

// Edits returns the number of edits applied so far.
func (g *Generator) Edits() int {
	return len(g.edits)
}

// EditsFor returns the edits that can change samples inside b, in the
// order they were applied.
func (g *Generator) EditsFor(b octree.Bounds) []kernel.Edit {
	var out []kernel.Edit
	for _, e := range g.edits {
		if e.Affects(b) {
			out = append(out, e)
		}
	}
	return out
}

// Request submits density work for a node. A grid released earlier with
// the same edits is served from the cache without a kernel call.
func (g *Generator) Request(req work.Request, bounds octree.Bounds) dispatch.Handle {
	edits := g.EditsFor(bounds)
	item := dispatch.Item[work.Result]{
		Label:    work.KindDensity.String(),
		Priority: req.Priority,
	}

	if g.cache != nil {
		if cached, ok := g.cache.Get(chunk.GridKey{Node: req.Node, Edits: len(edits)}); ok {
			grid := *cached
			grid.Generation = req.Epoch
			g.log.Debug("density: served from cache", "node", req.Node.String())
			item.Run = func(context.Context) (work.Result, error) {
				return work.Result{Request: req, Grid: &grid, Cached: true}, nil
			}
			return g.queue.Submit(item)
		}
	}

	in := &kernel.DensityInput{
		Bounds:     bounds,
		Resolution: [3]int{g.cfg.Resolution, g.cfg.Resolution, g.cfg.Resolution},
		Seed:       g.cfg.Seed,
		Noise:      g.cfg.Noise,
		Edits:      edits,
	}
	item.Run = func(ctx context.Context) (work.Result, error) {
		out, err := g.kernel.GenerateDensity(ctx, in)
		if err != nil {
			return work.Result{}, err
		}
		return work.Result{Request: req, Grid: &chunk.DensityGrid{
			Node:       req.Node,
			Bounds:     bounds,
			Resolution: in.Resolution,
			Seed:       in.Seed,
			Edits:      len(edits),
			Generation: req.Epoch,
			Samples:    out.Samples,
		}}, nil
	}
	return g.queue.Submit(item)
}

// Complete decodes a density completion.
func (g *Generator) Complete(c work.Completion) (*chunk.DensityGrid, error) {
	res, err := work.Decode(c)
	if err != nil {
		return nil, err
	}
	if res.Grid == nil {
		return nil, fmt.Errorf("%w: density result without grid", work.ErrDispatchFailed)
	}
	if want := kernel.SampleCount(res.Grid.Resolution); len(res.Grid.Samples) != want {
		return nil, fmt.Errorf("%w: grid has %d samples, want %d", work.ErrDispatchFailed, len(res.Grid.Samples), want)
	}
	return res.Grid, nil
}
