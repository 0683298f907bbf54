// Package extract turns surface requests into dispatch work, gathering
// the neighbor samples that keep node boundaries crack free.
package extract

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

// Config holds the contouring parameters.
type Config struct {
	IsoLevel float64

	// MaxTriangles is the per-node output capacity. Zero means unbounded.
	MaxTriangles int
}

// Extractor submits surface work for octree nodes.
type Extractor struct {
	queue  *work.Queue
	kernel kernel.Kernel
	tree   *octree.Tree
	store  *chunk.Store
	cfg    Config
	log    *slog.Logger
}

// New creates an extractor reading neighbor grids from store.
func New(q *work.Queue, k kernel.Kernel, tree *octree.Tree, store *chunk.Store, cfg Config, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Extractor{queue: q, kernel: k, tree: tree, store: store, cfg: cfg, log: log}
}

// Authority returns the neighbor whose samples own the boundary on face f
// of id: a coarser neighbor, or a same-depth leaf on the negative side.
func (x *Extractor) Authority(id octree.NodeID, f octree.Face) (octree.NodeID, bool) {
	nb, ok := x.tree.Neighbor(id, f)
	if !ok {
		return 0, false
	}
	switch {
	case nb.Depth() < id.Depth():
		return nb, true
	case nb.Depth() == id.Depth() && !f.Positive() && x.tree.IsLeaf(nb):
		return nb, true
	default:
		return 0, false
	}
}

// Sources returns, per face, the neighbor grid a mesh of id extracted now
// would be stitched against.
func (x *Extractor) Sources(id octree.NodeID) [octree.NumFaces]chunk.Source {
	var out [octree.NumFaces]chunk.Source
	for _, f := range octree.AllFaces {
		nb, ok := x.Authority(id, f)
		if !ok {
			continue
		}
		if g, ok := x.store.Grid(nb); ok {
			out[f] = chunk.Source{Node: nb, Serial: g.Serial}
		}
	}
	return out
}

func (x *Extractor) slices(id octree.NodeID) ([]kernel.NeighborSlice, [octree.NumFaces]chunk.Source) {
	var (
		out     []kernel.NeighborSlice
		sources [octree.NumFaces]chunk.Source
	)
	for _, f := range octree.AllFaces {
		nb, ok := x.Authority(id, f)
		if !ok {
			continue
		}
		g, ok := x.store.Grid(nb)
		if !ok {
			continue
		}
		offU, offV, ratio := octree.FaceOffset(id, nb, f)
		out = append(out, kernel.NeighborSlice{
			Face:       f,
			Ratio:      ratio,
			OffsetU:    offU,
			OffsetV:    offV,
			Bounds:     g.Bounds,
			Resolution: g.Resolution,
			Samples:    g.Layer(f.Opposite()),
		})
		sources[f] = chunk.Source{Node: nb, Serial: g.Serial}
	}
	return out, sources
}

// Request submits surface work for a node's grid. Neighbor samples are
// copied now, so later changes to the store do not affect the work.
func (x *Extractor) Request(req work.Request, grid *chunk.DensityGrid) dispatch.Handle {
	slices, sources := x.slices(req.Node)
	in := &kernel.ExtractInput{
		Bounds:       grid.Bounds,
		Resolution:   grid.Resolution,
		Samples:      grid.Samples,
		IsoLevel:     x.cfg.IsoLevel,
		MaxTriangles: x.cfg.MaxTriangles,
		Slices:       slices,
	}
	x.log.Debug("extract: request", "node", req.Node.String(), "slices", len(slices))

	return x.queue.Submit(dispatch.Item[work.Result]{
		Label:    work.KindSurface.String(),
		Priority: req.Priority,
		Run: func(ctx context.Context) (work.Result, error) {
			out, err := x.kernel.ExtractSurface(ctx, in)
			if err != nil {
				return work.Result{}, err
			}
			return work.Result{Request: req, Mesh: &chunk.Mesh{
				Node:       req.Node,
				Generation: grid.Generation,
				Positions:  out.Positions,
				Normals:    out.Normals,
				Indices:    out.Indices,
				Stitched:   out.Stitched,
				Sources:    sources,
			}}, nil
		},
	})
}

// Complete decodes a surface completion.
func (x *Extractor) Complete(c work.Completion) (*chunk.Mesh, error) {
	res, err := work.Decode(c)
	if err != nil {
		return nil, err
	}
	if res.Mesh == nil {
		return nil, fmt.Errorf("%w: surface result without mesh", work.ErrDispatchFailed)
	}
	return res.Mesh, nil
}
