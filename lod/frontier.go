package lod

import (
	"fmt"

	"github.com/gogpu/terrain/chunk"
	"github.com/gogpu/terrain/octree"
)

// Entry is one renderable node of the frontier.
type Entry struct {
	Node   octree.NodeID
	Bounds octree.Bounds
	Mesh   *chunk.Mesh
}

// Frontier returns the meshes to draw. No entry is an ancestor of another,
// and where a subtree cannot yet be drawn completely its nearest retained
// ancestor is drawn instead. Meshes are immutable and may be read from
// any goroutine.
func (c *Controller) Frontier() []Entry {
	var out []Entry
	c.frontier(octree.RootID, &out)
	instrumentFrontier(len(out))
	return out
}

func (c *Controller) frontier(id octree.NodeID, out *[]Entry) {
	n, ok := c.tree.Node(id)
	if !ok {
		return
	}
	kids, internal := c.tree.Children(id)
	if internal && c.childrenCovered(kids) {
		for _, kid := range kids {
			c.frontier(kid, out)
		}
		return
	}
	if m, ok := c.store.Mesh(id); ok {
		*out = append(*out, Entry{Node: id, Bounds: n.Bounds, Mesh: m})
		return
	}
	if internal {
		for _, kid := range kids {
			c.frontier(kid, out)
		}
	}
}

func (c *Controller) childrenCovered(kids [8]octree.NodeID) bool {
	for _, kid := range kids {
		if !c.covered(kid) {
			return false
		}
	}
	return true
}

// Stats contains controller counters and a snapshot of the pipeline.
type Stats struct {
	Ticks           uint64
	Subdivisions    uint64
	Merges          uint64
	Deforms         uint64
	DensityRequests uint64
	SurfaceRequests uint64
	Restitches      uint64

	// CacheHits counts density requests served from the grid cache.
	CacheHits uint64

	// StaleDiscarded counts completions dropped because their node had
	// moved on.
	StaleDiscarded uint64
	Cancelled      uint64
	Failures       uint64

	Nodes    int
	Leaves   int
	InFlight int
	Failed   int
}

// Stats returns the controller statistics.
func (c *Controller) Stats() Stats {
	s := c.stats
	s.Nodes = c.tree.Len()
	s.InFlight = len(c.inflight)
	c.tree.Walk(func(n *octree.Node) bool {
		if n.Leaf() {
			s.Leaves++
		}
		if n.State == octree.GenerationFailed {
			s.Failed++
		}
		return true
	})
	return s
}

// Validate checks the tree and the controller's request bookkeeping.
func (c *Controller) Validate() error {
	if err := c.tree.Validate(); err != nil {
		return err
	}
	for h, req := range c.inflight {
		if c.byNode[req.Node] != h {
			return fmt.Errorf("%w: request %d for %v is not indexed", octree.ErrInvariantViolation, h, req.Node)
		}
		n, ok := c.tree.Node(req.Node)
		if !ok {
			return fmt.Errorf("%w: request %d for removed node %v", octree.ErrInvariantViolation, h, req.Node)
		}
		if req.Epoch != n.Epoch || req.Incarnation != n.Incarnation {
			return fmt.Errorf("%w: request %d for %v is stale but tracked", octree.ErrInvariantViolation, h, req.Node)
		}
	}
	if len(c.byNode) != len(c.inflight) {
		return fmt.Errorf("%w: %d nodes indexed, %d requests tracked", octree.ErrInvariantViolation, len(c.byNode), len(c.inflight))
	}

	var err error
	c.tree.Walk(func(n *octree.Node) bool {
		if _, busy := c.byNode[n.ID]; n.State.InFlight() && !busy {
			err = fmt.Errorf("%w: %v is %v without tracked work", octree.ErrInvariantViolation, n.ID, n.State)
			return false
		}
		return err == nil
	})
	return err
}
