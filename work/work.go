// Package work defines the requests exchanged between the LOD controller,
// the density generator and the surface extractor.
package work

import (
	"fmt"
	"math"
	"time"

	"github.com/gogpu/terrain/chunk"
	"github.com/gogpu/terrain/dispatch"
	"github.com/gogpu/terrain/octree"
)

// Kind is the pipeline stage a request runs.
type Kind uint8

const (
	// KindDensity samples the density field of a node.
	KindDensity Kind = iota
	// KindSurface extracts the surface of a node's grid.
	KindSurface
)

// String returns the queue label of the kind.
func (k Kind) String() string {
	switch k {
	case KindDensity:
		return "density"
	case KindSurface:
		return "surface"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Request addresses work to one incarnation and epoch of a node. A
// completion whose request no longer matches the node is stale.
type Request struct {
	Node        octree.NodeID
	Kind        Kind
	Priority    float64
	Epoch       uint64
	Incarnation uint64
}

// For returns a request for the node's current epoch and incarnation.
func For(n *octree.Node, kind Kind, priority float64) Request {
	return Request{
		Node:        n.ID,
		Kind:        kind,
		Priority:    priority,
		Epoch:       n.Epoch,
		Incarnation: n.Incarnation,
	}
}

// Priority maps a viewer distance to a queue priority; nearer is higher.
func Priority(distance float64) float64 {
	return 1 / (1 + distance)
}

// Result is the tagged outcome of a request. Exactly one of Grid and Mesh
// is set, matching Request.Kind.
type Result struct {
	Request Request
	Grid    *chunk.DensityGrid
	Mesh    *chunk.Mesh

	// Cached reports a grid served from the released grid cache.
	Cached bool
}

// Queue is the dispatch queue shared by both stages.
type Queue = dispatch.Queue[Result]

// Completion is a completed request.
type Completion = dispatch.Completion[Result]

// RetryPolicy bounds how often failed work is retried.
type RetryPolicy struct {
	// Limit is the number of attempts before a node is marked failed.
	Limit int

	// Backoff is the delay after the first failure. It doubles with every
	// further failure.
	Backoff time.Duration
}

// Exhausted reports whether a node with this many failed attempts must
// stop retrying.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.Limit
}

// Delay returns the wait before the next attempt after attempts failures.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 || p.Backoff <= 0 {
		return 0
	}
	shift := min(attempts-1, 30)
	d := p.Backoff << shift
	if d <= 0 || d > math.MaxInt64/2 {
		return time.Duration(math.MaxInt64 / 2)
	}
	return d
}
