package octree

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
)

// Node is one cell of the tree. Nodes are owned by the Tree arena and are
// addressed by NodeID; the parent link is derived from the ID.
type Node struct {
	ID     NodeID
	Bounds Bounds
	State  State

	// Epoch is bumped whenever in-flight work for the node must be
	// invalidated. Children start at 0.
	Epoch uint64

	// Incarnation is unique across every node ever created by the tree, so
	// a node recreated under the same ID never accepts work addressed to
	// its predecessor.
	Incarnation uint64

	// Attempts counts consecutive failed dispatches; RetryAt is the
	// earliest time the next attempt may start.
	Attempts int
	RetryAt  time.Time

	leaf bool
}

// Depth returns the depth of the node.
func (n *Node) Depth() int { return n.ID.Depth() }

// Leaf reports whether the node has no children.
func (n *Node) Leaf() bool { return n.leaf }

// TransitionEvent records a node state change for profiling.
type TransitionEvent struct {
	Node NodeID
	From State
	To   State
	At   time.Time
}

// Option configures a Tree.
type Option func(*treeOptions)

type treeOptions struct {
	clock       clock.Clock
	eventBuffer int
}

// WithClock sets the clock used to timestamp transition events.
func WithClock(c clock.Clock) Option {
	return func(o *treeOptions) {
		o.clock = c
	}
}

// WithEventBuffer sets the capacity of the transition event channel.
// Zero disables events.
func WithEventBuffer(n int) Option {
	return func(o *treeOptions) {
		o.eventBuffer = n
	}
}

// Tree is a sparse octree stored as an arena of nodes.
//
// Tree is not safe for concurrent use; it is mutated only from the control
// goroutine. The event channel is the only part read elsewhere.
type Tree struct {
	root     Bounds
	maxDepth int
	nodes    map[NodeID]*Node
	serial   uint64

	clock   clock.Clock
	events  chan TransitionEvent
	dropped uint64
}

// New creates a tree with a single Empty root leaf.
func New(root Bounds, maxDepth int, opts ...Option) (*Tree, error) {
	if root.Empty() {
		return nil, fmt.Errorf("octree: empty root bounds %v", root)
	}
	if maxDepth < 0 || maxDepth > MaxSupportedDepth {
		return nil, fmt.Errorf("octree: max depth %d outside [0, %d]", maxDepth, MaxSupportedDepth)
	}

	o := treeOptions{clock: clock.New(), eventBuffer: 256}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Tree{
		root:     root,
		maxDepth: maxDepth,
		nodes:    make(map[NodeID]*Node),
		clock:    o.clock,
	}
	if o.eventBuffer > 0 {
		t.events = make(chan TransitionEvent, o.eventBuffer)
	}
	t.insert(RootID, root)
	return t, nil
}

func (t *Tree) insert(id NodeID, b Bounds) *Node {
	t.serial++
	n := &Node{ID: id, Bounds: b, State: Empty, Incarnation: t.serial, leaf: true}
	t.nodes[id] = n
	instrumentNodes(1)
	return n
}

// Bounds returns the root bounds.
func (t *Tree) Bounds() Bounds { return t.root }

// MaxDepth returns the configured maximum depth.
func (t *Tree) MaxDepth() int { return t.maxDepth }

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node for id.
func (t *Tree) Node(id NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// IsLeaf reports whether id exists and is a leaf.
func (t *Tree) IsLeaf(id NodeID) bool {
	n, ok := t.nodes[id]
	return ok && n.leaf
}

// Children returns the child IDs of an internal node.
func (t *Tree) Children(id NodeID) ([8]NodeID, bool) {
	var out [8]NodeID
	n, ok := t.nodes[id]
	if !ok || n.leaf {
		return out, false
	}
	for i := range out {
		out[i] = id.Child(i)
	}
	return out, true
}

// Subdivide splits a leaf in state Ready or Empty into eight Empty children.
// A Ready leaf moves to Subdividing so its data can be retained until the
// children are renderable. Past the maximum depth it returns ErrMaxDepth and
// leaves the tree untouched.
func (t *Tree) Subdivide(id NodeID) ([8]NodeID, error) {
	var kids [8]NodeID
	n, ok := t.nodes[id]
	if !ok {
		return kids, fmt.Errorf("%w: %v", ErrUnknownNode, id)
	}
	if !n.leaf {
		return kids, fmt.Errorf("%w: subdivide %v", ErrNotLeaf, id)
	}
	if n.Depth() >= t.maxDepth {
		return kids, ErrMaxDepth
	}
	if n.State != Ready && n.State != Empty {
		return kids, fmt.Errorf("%w: subdivide %v in %v", ErrInvalidState, id, n.State)
	}

	for i := range kids {
		kids[i] = id.Child(i)
		if _, exists := t.nodes[kids[i]]; exists {
			return kids, fmt.Errorf("%w: child %v of leaf %v already exists", ErrInvariantViolation, kids[i], id)
		}
	}
	for i, kid := range kids {
		t.insert(kid, n.Bounds.Octant(i))
	}
	n.leaf = false
	if n.State == Ready {
		t.setState(n, Subdividing)
	}
	return kids, nil
}

// Merge collapses the children of id, which must all be leaves, and
// returns the removed IDs so the caller can cancel their work and release
// their chunk data. The node passes through Merging, stays there until the
// caller settles it with Transition, and has its epoch bumped.
func (t *Tree) Merge(id NodeID) ([]NodeID, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownNode, id)
	}
	if n.leaf {
		return nil, fmt.Errorf("%w: merge leaf %v", ErrInvalidState, id)
	}
	if !CanTransition(n.State, Merging) {
		return nil, fmt.Errorf("%w: merge %v in %v", ErrInvalidState, id, n.State)
	}
	kids, _ := t.Children(id)
	for _, kid := range kids {
		c, ok := t.nodes[kid]
		if !ok {
			return nil, fmt.Errorf("%w: missing child %v of %v", ErrInvariantViolation, kid, id)
		}
		if !c.leaf {
			return nil, fmt.Errorf("%w: merge %v", ErrChildrenNotLeaves, id)
		}
	}

	removed := make([]NodeID, 0, len(kids))
	for _, kid := range kids {
		delete(t.nodes, kid)
		removed = append(removed, kid)
	}
	instrumentNodes(-len(kids))
	n.leaf = true
	n.Epoch++
	n.Attempts = 0
	n.RetryAt = time.Time{}
	t.setState(n, Merging)
	return removed, nil
}

// Transition moves a node to a new state along a legal edge.
func (t *Tree) Transition(id NodeID, to State) error {
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownNode, id)
	}
	if n.State == to {
		return nil
	}
	if !CanTransition(n.State, to) {
		return fmt.Errorf("%w: %v %v -> %v", ErrInvalidState, id, n.State, to)
	}
	t.setState(n, to)
	return nil
}

// BumpEpoch invalidates in-flight work for id and returns the new epoch.
func (t *Tree) BumpEpoch(id NodeID) (uint64, error) {
	n, ok := t.nodes[id]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownNode, id)
	}
	n.Epoch++
	return n.Epoch, nil
}

func (t *Tree) setState(n *Node, to State) {
	from := n.State
	n.State = to
	instrumentTransition(from, to)
	if t.events == nil {
		return
	}
	select {
	case t.events <- TransitionEvent{Node: n.ID, From: from, To: to, At: t.clock.Now()}:
	default:
		t.dropped++
		instrumentDroppedEvent()
	}
}

// Events returns the best-effort transition event channel, or nil when
// events are disabled.
func (t *Tree) Events() <-chan TransitionEvent { return t.events }

// DroppedEvents returns how many transition events were dropped.
func (t *Tree) DroppedEvents() uint64 { return t.dropped }

// FindContaining returns the leaf containing p. Points on a split plane
// belong to the upper child; the root's upper faces are inclusive.
func (t *Tree) FindContaining(p r3.Vector) (NodeID, bool) {
	if !t.root.Contains(p) {
		return 0, false
	}
	id := RootID
	for {
		n := t.nodes[id]
		if n.leaf {
			return id, true
		}
		c := n.Bounds.Center()
		oct := 0
		if p.X >= c.X {
			oct |= 1
		}
		if p.Y >= c.Y {
			oct |= 2
		}
		if p.Z >= c.Z {
			oct |= 4
		}
		id = id.Child(oct)
	}
}

// Walk visits nodes in pre-order. Returning false from fn skips the
// node's subtree.
func (t *Tree) Walk(fn func(n *Node) bool) {
	t.walk(RootID, fn)
}

func (t *Tree) walk(id NodeID, fn func(n *Node) bool) {
	n, ok := t.nodes[id]
	if !ok || !fn(n) || n.leaf {
		return
	}
	for i := range 8 {
		t.walk(id.Child(i), fn)
	}
}

// Leaves returns all leaf IDs in pre-order.
func (t *Tree) Leaves() []NodeID {
	var out []NodeID
	t.Walk(func(n *Node) bool {
		if n.leaf {
			out = append(out, n.ID)
		}
		return true
	})
	return out
}

// Validate checks arena consistency and the tiling invariant: every
// internal node has exactly eight children whose bounds partition it.
func (t *Tree) Validate() error {
	root, ok := t.nodes[RootID]
	if !ok {
		return fmt.Errorf("%w: missing root", ErrInvariantViolation)
	}
	if root.Bounds != t.root {
		return fmt.Errorf("%w: root bounds changed", ErrInvariantViolation)
	}
	reached := 0
	var err error
	t.Walk(func(n *Node) bool {
		reached++
		if n.Depth() > t.maxDepth {
			err = fmt.Errorf("%w: %v deeper than %d", ErrInvariantViolation, n.ID, t.maxDepth)
			return false
		}
		if n.leaf {
			return true
		}
		var vol float64
		for i := range 8 {
			c, ok := t.nodes[n.ID.Child(i)]
			if !ok {
				err = fmt.Errorf("%w: %v missing child %d", ErrInvariantViolation, n.ID, i)
				return false
			}
			if c.Bounds != n.Bounds.Octant(i) || !n.Bounds.ContainsBounds(c.Bounds) {
				err = fmt.Errorf("%w: child %v does not tile %v", ErrInvariantViolation, c.ID, n.ID)
				return false
			}
			vol += c.Bounds.Volume()
		}
		if d := vol - n.Bounds.Volume(); d > 1e-9*n.Bounds.Volume() || d < -1e-9*n.Bounds.Volume() {
			err = fmt.Errorf("%w: children of %v cover %g of %g", ErrInvariantViolation, n.ID, vol, n.Bounds.Volume())
			return false
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	if reached != len(t.nodes) {
		return fmt.Errorf("%w: %d nodes unreachable from root", ErrInvariantViolation, len(t.nodes)-reached)
	}
	return nil
}
