package octree

import "errors"

// Octree errors.
var (
	// ErrInvariantViolation reports a broken tree invariant. It indicates a
	// programming error and is never recovered from.
	ErrInvariantViolation = errors.New("octree: invariant violation")

	// ErrMaxDepth is returned when subdividing past the configured depth.
	// The tree is left unchanged.
	ErrMaxDepth = errors.New("octree: maximum depth reached")

	// ErrNotLeaf is returned when an operation requires a leaf.
	ErrNotLeaf = errors.New("octree: node is not a leaf")

	// ErrChildrenNotLeaves is returned by Merge when a child has children.
	ErrChildrenNotLeaves = errors.New("octree: children are not all leaves")

	// ErrUnknownNode is returned for IDs not present in the arena.
	ErrUnknownNode = errors.New("octree: unknown node")

	// ErrInvalidState is returned when the node state forbids the operation.
	ErrInvalidState = errors.New("octree: invalid state for operation")
)
