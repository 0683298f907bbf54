// Package octree provides the sparse spatial index of the terrain engine.
//
// Nodes live in an arena keyed by Morton-coded NodeID. A parent owns its
// eight children exclusively; the child-to-parent link is derived from the
// ID and is used only for lookup. The tree has no GPU dependency and is
// mutated from a single control goroutine, so it carries no locks.
//
// Child octant i covers the upper X half when bit 0 is set, the upper Y
// half for bit 1 and the upper Z half for bit 2. Faces are ordered
// +X, -X, +Y, -Y, +Z, -Z.
//
// Every state change goes through Transition and is reported on the
// best-effort Events channel:
//
//	Empty -> Generating -> DensityReady -> Extracting -> Ready
//	Ready -> Subdividing | Merging | Stale
//	Stale -> Generating
package octree
