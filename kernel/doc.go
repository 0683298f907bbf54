// Package kernel defines the compute stages of the terrain pipeline and
// the CPU reference implementation.
//
// A kernel has two stages. GenerateDensity samples a procedural scalar
// field on the corners of a regular lattice spanning a node's bounds.
// ExtractSurface contours that lattice at the iso level with marching
// tetrahedra and returns an indexed triangle mesh.
//
// Both stages are deterministic: the same input produces bit-identical
// output on a given backend, independent of how work is scheduled.
// Extraction never truncates; a mesh larger than the declared capacity
// fails with ErrCapacityExceeded.
//
// Neighbor slices passed to ExtractSurface make the boundary of a node
// match its neighbors across octree depth changes. See Prepare.
package kernel
