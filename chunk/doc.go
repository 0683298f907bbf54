// Package chunk stores per-node terrain data: density grids, the meshes
// extracted from them, and a byte-budgeted cache of released grids.
package chunk
