package chunk

import "errors"

// Store errors.
var (
	// ErrGenerationMismatch is returned by CommitMesh when the mesh was not
	// extracted from the node's staged or current grid.
	ErrGenerationMismatch = errors.New("chunk: mesh generation does not match grid")

	// ErrNoGrid is returned by CommitMesh when the node holds no grid.
	ErrNoGrid = errors.New("chunk: node has no grid")
)
