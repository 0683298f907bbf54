package chunk

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/terrain/kernel"
	"github.com/gogpu/terrain/octree"
)

// DensityGrid is the sampled density field of one node. Samples hold one
// value per lattice corner, x fastest, then y, then z. A grid is immutable
// once staged.
type DensityGrid struct {
	Node       octree.NodeID
	Bounds     octree.Bounds
	Resolution [3]int
	Seed       int64

	// Edits is the number of deformation edits that touched the node when
	// the grid was generated.
	Edits int

	// Generation is the epoch of the request that produced the grid.
	Generation uint64

	// Serial is assigned by Store.Stage and is unique per staged grid.
	Serial uint64

	Samples []float32
}

// At returns the sample at lattice corner (i, j, k).
func (g *DensityGrid) At(i, j, k int) float32 {
	return g.Samples[i+(g.Resolution[0]+1)*(j+(g.Resolution[1]+1)*k)]
}

// Layer returns the samples on face f, as consumed by a neighbor slice.
func (g *DensityGrid) Layer(f octree.Face) []float32 {
	return kernel.FaceLayer(g.Samples, g.Resolution, f)
}

// Bytes returns the memory held by the samples.
func (g *DensityGrid) Bytes() int64 {
	return int64(len(g.Samples)) * 4
}

// Empty reports whether the surface does not cross the grid, i.e. every
// sample lies on the same side of iso.
func (g *DensityGrid) Empty(iso float32) bool {
	if len(g.Samples) == 0 {
		return true
	}
	below := g.Samples[0] < iso
	for _, v := range g.Samples[1:] {
		if (v < iso) != below {
			return false
		}
	}
	return true
}

// Source identifies the neighbor grid a mesh face was stitched against.
// The zero Source means the face was not stitched.
type Source struct {
	Node   octree.NodeID
	Serial uint64
}

// Mesh is the renderable surface of one node.
type Mesh struct {
	Node octree.NodeID

	// Generation equals the Generation of the grid the mesh came from.
	Generation uint64

	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Indices   []uint32

	// Stitched lists the faces whose boundary came from a neighbor, and
	// Sources names the neighbor grid used for each of them.
	Stitched octree.FaceSet
	Sources  [octree.NumFaces]Source
}

// Triangles returns the number of triangles.
func (m *Mesh) Triangles() int {
	return len(m.Indices) / 3
}

// Bytes returns the memory held by the vertex and index buffers.
func (m *Mesh) Bytes() int64 {
	return int64(len(m.Positions)+len(m.Normals))*12 + int64(len(m.Indices))*4
}
