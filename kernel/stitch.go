package kernel

import (
	"fmt"
	"slices"

	"github.com/golang/geo/r3"

	"github.com/gogpu/terrain/octree"
)

// Seam stitching.
//
// A node takes the boundary of a face from the neighbor across it when
// that neighbor is coarser, or has the same depth and lies on the node's
// negative side. Exactly one side of every face is authoritative.
//
// The node's samples on the face are replaced by the neighbor's face
// samples interpolated over the neighbor's face triangulation. Both
// triangulations split along the min-to-max diagonal and nest for
// power-of-two size ratios, so the two sides contour the same piecewise
// linear function on the shared plane. Vertices on node edges that lie on
// a neighbor lattice edge are computed from the neighbor's corners, making
// them bit-identical to the neighbor's own vertices; the remaining face
// vertices fall on the neighbor's contour segments.
//
// This holds for any depth difference. Where three or more differently
// sized nodes meet along a node edge, the first stitched face in
// +X, -X, +Y, -Y, +Z, -Z order owns the edge samples.

// faceStitch is a validated neighbor slice bound to the node's lattice.
type faceStitch struct {
	slice  *NeighborSlice
	axis   int
	u, v   int
	plane  int // node lattice index of the face plane along axis
	nplane int // neighbor lattice index of the same plane
	nu, nv int // neighbor face lattice size along u and v
}

// Prepared holds extraction samples after stitching.
type Prepared struct {
	Samples  []float32
	Stitched octree.FaceSet

	res    [3]int
	bounds octree.Bounds
	faces  [octree.NumFaces]*faceStitch
}

// Prepare validates in and applies its neighbor slices to a copy of the
// samples. The result feeds both Triangulate and Resolve.
func Prepare(in *ExtractInput) (*Prepared, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p := &Prepared{
		Samples: slices.Clone(in.Samples),
		res:     in.Resolution,
		bounds:  in.Bounds,
	}
	if len(in.Slices) == 0 {
		return p, nil
	}

	for i := range in.Slices {
		s := &in.Slices[i]
		if int(s.Face) >= octree.NumFaces {
			return nil, fmt.Errorf("%w: face %d", ErrInvalidInput, s.Face)
		}
		if p.faces[s.Face] != nil {
			return nil, fmt.Errorf("%w: duplicate slice for face %v", ErrInvalidInput, s.Face)
		}
		fs, err := bindSlice(s, in.Resolution)
		if err != nil {
			return nil, err
		}
		p.faces[s.Face] = fs
	}

	covered := make([]bool, len(p.Samples))
	for _, f := range octree.AllFaces {
		fs := p.faces[f]
		if fs == nil {
			continue
		}
		p.Stitched = p.Stitched.With(f)
		var idx [3]int
		idx[fs.axis] = fs.plane
		for j := 0; j <= in.Resolution[fs.v]; j++ {
			for i := 0; i <= in.Resolution[fs.u]; i++ {
				idx[fs.u], idx[fs.v] = i, j
				k := p.index(idx)
				if covered[k] {
					continue
				}
				covered[k] = true
				p.Samples[k] = float32(fs.interpolate(fs.slice.OffsetU*in.Resolution[fs.u]+i, fs.slice.OffsetV*in.Resolution[fs.v]+j))
			}
		}
	}
	return p, nil
}

func bindSlice(s *NeighborSlice, res [3]int) (*faceStitch, error) {
	axis := s.Face.Axis()
	u, v := s.Face.PlaneAxes()
	if s.Ratio < 1 || s.Ratio&(s.Ratio-1) != 0 {
		return nil, fmt.Errorf("%w: face %v ratio %d is not a power of two", ErrInvalidInput, s.Face, s.Ratio)
	}
	if s.OffsetU < 0 || s.OffsetU >= s.Ratio || s.OffsetV < 0 || s.OffsetV >= s.Ratio {
		return nil, fmt.Errorf("%w: face %v offset (%d, %d) outside ratio %d", ErrInvalidInput, s.Face, s.OffsetU, s.OffsetV, s.Ratio)
	}
	if s.Resolution[u] != res[u] || s.Resolution[v] != res[v] || s.Resolution[axis] < 1 {
		return nil, fmt.Errorf("%w: face %v neighbor resolution %v does not match %v", ErrInvalidInput, s.Face, s.Resolution, res)
	}
	nu, nv := s.Resolution[u], s.Resolution[v]
	if len(s.Samples) != (nu+1)*(nv+1) {
		return nil, fmt.Errorf("%w: face %v slice has %d samples, want %d", ErrInvalidInput, s.Face, len(s.Samples), (nu+1)*(nv+1))
	}

	fs := &faceStitch{slice: s, axis: axis, u: u, v: v, nu: nu, nv: nv}
	if s.Face.Positive() {
		fs.plane = res[axis]
		fs.nplane = 0
	} else {
		fs.plane = 0
		fs.nplane = s.Resolution[axis]
	}
	return fs, nil
}

func (p *Prepared) index(idx [3]int) int {
	return idx[0] + (p.res[0]+1)*(idx[1]+(p.res[1]+1)*idx[2])
}

func (fs *faceStitch) at(cu, cv int) float64 {
	return float64(fs.slice.Samples[cv*(fs.nu+1)+cu])
}

// interpolate evaluates the neighbor's piecewise linear face function at
// fine face coordinates (nu, nv), measured in node lattice steps from the
// neighbor's face corner.
func (fs *faceStitch) interpolate(nu, nv int) float64 {
	r := fs.slice.Ratio
	cu, ru := nu/r, nu%r
	cv, rv := nv/r, nv%r
	v00 := fs.at(cu, cv)
	if ru == 0 && rv == 0 {
		return v00
	}
	a := float64(ru) / float64(r)
	b := float64(rv) / float64(r)
	if ru >= rv {
		val := v00 + a*(fs.at(cu+1, cv)-v00)
		if rv > 0 {
			val += b * (fs.at(cu+1, cv+1) - fs.at(cu+1, cv))
		}
		return val
	}
	val := v00 + b*(fs.at(cu, cv+1)-v00)
	if ru > 0 {
		val += a * (fs.at(cu+1, cv+1) - fs.at(cu, cv+1))
	}
	return val
}

// neighborCorner returns the world position and value of neighbor face
// corner (cu, cv).
func (fs *faceStitch) neighborCorner(cu, cv int) (r3.Vector, float64) {
	var idx [3]int
	idx[fs.axis] = fs.nplane
	idx[fs.u], idx[fs.v] = cu, cv
	pos := LatticePosition(fs.slice.Bounds, fs.slice.Resolution, idx[0], idx[1], idx[2])
	return pos, fs.at(cu, cv)
}

// coarseEdge maps a node lattice edge on the face plane onto the neighbor
// lattice edge containing it. It reports false when the edge crosses the
// interior of a neighbor face triangle.
func (fs *faceStitch) coarseEdge(a, b [3]int, res [3]int) (c0, c1 [2]int, ok bool) {
	du, dv := b[fs.u]-a[fs.u], b[fs.v]-a[fs.v]
	r := fs.slice.Ratio
	nu := fs.slice.OffsetU*res[fs.u] + a[fs.u]
	nv := fs.slice.OffsetV*res[fs.v] + a[fs.v]
	cu, ru := nu/r, nu%r
	cv, rv := nv/r, nv%r
	switch {
	case du == 1 && dv == 0 && rv == 0:
		return [2]int{cu, cv}, [2]int{cu + 1, cv}, true
	case du == 0 && dv == 1 && ru == 0:
		return [2]int{cu, cv}, [2]int{cu, cv + 1}, true
	case du == 1 && dv == 1 && ru == rv:
		return [2]int{cu, cv}, [2]int{cu + 1, cv + 1}, true
	default:
		return c0, c1, false
	}
}
