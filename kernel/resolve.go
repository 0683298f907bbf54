package kernel

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"
)

// Resolve turns triangle topology into an indexed mesh. Vertices are
// shared per lattice edge, placed by linear interpolation of the prepared
// samples, and wound so the face normal points out of the solid. tris must
// be in canonical order for the output to be deterministic.
func Resolve(in *ExtractInput, p *Prepared, tris []Triangle) (*ExtractOutput, error) {
	out := &ExtractOutput{Stitched: p.Stitched}
	if len(tris) == 0 {
		return out, nil
	}
	if in.MaxTriangles > 0 && len(tris) > in.MaxTriangles {
		return nil, fmt.Errorf("%w: %d triangles, capacity %d", ErrCapacityExceeded, len(tris), in.MaxTriangles)
	}

	r := resolver{p: p, iso: float64(float32(in.IsoLevel)), vertices: make(map[Edge]uint32, len(tris))}
	out.Indices = make([]uint32, 0, len(tris)*3)
	for _, tri := range tris {
		var idx [3]uint32
		for i, e := range tri {
			v, err := r.vertex(e, out)
			if err != nil {
				return nil, err
			}
			idx[i] = v
		}
		p0, p1, p2 := out.Positions[idx[0]], out.Positions[idx[1]], out.Positions[idx[2]]
		face := p1.Sub(p0).Cross(p2.Sub(p0))
		avg := out.Normals[idx[0]].Add(out.Normals[idx[1]]).Add(out.Normals[idx[2]])
		if face.Dot(avg) < 0 {
			idx[1], idx[2] = idx[2], idx[1]
		}
		out.Indices = append(out.Indices, idx[0], idx[1], idx[2])
	}
	return out, nil
}

type resolver struct {
	p        *Prepared
	iso      float64
	vertices map[Edge]uint32
}

func (r *resolver) coords(i uint32) [3]int {
	sx := uint32(r.p.res[0] + 1)
	sy := uint32(r.p.res[1] + 1)
	return [3]int{int(i % sx), int(i / sx % sy), int(i / (sx * sy))}
}

func (r *resolver) vertex(e Edge, out *ExtractOutput) (uint32, error) {
	if v, ok := r.vertices[e]; ok {
		return v, nil
	}
	n := len(out.Positions)
	if int(e.A) >= len(r.p.Samples) || int(e.B) >= len(r.p.Samples) {
		return 0, fmt.Errorf("%w: edge %v outside lattice", ErrInvalidInput, e)
	}

	a, b := r.coords(e.A), r.coords(e.B)
	va, vb := float64(r.p.Samples[e.A]), float64(r.p.Samples[e.B])
	t := 0.5
	if vb != va {
		t = (r.iso - va) / (vb - va)
	}

	pos, ok := r.stitchedPosition(a, b)
	if !ok {
		pa := LatticePosition(r.p.bounds, r.p.res, a[0], a[1], a[2])
		pb := LatticePosition(r.p.bounds, r.p.res, b[0], b[1], b[2])
		pos = crossing(pa, pb, va, vb, r.iso)
	}

	ga, gb := r.gradient(a), r.gradient(b)
	g := ga.Add(gb.Sub(ga).Mul(t))
	normal := mgl32.Vec3{0, 1, 0}
	if norm := g.Norm(); norm > 0 {
		g = g.Mul(-1 / norm)
		normal = mgl32.Vec3{float32(g.X), float32(g.Y), float32(g.Z)}
	}

	out.Positions = append(out.Positions, mgl32.Vec3{float32(pos.X), float32(pos.Y), float32(pos.Z)})
	out.Normals = append(out.Normals, normal)
	r.vertices[e] = uint32(n)
	return uint32(n), nil
}

// stitchedPosition places a vertex on a stitched face from the neighbor's
// own corners when the edge lies on a neighbor lattice edge.
func (r *resolver) stitchedPosition(a, b [3]int) (r3.Vector, bool) {
	for _, fs := range r.p.faces {
		if fs == nil || a[fs.axis] != fs.plane || b[fs.axis] != fs.plane {
			continue
		}
		c0, c1, ok := fs.coarseEdge(a, b, r.p.res)
		if !ok {
			return r3.Vector{}, false
		}
		p0, v0 := fs.neighborCorner(c0[0], c0[1])
		p1, v1 := fs.neighborCorner(c1[0], c1[1])
		if (v0 < r.iso) == (v1 < r.iso) {
			// Rounding put the crossing on the node side only.
			return r3.Vector{}, false
		}
		return crossing(p0, p1, v0, v1, r.iso), true
	}
	return r3.Vector{}, false
}

// crossing is the single formula used for every surface vertex, so equal
// inputs on both sides of a seam give equal positions.
func crossing(pa, pb r3.Vector, va, vb, iso float64) r3.Vector {
	t := (iso - va) / (vb - va)
	return pa.Add(pb.Sub(pa).Mul(t))
}

// gradient estimates the density gradient at a lattice corner with central
// differences, one-sided on the boundary.
func (r *resolver) gradient(c [3]int) r3.Vector {
	size := r.p.bounds.Size()
	step := [3]float64{
		size.X / float64(r.p.res[0]),
		size.Y / float64(r.p.res[1]),
		size.Z / float64(r.p.res[2]),
	}
	var g [3]float64
	for axis := range 3 {
		lo, hi := c, c
		if c[axis] > 0 {
			lo[axis]--
		}
		if c[axis] < r.p.res[axis] {
			hi[axis]++
		}
		span := float64(hi[axis]-lo[axis]) * step[axis]
		g[axis] = (float64(r.p.Samples[r.p.index(hi)]) - float64(r.p.Samples[r.p.index(lo)])) / span
	}
	return r3.Vector{X: g[0], Y: g[1], Z: g[2]}
}
