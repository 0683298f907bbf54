package kernel

import (
	"context"
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Edge is a lattice edge between two corner indices with A < B. Along
// every edge of the tetrahedral split the lower index is also the
// componentwise lower corner.
type Edge struct {
	A, B uint32
}

func makeEdge(a, b uint32) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

// Triangle is a surface triangle given by the three lattice edges its
// vertices lie on. Positions are resolved on the host.
type Triangle [3]Edge

func compareTriangles(a, b Triangle) int {
	for i := range 3 {
		if a[i].A != b[i].A {
			return cmpUint32(a[i].A, b[i].A)
		}
		if a[i].B != b[i].B {
			return cmpUint32(a[i].B, b[i].B)
		}
	}
	return 0
}

func cmpUint32(a, b uint32) int {
	if a < b {
		return -1
	}
	return 1
}

// tetrahedra splits a cube into six tetrahedra sharing the 0-7 diagonal.
// Corner c sits at offset (c&1, c>>1&1, c>>2&1). Restricted to any cube face
// the split is the triangulation along the face's min-to-max diagonal, so
// neighboring cells, and nodes whose lattices nest, agree on shared faces.
var tetrahedra = [6][4]int{
	{0, 1, 3, 7},
	{0, 1, 5, 7},
	{0, 2, 3, 7},
	{0, 2, 6, 7},
	{0, 4, 5, 7},
	{0, 4, 6, 7},
}

// Triangulate runs marching tetrahedra over the lattice and returns the
// triangles in a canonical order. A corner is below the surface when its
// value is less than iso. maxTriangles of zero means unbounded.
func Triangulate(ctx context.Context, samples []float32, res [3]int, iso float32, maxTriangles int) ([]Triangle, error) {
	if len(samples) != SampleCount(res) {
		return nil, fmt.Errorf("%w: %d samples for resolution %v", ErrInvalidInput, len(samples), res)
	}

	slabs := make([][]Triangle, res[2])
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for z := range res[2] {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			slabs[z] = triangulateSlab(samples, res, iso, z)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, s := range slabs {
		total += len(s)
	}
	if maxTriangles > 0 && total > maxTriangles {
		return nil, fmt.Errorf("%w: %d triangles, capacity %d", ErrCapacityExceeded, total, maxTriangles)
	}
	out := make([]Triangle, 0, total)
	for _, s := range slabs {
		out = append(out, s...)
	}
	SortTriangles(out)
	return out, nil
}

// SortTriangles puts triangles in canonical order so output does not
// depend on dispatch scheduling.
func SortTriangles(tris []Triangle) {
	slices.SortFunc(tris, compareTriangles)
}

func triangulateSlab(samples []float32, res [3]int, iso float32, z int) []Triangle {
	sx := res[0] + 1
	sxy := sx * (res[1] + 1)
	var out []Triangle
	for y := range res[1] {
		for x := range res[0] {
			base := x + y*sx + z*sxy
			var mask uint8
			for c := range 8 {
				if samples[base+(c&1)+(c>>1&1)*sx+(c>>2&1)*sxy] < iso {
					mask |= 1 << c
				}
			}
			out = AppendCell(out, res, x, y, z, mask)
		}
	}
	return out
}

// AppendCell appends the triangles of lattice cell (x, y, z) given its
// corner mask, where bit c is set when corner c is below the iso level.
// Kernels that classify cells elsewhere finish triangulation with it.
func AppendCell(out []Triangle, res [3]int, x, y, z int, mask uint8) []Triangle {
	if mask == 0 || mask == 0xff {
		return out
	}
	sx := uint32(res[0] + 1)
	sxy := sx * uint32(res[1]+1)
	base := uint32(x) + uint32(y)*sx + uint32(z)*sxy

	var corner [8]uint32
	var below [8]bool
	for c := range 8 {
		corner[c] = base + uint32(c&1) + uint32(c>>1&1)*sx + uint32(c>>2&1)*sxy
		below[c] = mask>>c&1 != 0
	}
	for _, tet := range tetrahedra {
		out = appendTetrahedron(out, tet, &corner, &below)
	}
	return out
}

func appendTetrahedron(out []Triangle, tet [4]int, corner *[8]uint32, below *[8]bool) []Triangle {
	var in, ex [4]uint32
	ni, ne := 0, 0
	for _, c := range tet {
		if below[c] {
			in[ni] = corner[c]
			ni++
		} else {
			ex[ne] = corner[c]
			ne++
		}
	}

	switch ni {
	case 1:
		s := in[0]
		return append(out, Triangle{makeEdge(s, ex[0]), makeEdge(s, ex[1]), makeEdge(s, ex[2])})
	case 3:
		s := ex[0]
		return append(out, Triangle{makeEdge(s, in[0]), makeEdge(s, in[1]), makeEdge(s, in[2])})
	case 2:
		a, b, c, d := in[0], in[1], ex[0], ex[1]
		ac, ad, bd, bc := makeEdge(a, c), makeEdge(a, d), makeEdge(b, d), makeEdge(b, c)
		return append(out, Triangle{ac, ad, bd}, Triangle{ac, bd, bc})
	default:
		return out
	}
}
