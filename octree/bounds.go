package octree

import (
	"math"

	"github.com/golang/geo/r3"
)

// Bounds is an axis-aligned box.
type Bounds struct {
	Min r3.Vector
	Max r3.Vector
}

// Cube returns the cube centered on c with the given half extent.
func Cube(c r3.Vector, half float64) Bounds {
	h := r3.Vector{X: half, Y: half, Z: half}
	return Bounds{Min: c.Sub(h), Max: c.Add(h)}
}

// Size returns the extent along each axis.
func (b Bounds) Size() r3.Vector {
	return b.Max.Sub(b.Min)
}

// Center returns the midpoint of the box.
func (b Bounds) Center() r3.Vector {
	return r3.Vector{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Volume returns the volume of the box.
func (b Bounds) Volume() float64 {
	s := b.Size()
	return s.X * s.Y * s.Z
}

// Empty reports whether the box has no volume.
func (b Bounds) Empty() bool {
	return !(b.Min.X < b.Max.X && b.Min.Y < b.Max.Y && b.Min.Z < b.Max.Z)
}

// Octant returns the child box i. Bit 0 selects the upper X half, bit 1
// the upper Y half and bit 2 the upper Z half. The split is at the exact
// midpoint so siblings share their boundary coordinates bit for bit.
func (b Bounds) Octant(i int) Bounds {
	c := b.Center()
	o := Bounds{Min: b.Min, Max: c}
	if i&1 != 0 {
		o.Min.X, o.Max.X = c.X, b.Max.X
	}
	if i&2 != 0 {
		o.Min.Y, o.Max.Y = c.Y, b.Max.Y
	}
	if i&4 != 0 {
		o.Min.Z, o.Max.Z = c.Z, b.Max.Z
	}
	return o
}

// Contains reports whether p lies in the closed box.
func (b Bounds) Contains(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// ContainsBounds reports whether o lies entirely inside b.
func (b Bounds) ContainsBounds(o Bounds) bool {
	return b.Contains(o.Min) && b.Contains(o.Max)
}

// Closest returns the point of the box nearest to p.
func (b Bounds) Closest(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: clamp(p.X, b.Min.X, b.Max.X),
		Y: clamp(p.Y, b.Min.Y, b.Max.Y),
		Z: clamp(p.Z, b.Min.Z, b.Max.Z),
	}
}

// Distance returns the Euclidean distance from p to the box, zero inside.
func (b Bounds) Distance(p r3.Vector) float64 {
	return b.Closest(p).Sub(p).Norm()
}

// IntersectsSphere reports whether the sphere touches the box.
func (b Bounds) IntersectsSphere(c r3.Vector, radius float64) bool {
	return b.Distance(c) <= radius
}

// Lerp maps normalized coordinates in [0,1]^3 into the box.
func (b Bounds) Lerp(tx, ty, tz float64) r3.Vector {
	return r3.Vector{
		X: b.Min.X + (b.Max.X-b.Min.X)*tx,
		Y: b.Min.Y + (b.Max.Y-b.Min.Y)*ty,
		Z: b.Min.Z + (b.Max.Z-b.Min.Z)*tz,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
