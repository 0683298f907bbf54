package kernel

import (
	"math"

	"github.com/golang/geo/r3"
)

// The noise works on 32-bit integers so the WGSL kernel can evaluate the
// same lattice values.

func hash3(x, y, z int32, seed uint32) uint32 {
	h := seed ^ uint32(x)*0x8da6b343 ^ uint32(y)*0xd8163841 ^ uint32(z)*0xcb1ab31f
	h = (h ^ h>>16) * 0x7feb352d
	h = (h ^ h>>15) * 0x846ca68b
	return h ^ h>>16
}

// FoldSeed reduces a 64-bit world seed to the 32-bit kernel seed.
func FoldSeed(seed int64) uint32 {
	return uint32(seed) ^ uint32(uint64(seed)>>32)
}

// OctaveSeed returns the lattice seed of octave i.
func OctaveSeed(seed uint32, i int) uint32 {
	return seed + uint32(i)*0x9e3779b9
}

func latticeValue(x, y, z int32, seed uint32) float64 {
	return float64(hash3(x, y, z, seed)) / float64(math.MaxUint32)
}

func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// valueNoise3D returns smoothed lattice noise in [0, 1].
func valueNoise3D(x, y, z float64, seed uint32) float64 {
	fx, fy, fz := math.Floor(x), math.Floor(y), math.Floor(z)
	x0, y0, z0 := int32(fx), int32(fy), int32(fz)
	tx, ty, tz := fade(x-fx), fade(y-fy), fade(z-fz)

	c000 := latticeValue(x0, y0, z0, seed)
	c100 := latticeValue(x0+1, y0, z0, seed)
	c010 := latticeValue(x0, y0+1, z0, seed)
	c110 := latticeValue(x0+1, y0+1, z0, seed)
	c001 := latticeValue(x0, y0, z0+1, seed)
	c101 := latticeValue(x0+1, y0, z0+1, seed)
	c011 := latticeValue(x0, y0+1, z0+1, seed)
	c111 := latticeValue(x0+1, y0+1, z0+1, seed)

	x00 := lerp(c000, c100, tx)
	x10 := lerp(c010, c110, tx)
	x01 := lerp(c001, c101, tx)
	x11 := lerp(c011, c111, tx)
	return lerp(lerp(x00, x10, ty), lerp(x01, x11, ty), tz)
}

// fbm sums octaves of value noise, normalized to [0, 1].
func (n Noise) fbm(p r3.Vector, seed uint32) float64 {
	amp, freq := 1.0, n.Frequency
	var sum, norm float64
	for i := range n.Octaves {
		sum += amp * valueNoise3D(p.X*freq, p.Y*freq, p.Z*freq, OctaveSeed(seed, i))
		norm += amp
		amp *= n.Persistence
		freq *= n.Lacunarity
	}
	if norm == 0 {
		return 0.5
	}
	return sum / norm
}

// Density evaluates the field at p. Values above the iso level are solid.
func (n Noise) Density(p r3.Vector, seed uint32, edits []Edit) float64 {
	var d float64
	if n.PlanetRadius > 0 {
		d = n.PlanetRadius - p.Norm()
	} else {
		d = -p.Y
	}
	if n.Octaves > 0 && n.Amplitude != 0 {
		d += n.Amplitude * (2*n.fbm(p, seed) - 1)
	}
	for _, e := range edits {
		d += e.contribution(p)
	}
	return d
}

func (e Edit) contribution(p r3.Vector) float64 {
	if e.Radius <= 0 {
		return 0
	}
	falloff := 1 - p.Sub(e.Center).Norm()/e.Radius
	if falloff <= 0 {
		return 0
	}
	return e.Strength * falloff
}
