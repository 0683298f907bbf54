//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/gogpu/terrain/kernel"
)

// Pass modes of the density shader.
const (
	densityModeField uint32 = 0
	densityModeEdit  uint32 = 1
)

// DensityParams mirrors the DensityParams uniform in density.wgsl.
// Size: 96 bytes, 16-byte aligned.
type DensityParams struct {
	Origin      [4]float32 // xyz = bounds min
	Extent      [4]float32 // xyz = bounds size
	Res         [4]uint32  // xyz = cells per axis
	Seed        uint32
	Octaves     uint32
	Planet      uint32
	EditIndex   uint32
	Frequency   float32
	Amplitude   float32
	Persistence float32
	Lacunarity  float32
	Radius      float32
	Mode        uint32
	_           [2]uint32
}

// GPUEdit mirrors the Edit struct in density.wgsl.
// Size: 32 bytes.
type GPUEdit struct {
	CenterRadius [4]float32 // xyz = center, w = radius
	Strength     [4]float32 // x = strength
}

// ExtractParams mirrors the ExtractParams uniform in classify.wgsl.
// Size: 32 bytes.
type ExtractParams struct {
	Res [4]uint32 // xyz = cells per axis
	Iso float32
	_   [3]float32
}

// newDensityParams builds the uniform for one density pass.
func newDensityParams(in *kernel.DensityInput, mode, editIndex uint32) DensityParams {
	size := in.Bounds.Size()
	p := DensityParams{
		Origin:      [4]float32{float32(in.Bounds.Min.X), float32(in.Bounds.Min.Y), float32(in.Bounds.Min.Z), 0},
		Extent:      [4]float32{float32(size.X), float32(size.Y), float32(size.Z), 0},
		Res:         [4]uint32{uint32(in.Resolution[0]), uint32(in.Resolution[1]), uint32(in.Resolution[2]), 0}, //nolint:gosec // validated positive
		Seed:        kernel.FoldSeed(in.Seed),
		Octaves:     uint32(in.Noise.Octaves), //nolint:gosec // validated against MaxOctaves
		EditIndex:   editIndex,
		Frequency:   float32(in.Noise.Frequency),
		Amplitude:   float32(in.Noise.Amplitude),
		Persistence: float32(in.Noise.Persistence),
		Lacunarity:  float32(in.Noise.Lacunarity),
		Radius:      float32(in.Noise.PlanetRadius),
		Mode:        mode,
	}
	if in.Noise.PlanetRadius > 0 {
		p.Planet = 1
	}
	return p
}

// packEdits serializes edits for the storage buffer. An empty edit list
// still yields one zero edit, since bindings cannot be empty.
func packEdits(edits []kernel.Edit) []byte {
	n := max(len(edits), 1)
	size := int(unsafe.Sizeof(GPUEdit{}))
	out := make([]byte, n*size)
	for i, e := range edits {
		g := GPUEdit{
			CenterRadius: [4]float32{float32(e.Center.X), float32(e.Center.Y), float32(e.Center.Z), float32(e.Radius)},
			Strength:     [4]float32{float32(e.Strength), 0, 0, 0},
		}
		copy(out[i*size:], structToBytes(unsafe.Pointer(&g), unsafe.Sizeof(g))) //nolint:gosec // safe struct access
	}
	return out
}

func structToBytes(ptr unsafe.Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(ptr), size) //nolint:gosec // safe struct serialization
}

func float32sToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func bytesToFloat32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func bytesToMasks(b []byte) []uint8 {
	out := make([]uint8, len(b)/4)
	for i := range out {
		out[i] = uint8(binary.LittleEndian.Uint32(b[i*4:])) //nolint:gosec // masks fit 8 bits
	}
	return out
}
