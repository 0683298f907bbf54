package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"

	"github.com/gogpu/terrain/octree"
)

// Kernel errors.
var (
	// ErrCapacityExceeded is returned when a kernel would produce more
	// output than its declared capacity. Output is never truncated.
	ErrCapacityExceeded = errors.New("kernel: output exceeds declared capacity")

	// ErrInvalidInput is returned for malformed buffer layouts.
	ErrInvalidInput = errors.New("kernel: invalid input")

	// ErrUnavailable is returned by backends that cannot run here.
	ErrUnavailable = errors.New("kernel: backend unavailable")
)

// Kernel runs the two compute stages of the pipeline. Implementations must
// be safe for concurrent use and must honor ctx cancellation between
// dispatches.
type Kernel interface {
	// Name identifies the backend, e.g. "cpu" or "vulkan".
	Name() string

	// GenerateDensity samples the density field over in.Bounds.
	GenerateDensity(ctx context.Context, in *DensityInput) (*DensityOutput, error)

	// ExtractSurface builds the isosurface of a density grid.
	ExtractSurface(ctx context.Context, in *ExtractInput) (*ExtractOutput, error)

	// Close releases backend resources.
	Close() error
}

// Noise shapes the procedural density field.
type Noise struct {
	Octaves     int     `mapstructure:"octaves" yaml:"octaves"`
	Frequency   float64 `mapstructure:"frequency" yaml:"frequency"`
	Amplitude   float64 `mapstructure:"amplitude" yaml:"amplitude"`
	Persistence float64 `mapstructure:"persistence" yaml:"persistence"`
	Lacunarity  float64 `mapstructure:"lacunarity" yaml:"lacunarity"`

	// PlanetRadius selects a sphere of this radius around the origin.
	// Zero selects a ground plane at y = 0.
	PlanetRadius float64 `mapstructure:"planet_radius" yaml:"planet_radius"`
}

// MaxOctaves bounds Noise.Octaves.
const MaxOctaves = 8

// DefaultNoise returns rolling hills on a ground plane.
func DefaultNoise() Noise {
	return Noise{
		Octaves:     5,
		Frequency:   0.02,
		Amplitude:   12,
		Persistence: 0.5,
		Lacunarity:  2,
	}
}

// Validate checks the noise parameters.
func (n Noise) Validate() error {
	if n.Octaves < 0 || n.Octaves > MaxOctaves {
		return fmt.Errorf("%w: octaves %d outside [0, %d]", ErrInvalidInput, n.Octaves, MaxOctaves)
	}
	if n.Frequency < 0 || n.PlanetRadius < 0 {
		return fmt.Errorf("%w: negative frequency or planet radius", ErrInvalidInput)
	}
	return nil
}

// Edit is a spherical deformation of the density field. Positive strength
// adds material, negative strength carves it away; the effect falls off
// linearly to zero at Radius.
type Edit struct {
	Center   r3.Vector
	Radius   float64
	Strength float64
}

// Affects reports whether the edit can change any sample inside b.
func (e Edit) Affects(b octree.Bounds) bool {
	return e.Radius > 0 && b.IntersectsSphere(e.Center, e.Radius)
}

// DensityInput is the input layout of the density kernel.
type DensityInput struct {
	Bounds octree.Bounds

	// Resolution is the number of cells per axis. Samples are taken on the
	// lattice corners, Resolution+1 per axis.
	Resolution [3]int

	Seed  int64
	Noise Noise
	Edits []Edit
}

// Validate checks the input layout.
func (in *DensityInput) Validate() error {
	if in.Bounds.Empty() {
		return fmt.Errorf("%w: empty bounds", ErrInvalidInput)
	}
	for _, r := range in.Resolution {
		if r < 1 {
			return fmt.Errorf("%w: resolution %v", ErrInvalidInput, in.Resolution)
		}
	}
	return in.Noise.Validate()
}

// SampleCount returns the number of lattice samples.
func (in *DensityInput) SampleCount() int {
	return SampleCount(in.Resolution)
}

// DensityOutput is the output layout of the density kernel: one value per
// lattice corner, x fastest, then y, then z.
type DensityOutput struct {
	Samples []float32
}

// NeighborSlice carries one face layer of a same-or-coarser neighbor into
// surface extraction.
type NeighborSlice struct {
	// Face is the face of the extracted node the neighbor lies across.
	Face octree.Face

	// Ratio is the neighbor's edge length over the node's edge length.
	Ratio int

	// OffsetU and OffsetV locate the node within the neighbor's face, in
	// units of the node's edge length, along the face plane axes.
	OffsetU, OffsetV int

	// Bounds and Resolution describe the neighbor's own lattice.
	Bounds     octree.Bounds
	Resolution [3]int

	// Samples is the neighbor's layer on the shared plane, indexed
	// [v*(Resolution[u]+1) + u] over the face plane axes.
	Samples []float32
}

// ExtractInput is the input layout of the surface kernel.
type ExtractInput struct {
	Bounds     octree.Bounds
	Resolution [3]int
	Samples    []float32
	IsoLevel   float64

	// MaxTriangles is the declared output capacity. Zero means unbounded.
	MaxTriangles int

	Slices []NeighborSlice
}

// Validate checks the input layout.
func (in *ExtractInput) Validate() error {
	if in.Bounds.Empty() {
		return fmt.Errorf("%w: empty bounds", ErrInvalidInput)
	}
	for _, r := range in.Resolution {
		if r < 1 {
			return fmt.Errorf("%w: resolution %v", ErrInvalidInput, in.Resolution)
		}
	}
	if want := SampleCount(in.Resolution); len(in.Samples) != want {
		return fmt.Errorf("%w: %d samples, want %d", ErrInvalidInput, len(in.Samples), want)
	}
	if in.MaxTriangles < 0 {
		return fmt.Errorf("%w: negative triangle capacity", ErrInvalidInput)
	}
	return nil
}

// ExtractOutput is the output layout of the surface kernel.
type ExtractOutput struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Indices   []uint32

	// Stitched lists the faces whose boundary was taken from a neighbor.
	Stitched octree.FaceSet
}

// Triangles returns the number of triangles.
func (o *ExtractOutput) Triangles() int {
	return len(o.Indices) / 3
}

// SampleCount returns the number of lattice corners for a resolution.
func SampleCount(res [3]int) int {
	return (res[0] + 1) * (res[1] + 1) * (res[2] + 1)
}

// LatticePosition maps lattice corner (i, j, k) of a grid into world space.
// Both sides of a seam evaluate shared corners through this function.
func LatticePosition(b octree.Bounds, res [3]int, i, j, k int) r3.Vector {
	return b.Lerp(
		float64(i)/float64(res[0]),
		float64(j)/float64(res[1]),
		float64(k)/float64(res[2]),
	)
}

// FaceLayer copies the lattice samples lying on face f of a grid, indexed
// [v*(res[u]+1) + u] over the face plane axes.
func FaceLayer(samples []float32, res [3]int, f octree.Face) []float32 {
	axis := f.Axis()
	u, v := f.PlaneAxes()
	var idx [3]int
	if f.Positive() {
		idx[axis] = res[axis]
	}
	out := make([]float32, 0, (res[u]+1)*(res[v]+1))
	for j := 0; j <= res[v]; j++ {
		for i := 0; i <= res[u]; i++ {
			idx[u], idx[v] = i, j
			out = append(out, samples[idx[0]+(res[0]+1)*(idx[1]+(res[1]+1)*idx[2])])
		}
	}
	return out
}
