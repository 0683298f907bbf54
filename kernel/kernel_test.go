package kernel

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/terrain/octree"
)

func box(minX, minY, minZ, maxX, maxY, maxZ float64) octree.Bounds {
	return octree.Bounds{
		Min: r3.Vector{X: minX, Y: minY, Z: minZ},
		Max: r3.Vector{X: maxX, Y: maxY, Z: maxZ},
	}
}

func hills() Noise {
	return Noise{Octaves: 3, Frequency: 0.1, Amplitude: 1, Persistence: 0.5, Lacunarity: 2}
}

func generate(t *testing.T, k Kernel, b octree.Bounds, res int, n Noise) []float32 {
	t.Helper()
	out, err := k.GenerateDensity(context.Background(), &DensityInput{
		Bounds:     b,
		Resolution: [3]int{res, res, res},
		Seed:       42,
		Noise:      n,
	})
	if err != nil {
		t.Fatalf("GenerateDensity() error = %v", err)
	}
	return out.Samples
}

// =============================================================================
// Density Tests
// =============================================================================

func TestGenerateDensity_Deterministic(t *testing.T) {
	k := NewCPU()
	b := box(-8, -8, -8, 8, 8, 8)
	a := generate(t, k, b, 8, DefaultNoise())
	c := generate(t, k, b, 8, DefaultNoise())
	if len(a) != 9*9*9 {
		t.Fatalf("len(Samples) = %d, want %d", len(a), 9*9*9)
	}
	if diff := cmp.Diff(a, c); diff != "" {
		t.Errorf("GenerateDensity() not deterministic (-first +second):\n%s", diff)
	}
}

func TestGenerateDensity_SharedCornersAgree(t *testing.T) {
	k := NewCPU()
	left := generate(t, k, box(-8, 0, 0, 0, 8, 8), 4, hills())
	right := generate(t, k, box(0, 0, 0, 8, 8, 8), 4, hills())
	res := [3]int{4, 4, 4}
	if diff := cmp.Diff(FaceLayer(left, res, octree.PosX), FaceLayer(right, res, octree.NegX)); diff != "" {
		t.Errorf("shared face samples differ (-left +right):\n%s", diff)
	}
}

func TestGenerateDensity_GroundPlane(t *testing.T) {
	samples := generate(t, NewCPU(), box(-4, -4, -4, 4, 4, 4), 4, Noise{})
	// Corner (0, 0, 0) sits at y = -4.
	if samples[0] != 4 {
		t.Errorf("density at y=-4 = %v, want 4", samples[0])
	}
	top := SampleCount([3]int{4, 4, 4}) - 1
	if samples[top] != -4 {
		t.Errorf("density at y=4 = %v, want -4", samples[top])
	}
}

func TestGenerateDensity_Planet(t *testing.T) {
	n := Noise{PlanetRadius: 10}
	if got := n.Density(r3.Vector{}, 0, nil); got != 10 {
		t.Errorf("Density(origin) = %v, want 10", got)
	}
	if got := n.Density(r3.Vector{X: 13}, 0, nil); got != -3 {
		t.Errorf("Density(13, 0, 0) = %v, want -3", got)
	}
}

func TestGenerateDensity_Edits(t *testing.T) {
	n := Noise{}
	e := Edit{Center: r3.Vector{Y: 5}, Radius: 2, Strength: 8}
	if got := n.Density(r3.Vector{Y: 5}, 0, []Edit{e}); got != 3 {
		t.Errorf("Density(edit center) = %v, want 3", got)
	}
	if got := n.Density(r3.Vector{Y: 5, X: 3}, 0, []Edit{e}); got != -5 {
		t.Errorf("Density(outside edit) = %v, want -5", got)
	}
	if !e.Affects(box(0, 0, 0, 4, 4, 4)) {
		t.Error("Affects() = false for touching bounds")
	}
	if e.Affects(box(10, 10, 10, 12, 12, 12)) {
		t.Error("Affects() = true for distant bounds")
	}
}

func TestGenerateDensity_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   DensityInput
	}{
		{"empty bounds", DensityInput{Resolution: [3]int{4, 4, 4}}},
		{"zero resolution", DensityInput{Bounds: box(0, 0, 0, 1, 1, 1), Resolution: [3]int{4, 0, 4}}},
		{"too many octaves", DensityInput{Bounds: box(0, 0, 0, 1, 1, 1), Resolution: [3]int{4, 4, 4}, Noise: Noise{Octaves: MaxOctaves + 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCPU().GenerateDensity(context.Background(), &tt.in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("GenerateDensity() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestGenerateDensity_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCPU().GenerateDensity(ctx, &DensityInput{
		Bounds:     box(0, 0, 0, 1, 1, 1),
		Resolution: [3]int{4, 4, 4},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("GenerateDensity() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Surface Tests
// =============================================================================

func extract(t *testing.T, in *ExtractInput) *ExtractOutput {
	t.Helper()
	out, err := NewCPU().ExtractSurface(context.Background(), in)
	if err != nil {
		t.Fatalf("ExtractSurface() error = %v", err)
	}
	return out
}

func TestExtractSurface_Empty(t *testing.T) {
	res := [3]int{4, 4, 4}
	samples := make([]float32, SampleCount(res))
	for i := range samples {
		samples[i] = 1
	}
	out := extract(t, &ExtractInput{Bounds: box(0, 0, 0, 4, 4, 4), Resolution: res, Samples: samples})
	if out.Triangles() != 0 || len(out.Positions) != 0 {
		t.Errorf("solid grid gave %d triangles, %d vertices", out.Triangles(), len(out.Positions))
	}
}

func TestExtractSurface_Plane(t *testing.T) {
	b := box(-4, -4, -4, 4, 4, 4)
	samples := generate(t, NewCPU(), b, 4, Noise{})
	out := extract(t, &ExtractInput{Bounds: b, Resolution: [3]int{4, 4, 4}, Samples: samples, IsoLevel: 0.5})

	if out.Triangles() == 0 {
		t.Fatal("ExtractSurface() gave no triangles")
	}
	up := mgl32.Vec3{0, 1, 0}
	for i, p := range out.Positions {
		if math.Abs(float64(p.Y())+0.5) > 1e-6 {
			t.Fatalf("vertex %d at y = %v, want -0.5", i, p.Y())
		}
		if out.Normals[i].Sub(up).Len() > 1e-6 {
			t.Fatalf("normal %d = %v, want %v", i, out.Normals[i], up)
		}
	}
	for i := 0; i < len(out.Indices); i += 3 {
		p0 := out.Positions[out.Indices[i]]
		p1 := out.Positions[out.Indices[i+1]]
		p2 := out.Positions[out.Indices[i+2]]
		if n := p1.Sub(p0).Cross(p2.Sub(p0)); n.Y() <= 0 {
			t.Fatalf("triangle %d faces %v, want up", i/3, n)
		}
	}
}

func TestExtractSurface_Deterministic(t *testing.T) {
	b := box(-8, -8, -8, 8, 8, 8)
	samples := generate(t, NewCPU(), b, 8, DefaultNoise())
	in := &ExtractInput{Bounds: b, Resolution: [3]int{8, 8, 8}, Samples: samples}
	first := extract(t, in)
	for range 3 {
		if diff := cmp.Diff(first, extract(t, in)); diff != "" {
			t.Fatalf("ExtractSurface() not deterministic (-first +again):\n%s", diff)
		}
	}
}

func TestExtractSurface_CapacityExceeded(t *testing.T) {
	b := box(-4, -4, -4, 4, 4, 4)
	samples := generate(t, NewCPU(), b, 4, Noise{})
	_, err := NewCPU().ExtractSurface(context.Background(), &ExtractInput{
		Bounds:       b,
		Resolution:   [3]int{4, 4, 4},
		Samples:      samples,
		IsoLevel:     0.5,
		MaxTriangles: 1,
	})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("ExtractSurface() error = %v, want ErrCapacityExceeded", err)
	}
}

func TestExtractSurface_InvalidInput(t *testing.T) {
	res := [3]int{2, 2, 2}
	good := func() *ExtractInput {
		return &ExtractInput{
			Bounds:     box(0, 0, 0, 2, 2, 2),
			Resolution: res,
			Samples:    make([]float32, SampleCount(res)),
		}
	}
	slice := func(ratio, offU int) NeighborSlice {
		return NeighborSlice{
			Face:       octree.NegX,
			Ratio:      ratio,
			OffsetU:    offU,
			Bounds:     box(-4, 0, 0, 0, 4, 4),
			Resolution: res,
			Samples:    make([]float32, 9),
		}
	}

	tests := []struct {
		name   string
		modify func(in *ExtractInput)
	}{
		{"short samples", func(in *ExtractInput) { in.Samples = in.Samples[1:] }},
		{"negative capacity", func(in *ExtractInput) { in.MaxTriangles = -1 }},
		{"ratio not power of two", func(in *ExtractInput) { in.Slices = []NeighborSlice{slice(3, 0)} }},
		{"offset outside ratio", func(in *ExtractInput) { in.Slices = []NeighborSlice{slice(2, 2)} }},
		{"duplicate face", func(in *ExtractInput) { in.Slices = []NeighborSlice{slice(2, 0), slice(2, 1)} }},
		{"slice length", func(in *ExtractInput) {
			s := slice(2, 0)
			s.Samples = s.Samples[:4]
			in.Slices = []NeighborSlice{s}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := good()
			tt.modify(in)
			_, err := NewCPU().ExtractSurface(context.Background(), in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ExtractSurface() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

// =============================================================================
// Stitching Tests
// =============================================================================

func TestPrepare_InterpolatesNeighborFace(t *testing.T) {
	res := [3]int{4, 4, 4}
	coarse := NeighborSlice{
		Face:       octree.NegX,
		Ratio:      2,
		OffsetU:    1,
		OffsetV:    0,
		Bounds:     box(-8, 0, 0, 0, 8, 8),
		Resolution: res,
	}
	// Linear in the coarse face coordinates, so interpolation is exact.
	for cv := 0; cv <= 4; cv++ {
		for cu := 0; cu <= 4; cu++ {
			coarse.Samples = append(coarse.Samples, float32(2*cu+4*cv))
		}
	}
	in := &ExtractInput{
		Bounds:     box(0, 4, 0, 4, 8, 4),
		Resolution: res,
		Samples:    make([]float32, SampleCount(res)),
		Slices:     []NeighborSlice{coarse},
	}
	p, err := Prepare(in)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !p.Stitched.Has(octree.NegX) || p.Stitched.Has(octree.PosX) {
		t.Errorf("Stitched = %b, want only -X", p.Stitched)
	}
	for k := 0; k <= 4; k++ {
		for j := 0; j <= 4; j++ {
			// Fine step (j, k) is coarse coordinate ((4+j)/2, k/2).
			want := float32((4 + j) + 2*k)
			if got := p.Samples[p.index([3]int{0, j, k})]; got != want {
				t.Errorf("sample (0, %d, %d) = %v, want %v", j, k, got, want)
			}
			if got := p.Samples[p.index([3]int{1, j, k})]; got != 0 {
				t.Errorf("interior sample (1, %d, %d) = %v, want untouched", j, k, got)
			}
		}
	}
	if in.Samples[0] != 0 {
		t.Error("Prepare() modified the input samples")
	}
}

// TestExtractSurface_SeamVertices checks that every vertex the coarse node
// places on the shared face is reproduced bit-for-bit by the finer node.
func TestExtractSurface_SeamVertices(t *testing.T) {
	const iso = 2
	k := NewCPU()
	res := [3]int{4, 4, 4}
	coarseBounds := box(-16, -12, 0, 0, 4, 16)
	coarseSamples := generate(t, k, coarseBounds, 4, hills())
	coarse := extract(t, &ExtractInput{Bounds: coarseBounds, Resolution: res, Samples: coarseSamples, IsoLevel: iso})

	tests := []struct {
		name       string
		fine       octree.Bounds
		ratio      int
		offU, offV int
	}{
		{"ratio 2", box(0, -4, 0, 8, 4, 8), 2, 1, 0},
		{"ratio 4", box(0, -4, 4, 4, 0, 8), 4, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fine := extract(t, &ExtractInput{
				Bounds:     tt.fine,
				Resolution: res,
				Samples:    generate(t, k, tt.fine, 4, hills()),
				IsoLevel:   iso,
				Slices: []NeighborSlice{{
					Face:       octree.NegX,
					Ratio:      tt.ratio,
					OffsetU:    tt.offU,
					OffsetV:    tt.offV,
					Bounds:     coarseBounds,
					Resolution: res,
					Samples:    FaceLayer(coarseSamples, res, octree.PosX),
				}},
			})

			have := make(map[mgl32.Vec3]bool, len(fine.Positions))
			for _, p := range fine.Positions {
				have[p] = true
			}
			shared := 0
			for _, p := range coarse.Positions {
				if p.X() != 0 ||
					float64(p.Y()) < tt.fine.Min.Y || float64(p.Y()) > tt.fine.Max.Y ||
					float64(p.Z()) < tt.fine.Min.Z || float64(p.Z()) > tt.fine.Max.Z {
					continue
				}
				shared++
				if !have[p] {
					t.Errorf("coarse seam vertex %v missing from fine mesh", p)
				}
			}
			if shared == 0 {
				t.Fatal("no seam vertices in the shared face region")
			}
		})
	}
}
