package kernel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// CPU is the reference kernel. It evaluates the same field and contouring
// rules as the GPU kernels and serves as their fallback.
type CPU struct {
	workers int
}

// NewCPU returns a CPU kernel using up to GOMAXPROCS goroutines per
// dispatch.
func NewCPU() *CPU {
	return &CPU{workers: runtime.GOMAXPROCS(0)}
}

// Name implements Kernel.
func (k *CPU) Name() string { return "cpu" }

// GenerateDensity implements Kernel.
func (k *CPU) GenerateDensity(ctx context.Context, in *DensityInput) (*DensityOutput, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	res := in.Resolution
	samples := make([]float32, in.SampleCount())
	seed := FoldSeed(in.Seed)
	stride := (res[0] + 1) * (res[1] + 1)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(k.workers)
	for z := 0; z <= res[2]; z++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			row := samples[z*stride : (z+1)*stride]
			for y := 0; y <= res[1]; y++ {
				for x := 0; x <= res[0]; x++ {
					p := LatticePosition(in.Bounds, res, x, y, z)
					row[y*(res[0]+1)+x] = float32(in.Noise.Density(p, seed, in.Edits))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &DensityOutput{Samples: samples}, nil
}

// ExtractSurface implements Kernel.
func (k *CPU) ExtractSurface(ctx context.Context, in *ExtractInput) (*ExtractOutput, error) {
	p, err := Prepare(in)
	if err != nil {
		return nil, err
	}
	tris, err := Triangulate(ctx, p.Samples, in.Resolution, float32(in.IsoLevel), in.MaxTriangles)
	if err != nil {
		return nil, err
	}
	return Resolve(in, p, tris)
}

// Close implements Kernel.
func (k *CPU) Close() error { return nil }

var _ Kernel = (*CPU)(nil)
