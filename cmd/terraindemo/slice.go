package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/urfave/cli/v2"
	"golang.org/x/image/draw"

	"github.com/gogpu/terrain/kernel"
	"github.com/gogpu/terrain/octree"
)

var (
	airColor   = color.NRGBA{R: 110, G: 160, B: 220, A: 255}
	solidColor = color.NRGBA{R: 120, G: 95, B: 60, A: 255}
)

func sliceAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	n := c.Int(flagResolution)
	size := c.Int(flagSize)
	extent := c.Float64(flagExtent)
	if n < 1 || size < 1 || !(extent > 0) {
		return fmt.Errorf("resolution, size and extent must be positive")
	}

	// One cell thick in Z, centered on z = 0.
	cell := 2 * extent / float64(n)
	in := &kernel.DensityInput{
		Bounds: octree.Bounds{
			Min: r3.Vector{X: -extent, Y: -extent, Z: -cell / 2},
			Max: r3.Vector{X: extent, Y: extent, Z: cell / 2},
		},
		Resolution: [3]int{n, n, 1},
		Seed:       cfg.WorldSeed,
		Noise:      cfg.Noise,
	}
	cpu := kernel.NewCPU()
	defer cpu.Close()
	out, err := cpu.GenerateDensity(c.Context, in)
	if err != nil {
		return err
	}

	src := densityImage(out.Samples, n, float32(cfg.IsoLevel), cfg.Noise.Amplitude)
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	f, err := os.Create(c.String(flagOutput))
	if err != nil {
		return err
	}
	if err := png.Encode(f, dst); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "slice saved to %s (%dx%d)\n", c.String(flagOutput), size, size)
	return nil
}

// densityImage shades the z = 0 layer of a lattice: solid below the
// surface, air above, darker further from the iso level. Row 0 is the top.
func densityImage(samples []float32, n int, iso float32, amplitude float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, n+1, n+1))
	scale := math.Max(amplitude, 1) * 2
	for y := 0; y <= n; y++ {
		for x := 0; x <= n; x++ {
			v := samples[x+(n+1)*y]
			base := airColor
			if v >= iso {
				base = solidColor
			}
			t := 1 - 0.6*math.Min(math.Abs(float64(v-iso))/scale, 1)
			img.SetNRGBA(x, n-y, color.NRGBA{
				R: uint8(float64(base.R) * t),
				G: uint8(float64(base.G) * t),
				B: uint8(float64(base.B) * t),
				A: 255,
			})
		}
	}
	return img
}
