// Command terraindemo flies a viewer over a procedural world and reports
// what the terrain engine did.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/gogpu/terrain"
	_ "github.com/gogpu/terrain/gpu" // enable GPU kernels
)

const (
	flagConfig      = "config"
	flagDebug       = "debug"
	flagBackend     = "backend"
	flagTicks       = "ticks"
	flagSpeed       = "speed"
	flagAltitude    = "altitude"
	flagFrame       = "frame"
	flagMetricsAddr = "metrics-addr"
	flagOutput      = "output"
	flagSize        = "size"
	flagResolution  = "resolution"
	flagExtent      = "extent"
)

func main() {
	app := &cli.App{
		Name:  "terraindemo",
		Usage: "procedural terrain engine demo",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			level := slog.LevelInfo
			if c.Bool(flagDebug) {
				level = slog.LevelDebug
			}
			terrain.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "fly",
				Usage: "fly the viewer along +X and print engine statistics",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagBackend, Usage: "override the kernel backend: auto, gpu or cpu"},
					&cli.IntFlag{Name: flagTicks, Value: 600, Usage: "number of ticks to run"},
					&cli.Float64Flag{Name: flagSpeed, Value: 2, Usage: "viewer speed in world units per tick"},
					&cli.Float64Flag{Name: flagAltitude, Value: 20, Usage: "viewer height above the ground plane"},
					&cli.DurationFlag{Name: flagFrame, Value: 16 * time.Millisecond, Usage: "wall time per tick"},
					&cli.StringFlag{Name: flagMetricsAddr, Usage: "serve Prometheus metrics on `ADDR`"},
				},
				Action: flyAction,
			},
			{
				Name:  "slice",
				Usage: "render a vertical slice of the density field to a PNG",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagOutput, Value: "slice.png", Usage: "output `FILE`"},
					&cli.IntFlag{Name: flagSize, Value: 512, Usage: "image width and height"},
					&cli.IntFlag{Name: flagResolution, Value: 128, Usage: "density samples per axis"},
					&cli.Float64Flag{Name: flagExtent, Value: 128, Usage: "half width of the slice in world units"},
				},
				Action: sliceAction,
			},
			{
				Name:   "config",
				Usage:  "print the effective configuration as YAML",
				Action: configAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (terrain.Config, error) {
	path := c.String(flagConfig)
	if path == "" {
		return terrain.DefaultConfig(), nil
	}
	return terrain.LoadConfig(path)
}

func configAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(out)
	return err
}

func flyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if b := c.String(flagBackend); b != "" {
		cfg.Backend = terrain.Backend(b)
	}
	if addr := c.String(flagMetricsAddr); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				terrain.Logger().Error("metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	frames := 0
	e, err := terrain.New(cfg, terrain.WithRenderer(terrain.RendererFunc(func([]terrain.FrontierEntry) error {
		frames++
		return nil
	})))
	if err != nil {
		return err
	}
	defer e.Close()

	bounds := cfg.WorldBounds.Bounds()
	viewer := r3.Vector{X: bounds.Min.X, Y: c.Float64(flagAltitude)}
	ticks := c.Int(flagTicks)
	speed := c.Float64(flagSpeed)
	frame := c.Duration(flagFrame)
	start := time.Now()
	for i := range ticks {
		if err := e.Tick(viewer); err != nil {
			return fmt.Errorf("tick %d: %w", i, err)
		}
		viewer.X += speed
		if viewer.X > bounds.Max.X {
			viewer.X = bounds.Min.X
		}
		time.Sleep(frame)
	}
	printStats(c, e, frames, time.Since(start))
	return nil
}

func printStats(c *cli.Context, e *terrain.Engine, frames int, elapsed time.Duration) {
	s := e.Stats()
	w := c.App.Writer
	triangles := 0
	for _, f := range e.Frontier() {
		triangles += f.Mesh.Triangles()
	}
	fmt.Fprintf(w, "backend:           %s\n", s.Backend)
	fmt.Fprintf(w, "ticks:             %d (%d frames in %v)\n", s.LOD.Ticks, frames, elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "frontier:          %d nodes, %d triangles\n", len(e.Frontier()), triangles)
	fmt.Fprintf(w, "subdivisions:      %d\n", s.LOD.Subdivisions)
	fmt.Fprintf(w, "merges:            %d\n", s.LOD.Merges)
	fmt.Fprintf(w, "density requests:  %d\n", s.LOD.DensityRequests)
	fmt.Fprintf(w, "surface requests:  %d\n", s.LOD.SurfaceRequests)
	fmt.Fprintf(w, "stale discarded:   %d\n", s.LOD.StaleDiscarded)
	fmt.Fprintf(w, "failures:          %d (%d nodes failed)\n", s.LOD.Failures, s.LOD.Failed)
	fmt.Fprintf(w, "in flight:         %d\n", s.LOD.InFlight)
	fmt.Fprintf(w, "queue:             %+v\n", s.Queue)
	fmt.Fprintf(w, "grid cache:        %+v\n", s.Cache)
	fmt.Fprintf(w, "store:             %d nodes, %d bytes\n", s.StoreNodes, s.StoreBytes)
}
