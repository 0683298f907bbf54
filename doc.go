// Package terrain is the core of a real-time procedural terrain engine.
//
// # Overview
//
// The world is a sparse octree. Every node near the surface owns a density
// grid sampled from a procedural field and a triangle mesh contoured from
// it. Both are produced asynchronously by compute kernels, on the GPU when
// one is available. A level of detail controller subdivides nodes as the
// viewer approaches and merges them as it leaves, always keeping a crack
// free set of meshes ready to draw.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/terrain"
//	    _ "github.com/gogpu/terrain/gpu" // optional: GPU kernels
//	)
//
//	e, err := terrain.New(terrain.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer e.Close()
//
//	for frame := range frames {
//	    if err := e.Tick(frame.Camera); err != nil {
//	        return err
//	    }
//	    draw(e.Frontier())
//	}
//
// # Pipeline
//
// Each Tick drains completed kernel work, applies it, then walks the tree:
//
//	Empty -> Generating -> DensityReady -> Extracting -> Ready
//
// Density and surface work is dispatched through a bounded priority queue;
// nodes closer to the viewer go first. Work is tagged with the node's
// epoch, so results for nodes that were merged, deformed or recreated in
// the meantime are discarded instead of applied.
//
// # Backends
//
// Config.Backend selects the kernels. "cpu" always uses the reference CPU
// kernel. "gpu" requires a kernel registered with RegisterKernel, which
// importing the gpu package does. "auto" prefers the GPU and falls back to
// the CPU per dispatch when the GPU declines.
//
// # Logging
//
// terrain is silent by default. SetLogger enables structured logging
// through log/slog for the engine and the GPU kernel.
//
// # Metrics
//
// Sub-packages register Prometheus collectors under the terrain_ prefix
// with the default registerer.
package terrain
