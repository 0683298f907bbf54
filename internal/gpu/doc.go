//go:build !nogpu

// Package gpu implements the terrain compute kernels on the GPU.
//
// Kernels run as WGSL compute shaders on a wgpu/hal device (Vulkan). The
// WGSL sources are compiled to SPIR-V with naga when pipelines are built.
//
// # Stages
//
// Density generation runs entirely on the GPU: one pass writes the base
// field and one further pass per deformation edit adds that edit's
// contribution. All passes share one command encoder and one fence wait.
//
// Surface extraction is hybrid. The host applies neighbor slices to the
// samples, the GPU classifies every lattice cell against the iso level,
// and the host builds triangles for the active cells and resolves their
// vertices. Vertex positions are therefore computed by the same code as
// on the CPU, so meshes meet CPU-built neighbors without cracks.
//
// # Fallback
//
// Dispatches the device cannot take, such as grids larger than the
// storage limit, fail with kernel.ErrUnavailable so the caller can run
// them on the CPU kernel.
package gpu
