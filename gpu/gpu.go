//go:build !nogpu

// Package gpu registers the GPU terrain kernel.
//
// Import this package to run density generation and cell classification
// as wgpu/hal compute shaders. Engines using the "gpu" or "auto" backend
// pick the kernel up automatically.
//
// If GPU initialization fails (no Vulkan adapter available), the
// registration is skipped with a warning and the "auto" backend runs on
// the CPU.
//
// Usage:
//
//	import _ "github.com/gogpu/terrain/gpu" // enable GPU kernels
package gpu

import (
	"github.com/gogpu/terrain"
	gpuimpl "github.com/gogpu/terrain/internal/gpu"
)

func init() {
	if err := terrain.RegisterKernel(&gpuimpl.Kernel{}); err != nil {
		terrain.Logger().Warn("GPU kernel not available", "err", err)
	}
}

// SetDeviceProvider makes the GPU kernel use a shared device from an
// external provider instead of its own. It is equivalent to
// terrain.WithDeviceProvider for engines created before the call.
//
// The provider should implement HalDevice() any and HalQueue() any
// returning wgpu/hal types.
func SetDeviceProvider(provider any) error {
	return terrain.SetKernelDeviceProvider(provider)
}
