package terrain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gogpu/terrain/kernel"
)

// ErrFallbackToCPU indicates a GPU kernel cannot run a particular
// dispatch. In auto backend mode the dispatch transparently runs on the
// CPU kernel instead.
var ErrFallbackToCPU = errors.New("terrain: falling back to CPU kernel")

// GPUKernel is an optional hardware kernel provider.
//
// Implementations live in GPU backend packages and register themselves
// on import:
//
//	import _ "github.com/gogpu/terrain/gpu" // enables GPU kernels
type GPUKernel interface {
	kernel.Kernel

	// Init acquires the device and builds pipelines. Called once during
	// registration.
	Init() error
}

// DeviceProviderAware is an optional interface for kernels that can share
// a GPU device with an external provider such as a host window.
type DeviceProviderAware interface {
	SetDeviceProvider(provider any) error
}

var (
	kernelMu  sync.RWMutex
	gpuKernel GPUKernel
)

// RegisterKernel registers the GPU kernel used by the gpu and auto
// backends. Only one kernel can be registered; a later registration
// replaces and closes the previous one. If Init fails the kernel is not
// registered and the error is returned.
func RegisterKernel(k GPUKernel) error {
	if k == nil {
		return errors.New("terrain: kernel must not be nil")
	}
	if err := k.Init(); err != nil {
		return err
	}
	propagateLogger(k, Logger())

	kernelMu.Lock()
	old := gpuKernel
	gpuKernel = k
	kernelMu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

// RegisteredKernel returns the registered GPU kernel, or nil if none.
func RegisteredKernel() GPUKernel {
	kernelMu.RLock()
	k := gpuKernel
	kernelMu.RUnlock()
	return k
}

// SetKernelDeviceProvider passes a device provider to the registered GPU
// kernel. It is a no-op if no kernel is registered or the kernel cannot
// share devices.
func SetKernelDeviceProvider(provider any) error {
	k := RegisteredKernel()
	if k == nil {
		return nil
	}
	if dpa, ok := k.(DeviceProviderAware); ok {
		return dpa.SetDeviceProvider(provider)
	}
	return nil
}

// fallbackKernel runs dispatches on a GPU kernel and retries those the GPU
// declines on the CPU kernel.
//
// The GPU samples density in float32 and the CPU in float64, so the two
// produce different grids for the same node. The first declined density
// dispatch pins density to the CPU for the kernel's lifetime; grids are
// then bit-identical on regeneration from that point on.
type fallbackKernel struct {
	gpu kernel.Kernel
	cpu kernel.Kernel

	cpuDensity atomic.Bool
}

func declined(err error) bool {
	return errors.Is(err, ErrFallbackToCPU) || errors.Is(err, kernel.ErrUnavailable)
}

func (k *fallbackKernel) Name() string { return k.gpu.Name() + "+" + k.cpu.Name() }

func (k *fallbackKernel) GenerateDensity(ctx context.Context, in *kernel.DensityInput) (*kernel.DensityOutput, error) {
	if k.cpuDensity.Load() {
		return k.cpu.GenerateDensity(ctx, in)
	}
	out, err := k.gpu.GenerateDensity(ctx, in)
	if declined(err) {
		if k.cpuDensity.CompareAndSwap(false, true) {
			Logger().Warn("terrain: density pinned to CPU after GPU declined a dispatch", "err", err)
		}
		return k.cpu.GenerateDensity(ctx, in)
	}
	return out, err
}

func (k *fallbackKernel) ExtractSurface(ctx context.Context, in *kernel.ExtractInput) (*kernel.ExtractOutput, error) {
	out, err := k.gpu.ExtractSurface(ctx, in)
	if declined(err) {
		Logger().Debug("terrain: surface dispatch fell back to CPU", "err", err)
		return k.cpu.ExtractSurface(ctx, in)
	}
	return out, err
}

// Close closes only the CPU side; the GPU kernel belongs to the registry.
func (k *fallbackKernel) Close() error { return k.cpu.Close() }
