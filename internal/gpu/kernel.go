//go:build !nogpu

package gpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/terrain/kernel"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Dispatch limits. Larger work is declined with kernel.ErrUnavailable.
const (
	// MaxStorageBytes bounds any single storage buffer.
	MaxStorageBytes = 128 << 20

	// MaxEditPasses bounds the number of edit passes of one density
	// dispatch.
	MaxEditPasses = 256

	fenceTimeout = 5 * time.Second
	workgroup    = 4
)

var errNotReady = errors.New("gpu: kernel not initialized")

var discard = slog.New(slog.DiscardHandler)

// Kernel runs the terrain kernels on a wgpu/hal device. It implements
// kernel.Kernel. The device queue is used by one dispatch at a time.
type Kernel struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	adapter  string

	density  computePipeline
	classify computePipeline

	ready          bool
	externalDevice bool // true when using a shared device (don't destroy on Close)

	// log tags dispatch and device records with the kernel; nil is silent.
	log atomic.Pointer[slog.Logger]
}

var _ kernel.Kernel = (*Kernel)(nil)

// Name implements kernel.Kernel.
func (k *Kernel) Name() string { return "wgpu" }

// Init opens a device and builds the pipelines. It fails when no Vulkan
// adapter is available.
func (k *Kernel) Init() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ready {
		return nil
	}
	if err := k.initGPU(); err != nil {
		k.releaseLocked()
		return fmt.Errorf("%w: %w", kernel.ErrUnavailable, err)
	}
	return nil
}

// SetLogger implements the logger propagation of terrain.SetLogger. A nil
// logger silences the kernel.
func (k *Kernel) SetLogger(l *slog.Logger) {
	if l == nil {
		k.log.Store(nil)
		return
	}
	k.log.Store(l.With("component", "gpu", "kernel", k.Name()))
}

func (k *Kernel) logger() *slog.Logger {
	if l := k.log.Load(); l != nil {
		return l
	}
	return discard
}

// Close implements kernel.Kernel.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.releaseLocked()
	return nil
}

func (k *Kernel) releaseLocked() {
	k.density.destroy(k.device)
	k.classify.destroy(k.device)
	if !k.externalDevice {
		if k.device != nil {
			k.device.Destroy()
		}
		if k.instance != nil {
			k.instance.Destroy()
		}
	}
	k.device = nil
	k.instance = nil
	k.queue = nil
	k.ready = false
	k.externalDevice = false
}

// SetDeviceProvider switches the kernel to a shared GPU device from an
// external provider. The provider must implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func (k *Kernel) SetDeviceProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("gpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("gpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("gpu: provider HalQueue is not hal.Queue")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.releaseLocked()
	k.device = device
	k.queue = queue
	k.adapter = "shared"
	k.externalDevice = true
	if err := k.createPipelines(); err != nil {
		return fmt.Errorf("gpu: create pipelines with shared device: %w", err)
	}
	k.ready = true
	k.logger().Info("gpu: switched to shared GPU device")
	return nil
}

func (k *Kernel) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	k.instance = instance
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	k.device = openDev.Device
	k.queue = openDev.Queue
	k.adapter = selected.Info.Name
	if err := k.createPipelines(); err != nil {
		return fmt.Errorf("create pipelines: %w", err)
	}
	k.ready = true
	k.logger().Info("gpu: terrain kernels initialized", "adapter", k.adapter)
	return nil
}

func (k *Kernel) createPipelines() error {
	if err := k.density.create(k.device, "terrain_density", densityShaderSource); err != nil {
		return err
	}
	return k.classify.create(k.device, "terrain_classify", classifyShaderSource)
}

// GenerateDensity implements kernel.Kernel.
func (k *Kernel) GenerateDensity(ctx context.Context, in *kernel.DensityInput) (*kernel.DensityOutput, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	sampleBytes := uint64(in.SampleCount()) * 4 //nolint:gosec // count is positive
	if sampleBytes > MaxStorageBytes || len(in.Edits) > MaxEditPasses {
		return nil, fmt.Errorf("%w: %d samples, %d edits exceed dispatch limits", kernel.ErrUnavailable, in.SampleCount(), len(in.Edits))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.ready {
		return nil, fmt.Errorf("%w: %w", kernel.ErrUnavailable, errNotReady)
	}
	start := time.Now()
	samples, err := k.dispatchDensity(ctx, in, sampleBytes)
	if err != nil {
		return nil, fmt.Errorf("gpu: density: %w", err)
	}
	k.logger().Debug("gpu: density dispatched",
		"samples", len(samples), "edits", len(in.Edits), "elapsed", time.Since(start))
	return &kernel.DensityOutput{Samples: samples}, nil
}

// ExtractSurface implements kernel.Kernel.
func (k *Kernel) ExtractSurface(ctx context.Context, in *kernel.ExtractInput) (*kernel.ExtractOutput, error) {
	p, err := kernel.Prepare(in)
	if err != nil {
		return nil, err
	}
	res := in.Resolution
	cells := res[0] * res[1] * res[2]
	if uint64(len(p.Samples))*4 > MaxStorageBytes || uint64(cells)*4 > MaxStorageBytes { //nolint:gosec // counts are positive
		return nil, fmt.Errorf("%w: %d cells exceed dispatch limits", kernel.ErrUnavailable, cells)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	if !k.ready {
		k.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", kernel.ErrUnavailable, errNotReady)
	}
	masks, err := k.dispatchClassify(ctx, p.Samples, res, float32(in.IsoLevel))
	k.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("gpu: classify: %w", err)
	}

	tris, err := trianglesFromMasks(masks, res, in.MaxTriangles)
	if err != nil {
		return nil, err
	}
	return kernel.Resolve(in, p, tris)
}

// submit encodes the passes, copies src to staging and waits for the GPU.
// The caller holds k.mu.
func (k *Kernel) submit(ctx context.Context, label string, passes []pass, src, staging hal.Buffer, size uint64) ([]byte, error) {
	encoder, err := k.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label + "_encoder"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}

	// One compute pass each; passes are ordered by implicit storage
	// barriers.
	for _, ps := range passes {
		cp := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label + "_pass"})
		cp.SetPipeline(ps.pipeline)
		cp.SetBindGroup(0, ps.group, nil)
		cp.Dispatch(ps.groups[0], ps.groups[1], ps.groups[2])
		cp.End()
	}
	encoder.CopyBufferToBuffer(src, staging, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: size}})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	defer k.device.FreeCommandBuffer(cmdBuf)

	fence, err := k.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("create fence: %w", err)
	}
	defer k.device.DestroyFence(fence)
	if err := k.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	timeout := fenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, max(time.Until(deadline), time.Millisecond))
	}
	ok, err := k.device.Wait(fence, 1, timeout)
	if err != nil {
		return nil, fmt.Errorf("wait for GPU: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("GPU timeout after %v", timeout)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	readback := make([]byte, size)
	if err := k.queue.ReadBuffer(staging, 0, readback); err != nil {
		return nil, fmt.Errorf("readback: %w", err)
	}
	return readback, nil
}

// pass is one compute pass of a dispatch.
type pass struct {
	pipeline hal.ComputePipeline
	group    hal.BindGroup
	groups   [3]uint32
}

// workgroups returns the workgroup counts covering n invocations per axis.
func workgroups(n [3]int) [3]uint32 {
	var out [3]uint32
	for i, v := range n {
		out[i] = uint32((v + workgroup - 1) / workgroup) //nolint:gosec // bounded by MaxStorageBytes
	}
	return out
}
