//go:build !nogpu

package gpu

import (
	"context"
	"unsafe"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/terrain/kernel"
)

// dispatchDensity samples the field: one field pass, then one pass per
// edit, all in a single submission. The caller holds k.mu.
func (k *Kernel) dispatchDensity(ctx context.Context, in *kernel.DensityInput, sampleBytes uint64) ([]float32, error) {
	b := buffers{device: k.device}
	defer b.release()

	editBytes := packEdits(in.Edits)
	edits, err := b.create("terrain_edits", uint64(len(editBytes)), gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	samples, err := b.create("terrain_samples", sampleBytes, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, err
	}
	staging, err := b.create("terrain_samples_staging", sampleBytes, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	k.queue.WriteBuffer(edits, 0, editBytes)

	res := in.Resolution
	groups := workgroups([3]int{res[0] + 1, res[1] + 1, res[2] + 1})
	paramSize := uint64(unsafe.Sizeof(DensityParams{}))

	passes := make([]pass, 0, len(in.Edits)+1)
	for i := -1; i < len(in.Edits); i++ {
		params := newDensityParams(in, densityModeField, 0)
		if i >= 0 {
			params = newDensityParams(in, densityModeEdit, uint32(i)) //nolint:gosec // bounded by MaxEditPasses
		}
		ub, err := b.create("terrain_density_params", paramSize, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
		if err != nil {
			return nil, err
		}
		k.queue.WriteBuffer(ub, 0, structToBytes(unsafe.Pointer(&params), unsafe.Sizeof(params))) //nolint:gosec // safe struct access

		bg, err := k.density.bindGroup(k.device, "terrain_density_bind",
			ub, paramSize, edits, uint64(len(editBytes)), samples, sampleBytes)
		if err != nil {
			return nil, err
		}
		b.groups = append(b.groups, bg)
		passes = append(passes, pass{pipeline: k.density.pipeline, group: bg, groups: groups})
	}

	readback, err := k.submit(ctx, "terrain_density", passes, samples, staging, sampleBytes)
	if err != nil {
		return nil, err
	}
	return bytesToFloat32s(readback), nil
}
