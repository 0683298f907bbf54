//go:build !nogpu

package gpu

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/terrain/kernel"
)

// dispatchClassify computes the corner mask of every cell. The caller
// holds k.mu.
func (k *Kernel) dispatchClassify(ctx context.Context, samples []float32, res [3]int, iso float32) ([]uint8, error) {
	b := buffers{device: k.device}
	defer b.release()

	sampleBytes := float32sToBytes(samples)
	maskBytes := uint64(res[0]*res[1]*res[2]) * 4 //nolint:gosec // validated positive
	params := ExtractParams{
		Res: [4]uint32{uint32(res[0]), uint32(res[1]), uint32(res[2]), 0}, //nolint:gosec // validated positive
		Iso: iso,
	}
	paramSize := uint64(unsafe.Sizeof(params))

	ub, err := b.create("terrain_extract_params", paramSize, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	input, err := b.create("terrain_extract_samples", uint64(len(sampleBytes)), gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	masks, err := b.create("terrain_masks", maskBytes, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, err
	}
	staging, err := b.create("terrain_masks_staging", maskBytes, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	k.queue.WriteBuffer(ub, 0, structToBytes(unsafe.Pointer(&params), unsafe.Sizeof(params))) //nolint:gosec // safe struct access
	k.queue.WriteBuffer(input, 0, sampleBytes)

	bg, err := k.classify.bindGroup(k.device, "terrain_classify_bind",
		ub, paramSize, input, uint64(len(sampleBytes)), masks, maskBytes)
	if err != nil {
		return nil, err
	}
	b.groups = append(b.groups, bg)

	readback, err := k.submit(ctx, "terrain_classify", []pass{{
		pipeline: k.classify.pipeline,
		group:    bg,
		groups:   workgroups(res),
	}}, masks, staging, maskBytes)
	if err != nil {
		return nil, err
	}
	return bytesToMasks(readback), nil
}

// trianglesFromMasks builds the canonical triangle list from cell masks
// indexed [x + res[0]*(y + res[1]*z)].
func trianglesFromMasks(masks []uint8, res [3]int, maxTriangles int) ([]kernel.Triangle, error) {
	if len(masks) != res[0]*res[1]*res[2] {
		return nil, fmt.Errorf("%w: %d cell masks for resolution %v", kernel.ErrInvalidInput, len(masks), res)
	}
	var tris []kernel.Triangle
	i := 0
	for z := range res[2] {
		for y := range res[1] {
			for x := range res[0] {
				tris = kernel.AppendCell(tris, res, x, y, z, masks[i])
				i++
			}
		}
	}
	if maxTriangles > 0 && len(tris) > maxTriangles {
		return nil, fmt.Errorf("%w: %d triangles, capacity %d", kernel.ErrCapacityExceeded, len(tris), maxTriangles)
	}
	kernel.SortTriangles(tris)
	return tris, nil
}
