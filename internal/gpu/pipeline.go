//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// computePipeline is a compiled compute shader with its layouts. Both
// terrain shaders bind a uniform at 0, a read-only input at 1 and a
// read-write output at 2.
type computePipeline struct {
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

func (p *computePipeline) create(device hal.Device, label, source string) error {
	code, err := compileWGSL(source)
	if err != nil {
		return fmt.Errorf("compile %s shader: %w", label, err)
	}
	shader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return fmt.Errorf("create %s shader module: %w", label, err)
	}
	p.shader = shader

	bindLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: label + "_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create %s bind group layout: %w", label, err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: label + "_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create %s pipeline layout: %w", label, err)
	}
	p.pipeLayout = pipeLayout

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: label + "_pipeline", Layout: p.pipeLayout,
		Compute: hal.ComputeState{Module: p.shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create %s compute pipeline: %w", label, err)
	}
	p.pipeline = pipeline
	return nil
}

func (p *computePipeline) destroy(device hal.Device) {
	if device == nil {
		return
	}
	if p.pipeline != nil {
		device.DestroyComputePipeline(p.pipeline)
	}
	if p.pipeLayout != nil {
		device.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		device.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.shader != nil {
		device.DestroyShaderModule(p.shader)
	}
	*p = computePipeline{}
}

// bindGroup binds a uniform, an input and an output buffer.
func (p *computePipeline) bindGroup(device hal.Device, label string, uniform hal.Buffer, uniformSize uint64, input hal.Buffer, inputSize uint64, output hal.Buffer, outputSize uint64) (hal.BindGroup, error) {
	bg, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: label, Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: uniform.NativeHandle(), Offset: 0, Size: uniformSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: input.NativeHandle(), Offset: 0, Size: inputSize}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: output.NativeHandle(), Offset: 0, Size: outputSize}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create %s bind group: %w", label, err)
	}
	return bg, nil
}

// buffers tracks the transient resources of one dispatch.
type buffers struct {
	device  hal.Device
	buffers []hal.Buffer
	groups  []hal.BindGroup
}

func (b *buffers) create(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("create %s buffer: %w", label, err)
	}
	b.buffers = append(b.buffers, buf)
	return buf, nil
}

func (b *buffers) release() {
	for _, bg := range b.groups {
		b.device.DestroyBindGroup(bg)
	}
	for _, buf := range b.buffers {
		b.device.DestroyBuffer(buf)
	}
	b.groups, b.buffers = nil, nil
}
