package gpu

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

type wgpuDevice struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	limits   Limits

	// lost is written from the device-lost callback.
	mu   sync.Mutex
	lost error
}

// NewWGPUDevice opens a headless WebGPU device; no surface is created since
// the mesh pipeline only runs compute work.
func NewWGPUDevice() (Device, error) {
	instance := wgpu.CreateInstance(nil)

	// finds a suitable GPU (discrete GPU preferred)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("gpu: request adapter: %w", err)
	}

	d := &wgpuDevice{
		instance: instance,
		adapter:  adapter,
		limits:   DefaultLimits(),
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:              "Mesh Compute Device",
		DeviceLostCallback: d.onLost,
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("gpu: request device: %w", err)
	}
	d.device = device
	d.queue = device.GetQueue()
	return d, nil
}

func (d *wgpuDevice) onLost(reason wgpu.DeviceLostReason, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost == nil {
		d.lost = fmt.Errorf("%w: device lost (%v): %s", ErrDevice, reason, message)
	}
}

func (d *wgpuDevice) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

type wgpuBuffer struct {
	buf   *wgpu.Buffer
	label string
	size  uint64
	usage wgpu.BufferUsage
}

func (b *wgpuBuffer) Label() string           { return b.label }
func (b *wgpuBuffer) Size() uint64            { return b.size }
func (b *wgpuBuffer) Usage() wgpu.BufferUsage { return b.usage }
func (b *wgpuBuffer) Release()                { b.buf.Release() }

type wgpuBindGroupLayout struct{ bgl *wgpu.BindGroupLayout }

func (l *wgpuBindGroupLayout) Release() { l.bgl.Release() }

type wgpuBindGroup struct{ bg *wgpu.BindGroup }

func (g *wgpuBindGroup) Release() { g.bg.Release() }

type wgpuComputePipeline struct {
	label    string
	pipeline *wgpu.ComputePipeline
}

func (p *wgpuComputePipeline) Label() string { return p.label }
func (p *wgpuComputePipeline) Release()      { p.pipeline.Release() }

type wgpuCommandBuffer struct{ cmd *wgpu.CommandBuffer }

func (c *wgpuCommandBuffer) Release() { c.cmd.Release() }

func (d *wgpuDevice) Limits() Limits { return d.limits }

func (d *wgpuDevice) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            desc.Label,
		Size:             desc.Size,
		Usage:            desc.Usage,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %s: %w", desc.Label, err)
	}
	return &wgpuBuffer{buf: buf, label: desc.Label, size: desc.Size, usage: desc.Usage}, nil
}

func (d *wgpuDevice) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	b, ok := buf.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("gpu: buffer %s does not belong to this device", buf.Label())
	}
	if len(data) == 0 {
		return nil
	}
	d.queue.WriteBuffer(b.buf, offset, data)
	return nil
}

func (d *wgpuDevice) CreateBindGroupLayout(label string, entries []wgpu.BindGroupLayoutEntry) (BindGroupLayout, error) {
	bgl, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   label,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create bind group layout %s: %w", label, err)
	}
	return &wgpuBindGroupLayout{bgl: bgl}, nil
}

func (d *wgpuDevice) CreateBindGroup(label string, layout BindGroupLayout, entries []BufferBinding) (BindGroup, error) {
	l, ok := layout.(*wgpuBindGroupLayout)
	if !ok {
		return nil, fmt.Errorf("gpu: layout for %s does not belong to this device", label)
	}
	wgpuEntries := make([]wgpu.BindGroupEntry, 0, len(entries))
	for _, e := range entries {
		b, ok := e.Buffer.(*wgpuBuffer)
		if !ok {
			return nil, fmt.Errorf("gpu: binding %d of %s does not belong to this device", e.Binding, label)
		}
		wgpuEntries = append(wgpuEntries, wgpu.BindGroupEntry{
			Binding: e.Binding,
			Buffer:  b.buf,
			Size:    wgpu.WholeSize,
		})
	}
	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label,
		Layout:  l.bgl,
		Entries: wgpuEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create bind group %s: %w", label, err)
	}
	return &wgpuBindGroup{bg: bg}, nil
}

func (d *wgpuDevice) CreateComputePipeline(desc ComputePipelineDescriptor) (ComputePipeline, error) {
	l, ok := desc.Layout.(*wgpuBindGroupLayout)
	if !ok {
		return nil, fmt.Errorf("gpu: layout for %s does not belong to this device", desc.Label)
	}

	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.Source},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create shader module %s: %w", desc.Label, err)
	}
	defer module.Release()

	layout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: []*wgpu.BindGroupLayout{l.bgl},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create pipeline layout %s: %w", desc.Label, err)
	}
	defer layout.Release()

	pipeline, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create compute pipeline %s: %w", desc.Label, err)
	}
	return &wgpuComputePipeline{label: desc.Label, pipeline: pipeline}, nil
}

func (d *wgpuDevice) CreateCommandEncoder(label string) (CommandEncoder, error) {
	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("gpu: create command encoder %s: %w", label, err)
	}
	return &wgpuEncoder{encoder: encoder}, nil
}

func (d *wgpuDevice) Submit(cmd CommandBuffer) error {
	c, ok := cmd.(*wgpuCommandBuffer)
	if !ok {
		return fmt.Errorf("gpu: command buffer does not belong to this device")
	}
	d.queue.Submit(c.cmd)
	return nil
}

func (d *wgpuDevice) MapAsync(buf Buffer, mode wgpu.MapMode, offset, size uint64, callback func(wgpu.BufferMapAsyncStatus)) error {
	b, ok := buf.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("gpu: buffer %s does not belong to this device", buf.Label())
	}
	if err := b.buf.MapAsync(mode, offset, size, callback); err != nil {
		return fmt.Errorf("gpu: map %s: %w", b.label, err)
	}
	return nil
}

func (d *wgpuDevice) MappedRange(buf Buffer, offset, size uint64) []byte {
	return buf.(*wgpuBuffer).buf.GetMappedRange(uint(offset), uint(size))
}

func (d *wgpuDevice) Unmap(buf Buffer) error {
	b, ok := buf.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("gpu: buffer %s does not belong to this device", buf.Label())
	}
	if err := b.buf.Unmap(); err != nil {
		return fmt.Errorf("gpu: unmap %s: %w", b.label, err)
	}
	return nil
}

func (d *wgpuDevice) Poll(wait bool) {
	d.device.Poll(wait, nil)
}

func (d *wgpuDevice) Release() {
	d.queue.Release()
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
}

type wgpuEncoder struct {
	encoder *wgpu.CommandEncoder
}

func (e *wgpuEncoder) BeginComputePass(label string) ComputePass {
	return &wgpuComputePass{pass: e.encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})}
}

func (e *wgpuEncoder) CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64) error {
	s, ok := src.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("gpu: buffer %s does not belong to this device", src.Label())
	}
	t, ok := dst.(*wgpuBuffer)
	if !ok {
		return fmt.Errorf("gpu: buffer %s does not belong to this device", dst.Label())
	}
	if err := e.encoder.CopyBufferToBuffer(s.buf, srcOffset, t.buf, dstOffset, size); err != nil {
		return fmt.Errorf("gpu: copy %s -> %s: %w", s.label, t.label, err)
	}
	return nil
}

func (e *wgpuEncoder) Finish() (CommandBuffer, error) {
	cmd, err := e.encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("gpu: finish encoder: %w", err)
	}
	return &wgpuCommandBuffer{cmd: cmd}, nil
}

func (e *wgpuEncoder) Release() { e.encoder.Release() }

type wgpuComputePass struct {
	pass *wgpu.ComputePassEncoder
}

func (p *wgpuComputePass) SetPipeline(pipeline ComputePipeline) {
	p.pass.SetPipeline(pipeline.(*wgpuComputePipeline).pipeline)
}

func (p *wgpuComputePass) SetBindGroup(index uint32, group BindGroup) {
	p.pass.SetBindGroup(index, group.(*wgpuBindGroup).bg, nil)
}

func (p *wgpuComputePass) DispatchWorkgroups(x, y, z uint32) {
	p.pass.DispatchWorkgroups(x, y, z)
}

func (p *wgpuComputePass) End() error {
	defer p.pass.Release()
	return p.pass.End()
}
