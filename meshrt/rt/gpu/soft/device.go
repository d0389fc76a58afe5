// Package soft is a CPU implementation of gpu.Device. Compute passes run
// registered Go kernels keyed by entry point, so the mesh pipeline can be
// exercised headless.
package soft

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/voxmesh/meshrt/rt/gpu"
)

// Kernel runs one dispatch. slots holds the bound buffers' backing bytes by
// binding index; writes are visible to later work.
type Kernel func(workgroups [3]uint32, slots map[uint32][]byte) error

// StatusMapFailed is reported to map callbacks when FailMaps is set.
const StatusMapFailed = wgpu.BufferMapAsyncStatusSuccess + 1

var ErrReleased = errors.New("soft: device released")

type Options struct {
	Limits  gpu.Limits
	Kernels map[string]Kernel
	// HoldMaps leaves map requests unresolved.
	HoldMaps bool
	// FailMaps resolves map requests with StatusMapFailed.
	FailMaps bool
}

type Stats struct {
	Writes     int
	Submits    int
	Dispatches int
	Copies     int
}

// command is one unit of queued device work.
type command func(st *Stats) error

// Device queues writes and submissions and executes them in order on Poll.
type Device struct {
	mu       sync.Mutex
	opts     Options
	queue    []command
	maps     []*pendingMap
	err      error
	stats    Stats
	released bool
}

type pendingMap struct {
	buf      *Buffer
	callback func(wgpu.BufferMapAsyncStatus)
}

func NewDevice(opts Options) *Device {
	if opts.Kernels == nil {
		opts.Kernels = map[string]Kernel{}
	}
	return &Device{opts: opts}
}

// RegisterKernel binds a kernel to a shader entry point.
func (d *Device) RegisterKernel(entryPoint string, k Kernel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.Kernels[entryPoint] = k
}

// Err returns the first error raised while executing queued work.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Bytes flushes queued work and returns a copy of buf's contents.
func (d *Device) Bytes(buf gpu.Buffer) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flush()
	b := buf.(*Buffer)
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (d *Device) Limits() gpu.Limits {
	return d.opts.Limits
}

func (d *Device) CreateBuffer(desc gpu.BufferDescriptor) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, ErrReleased
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("soft: buffer %s has zero size", desc.Label)
	}
	if desc.Size%4 != 0 {
		return nil, fmt.Errorf("soft: buffer %s size %d is not 4-byte aligned", desc.Label, desc.Size)
	}
	if max := d.opts.Limits.MaxBufferSize; max != 0 && desc.Size > max {
		return nil, fmt.Errorf("soft: buffer %s size %d exceeds %d", desc.Label, desc.Size, max)
	}
	if desc.Usage&wgpu.BufferUsageMapRead != 0 && desc.Usage&^(wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst) != 0 {
		return nil, fmt.Errorf("soft: buffer %s combines MapRead with usages other than CopyDst", desc.Label)
	}
	return &Buffer{label: desc.Label, usage: desc.Usage, data: make([]byte, desc.Size)}, nil
}

func (d *Device) WriteBuffer(buf gpu.Buffer, offset uint64, data []byte) error {
	b, ok := buf.(*Buffer)
	if !ok {
		return fmt.Errorf("soft: foreign buffer %s", buf.Label())
	}
	if b.usage&wgpu.BufferUsageCopyDst == 0 {
		return fmt.Errorf("soft: write to %s without CopyDst", b.label)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("soft: write of %d bytes at %d overruns %s (%d bytes)", len(data), offset, b.label, len(b.data))
	}
	payload := make([]byte, len(data))
	copy(payload, data)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, func(st *Stats) error {
		if b.released {
			return fmt.Errorf("soft: write to released buffer %s", b.label)
		}
		copy(b.data[offset:], payload)
		st.Writes++
		return nil
	})
	return nil
}

func (d *Device) CreateBindGroupLayout(label string, entries []wgpu.BindGroupLayoutEntry) (gpu.BindGroupLayout, error) {
	l := &BindGroupLayout{label: label, entries: map[uint32]wgpu.BindGroupLayoutEntry{}}
	for _, e := range entries {
		if _, dup := l.entries[e.Binding]; dup {
			return nil, fmt.Errorf("soft: layout %s binds slot %d twice", label, e.Binding)
		}
		l.entries[e.Binding] = e
	}
	return l, nil
}

func (d *Device) CreateBindGroup(label string, layout gpu.BindGroupLayout, entries []gpu.BufferBinding) (gpu.BindGroup, error) {
	l, ok := layout.(*BindGroupLayout)
	if !ok {
		return nil, fmt.Errorf("soft: foreign layout for %s", label)
	}
	if len(entries) != len(l.entries) {
		return nil, fmt.Errorf("soft: bind group %s has %d entries, layout %s needs %d", label, len(entries), l.label, len(l.entries))
	}
	g := &BindGroup{label: label, layout: l, buffers: map[uint32]*Buffer{}}
	for _, e := range entries {
		if _, ok := l.entries[e.Binding]; !ok {
			return nil, fmt.Errorf("soft: bind group %s slot %d not in layout", label, e.Binding)
		}
		b, ok := e.Buffer.(*Buffer)
		if !ok || b == nil {
			return nil, fmt.Errorf("soft: bind group %s slot %d has no buffer", label, e.Binding)
		}
		if b.usage&wgpu.BufferUsageStorage == 0 {
			return nil, fmt.Errorf("soft: bind group %s slot %d buffer %s lacks Storage usage", label, e.Binding, b.label)
		}
		g.buffers[e.Binding] = b
	}
	return g, nil
}

func (d *Device) CreateComputePipeline(desc gpu.ComputePipelineDescriptor) (gpu.ComputePipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, ok := d.opts.Kernels[desc.EntryPoint]
	if !ok {
		return nil, fmt.Errorf("soft: no kernel registered for entry point %q", desc.EntryPoint)
	}
	if desc.Source == "" {
		return nil, fmt.Errorf("soft: pipeline %s has no source", desc.Label)
	}
	return &ComputePipeline{label: desc.Label, kernel: k}, nil
}

func (d *Device) CreateCommandEncoder(label string) (gpu.CommandEncoder, error) {
	if d.released {
		return nil, ErrReleased
	}
	return &encoder{label: label}, nil
}

func (d *Device) Submit(cmd gpu.CommandBuffer) error {
	c, ok := cmd.(*commandBuffer)
	if !ok {
		return fmt.Errorf("soft: foreign command buffer")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}
	for _, b := range c.copyDsts {
		if b.mapped || b.mapPending {
			return fmt.Errorf("soft: submit copies into mapped buffer %s", b.label)
		}
	}
	d.stats.Submits++
	d.queue = append(d.queue, c.commands...)
	return nil
}

func (d *Device) MapAsync(buf gpu.Buffer, mode wgpu.MapMode, offset, size uint64, callback func(wgpu.BufferMapAsyncStatus)) error {
	b, ok := buf.(*Buffer)
	if !ok {
		return fmt.Errorf("soft: foreign buffer %s", buf.Label())
	}
	if mode != wgpu.MapModeRead || b.usage&wgpu.BufferUsageMapRead == 0 {
		return fmt.Errorf("soft: buffer %s is not mappable for reading", b.label)
	}
	if offset+size > uint64(len(b.data)) {
		return fmt.Errorf("soft: map range %d+%d overruns %s", offset, size, b.label)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if b.released {
		return fmt.Errorf("soft: map of released buffer %s", b.label)
	}
	if b.mapped || b.mapPending {
		return fmt.Errorf("soft: buffer %s is already mapped", b.label)
	}
	b.mapPending = true
	d.maps = append(d.maps, &pendingMap{buf: b, callback: callback})
	return nil
}

func (d *Device) MappedRange(buf gpu.Buffer, offset, size uint64) []byte {
	b := buf.(*Buffer)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !b.mapped {
		return nil
	}
	return b.data[offset : offset+size]
}

func (d *Device) Unmap(buf gpu.Buffer) error {
	b, ok := buf.(*Buffer)
	if !ok {
		return fmt.Errorf("soft: foreign buffer %s", buf.Label())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.mapPending {
		return fmt.Errorf("soft: unmap of %s while its map is pending", b.label)
	}
	b.mapped = false
	return nil
}

// Poll runs all queued work, then resolves pending maps, so a map observes
// every copy submitted before it. Callbacks run without the device lock held.
func (d *Device) Poll(wait bool) {
	d.mu.Lock()
	d.flush()
	var ready []*pendingMap
	if !d.opts.HoldMaps {
		ready = d.maps
		d.maps = nil
	}
	status := wgpu.BufferMapAsyncStatusSuccess
	if d.opts.FailMaps {
		status = StatusMapFailed
	}
	for _, m := range ready {
		m.buf.mapPending = false
		m.buf.mapped = status == wgpu.BufferMapAsyncStatusSuccess
	}
	d.mu.Unlock()

	for _, m := range ready {
		m.callback(status)
	}
}

func (d *Device) flush() {
	queue := d.queue
	d.queue = nil
	for _, op := range queue {
		if err := op(&d.stats); err != nil && d.err == nil {
			d.err = err
		}
	}
}

func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	d.queue = nil
	d.maps = nil
}

type Buffer struct {
	label      string
	usage      wgpu.BufferUsage
	data       []byte
	mapped     bool
	mapPending bool
	released   bool
}

func (b *Buffer) Label() string           { return b.label }
func (b *Buffer) Size() uint64            { return uint64(len(b.data)) }
func (b *Buffer) Usage() wgpu.BufferUsage { return b.usage }
func (b *Buffer) Release()                { b.released = true }

// Released reports whether Release was called.
func (b *Buffer) Released() bool { return b.released }

type BindGroupLayout struct {
	label   string
	entries map[uint32]wgpu.BindGroupLayoutEntry
}

func (l *BindGroupLayout) Release() {}

type BindGroup struct {
	label   string
	layout  *BindGroupLayout
	buffers map[uint32]*Buffer
}

func (g *BindGroup) Release() {}

// Buffer returns the buffer bound at slot.
func (g *BindGroup) Buffer(slot uint32) *Buffer { return g.buffers[slot] }

type ComputePipeline struct {
	label  string
	kernel Kernel
}

func (p *ComputePipeline) Label() string { return p.label }
func (p *ComputePipeline) Release()      {}
