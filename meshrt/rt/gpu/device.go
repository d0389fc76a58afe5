package gpu

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// Device is the slice of the WebGPU API the mesh pipeline needs. The wgpu
// device backs it on hardware; the soft package backs it on the CPU.
//
// All methods must be called from the goroutine that owns the GPU domain,
// except that map callbacks may run inside Poll.
type Device interface {
	Limits() Limits

	CreateBuffer(desc BufferDescriptor) (Buffer, error)
	// WriteBuffer enqueues a host-to-device write. Writes are ordered before
	// any command buffer submitted afterwards.
	WriteBuffer(buf Buffer, offset uint64, data []byte) error

	CreateBindGroupLayout(label string, entries []wgpu.BindGroupLayoutEntry) (BindGroupLayout, error)
	CreateBindGroup(label string, layout BindGroupLayout, entries []BufferBinding) (BindGroup, error)
	CreateComputePipeline(desc ComputePipelineDescriptor) (ComputePipeline, error)

	CreateCommandEncoder(label string) (CommandEncoder, error)
	Submit(cmd CommandBuffer) error

	// MapAsync requests host visibility of buf. The callback fires from a
	// later Poll.
	MapAsync(buf Buffer, mode wgpu.MapMode, offset, size uint64, callback func(wgpu.BufferMapAsyncStatus)) error
	// MappedRange returns the mapped bytes; valid until Unmap.
	MappedRange(buf Buffer, offset, size uint64) []byte
	Unmap(buf Buffer) error
	// Poll processes completed device work and fires ready callbacks. With
	// wait set it blocks until all submitted work has finished.
	Poll(wait bool)
	// Err returns the first error raised by submitted work or by the device
	// itself. A device that reported an error stays failed.
	Err() error

	Release()
}

// Limits bound buffer allocations. Zero means unlimited.
type Limits struct {
	MaxBufferSize               uint64
	MaxStorageBufferBindingSize uint64
}

// DefaultLimits are the WebGPU guaranteed minimums; the device is requested
// without raised limits.
func DefaultLimits() Limits {
	return Limits{
		MaxBufferSize:               256 << 20,
		MaxStorageBufferBindingSize: 128 << 20,
	}
}

type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage wgpu.BufferUsage
}

type Buffer interface {
	Label() string
	Size() uint64
	Usage() wgpu.BufferUsage
	Release()
}

type BufferBinding struct {
	Binding uint32
	Buffer  Buffer
}

type BindGroupLayout interface {
	Release()
}

type BindGroup interface {
	Release()
}

type ComputePipelineDescriptor struct {
	Label      string
	Layout     BindGroupLayout
	Source     string
	EntryPoint string
}

type ComputePipeline interface {
	Label() string
	Release()
}

type CommandEncoder interface {
	BeginComputePass(label string) ComputePass
	CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64) error
	Finish() (CommandBuffer, error)
	Release()
}

type ComputePass interface {
	SetPipeline(p ComputePipeline)
	SetBindGroup(index uint32, group BindGroup)
	DispatchWorkgroups(x, y, z uint32)
	End() error
}

type CommandBuffer interface {
	Release()
}
