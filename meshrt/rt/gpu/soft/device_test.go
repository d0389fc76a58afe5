package soft

import (
	"encoding/binary"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxmesh/meshrt/rt/gpu"
)

func storage(t *testing.T, d *Device, label string, size uint64) gpu.Buffer {
	t.Helper()
	b, err := d.CreateBuffer(gpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	require.NoError(t, err)
	return b
}

func TestCreateBufferValidation(t *testing.T) {
	d := NewDevice(Options{Limits: gpu.Limits{MaxBufferSize: 64}})

	_, err := d.CreateBuffer(gpu.BufferDescriptor{Label: "zero", Usage: wgpu.BufferUsageStorage})
	assert.Error(t, err)
	_, err = d.CreateBuffer(gpu.BufferDescriptor{Label: "odd", Size: 6, Usage: wgpu.BufferUsageStorage})
	assert.Error(t, err)
	_, err = d.CreateBuffer(gpu.BufferDescriptor{Label: "big", Size: 128, Usage: wgpu.BufferUsageStorage})
	assert.Error(t, err)
	_, err = d.CreateBuffer(gpu.BufferDescriptor{Label: "mixed", Size: 16, Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageStorage})
	assert.Error(t, err)

	d.Release()
	_, err = d.CreateBuffer(gpu.BufferDescriptor{Label: "late", Size: 16, Usage: wgpu.BufferUsageStorage})
	assert.ErrorIs(t, err, ErrReleased)
}

func TestWritesRunOnPoll(t *testing.T) {
	d := NewDevice(Options{})
	b := storage(t, d, "buf", 8)

	require.NoError(t, d.WriteBuffer(b, 4, []byte{1, 2, 3, 4}))
	assert.Zero(t, d.Stats().Writes, "writes are queued")
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, d.Bytes(b))
	assert.Equal(t, 1, d.Stats().Writes)

	assert.Error(t, d.WriteBuffer(b, 6, []byte{1, 2, 3, 4}), "overrun")
}

func TestDispatchAndCopy(t *testing.T) {
	d := NewDevice(Options{})
	d.RegisterKernel("main", func(groups [3]uint32, slots map[uint32][]byte) error {
		binary.LittleEndian.PutUint32(slots[0], groups[0]*groups[1]*groups[2])
		return nil
	})
	out := storage(t, d, "out", 4)
	staging, err := d.CreateBuffer(gpu.BufferDescriptor{
		Label: "staging",
		Size:  4,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	require.NoError(t, err)

	layout, err := d.CreateBindGroupLayout("layout", []wgpu.BindGroupLayoutEntry{{Binding: 0}})
	require.NoError(t, err)
	group, err := d.CreateBindGroup("group", layout, []gpu.BufferBinding{{Binding: 0, Buffer: out}})
	require.NoError(t, err)
	pipeline, err := d.CreateComputePipeline(gpu.ComputePipelineDescriptor{Label: "p", Layout: layout, Source: "src", EntryPoint: "main"})
	require.NoError(t, err)

	enc, err := d.CreateCommandEncoder("enc")
	require.NoError(t, err)
	pass := enc.BeginComputePass("pass")
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, group)
	pass.DispatchWorkgroups(2, 3, 4)
	require.Error(t, enc.CopyBufferToBuffer(out, 0, staging, 0, 4), "copies need the pass closed")
	require.NoError(t, pass.End())
	require.NoError(t, enc.CopyBufferToBuffer(out, 0, staging, 0, 4))
	cmd, err := enc.Finish()
	require.NoError(t, err)
	require.NoError(t, d.Submit(cmd))

	var status wgpu.BufferMapAsyncStatus = StatusMapFailed
	require.NoError(t, d.MapAsync(staging, wgpu.MapModeRead, 0, 4, func(s wgpu.BufferMapAsyncStatus) { status = s }))
	assert.Error(t, d.MapAsync(staging, wgpu.MapModeRead, 0, 4, func(wgpu.BufferMapAsyncStatus) {}), "double map")
	assert.Nil(t, d.MappedRange(staging, 0, 4), "not mapped before Poll")

	d.Poll(true)
	require.NoError(t, d.Err())
	assert.Equal(t, wgpu.BufferMapAsyncStatusSuccess, status)
	assert.Equal(t, uint32(24), binary.LittleEndian.Uint32(d.MappedRange(staging, 0, 4)))
	require.NoError(t, d.Unmap(staging))
	assert.Nil(t, d.MappedRange(staging, 0, 4))

	st := d.Stats()
	assert.Equal(t, 1, st.Dispatches)
	assert.Equal(t, 1, st.Copies)
	assert.Equal(t, 1, st.Submits)
}

func TestPassValidation(t *testing.T) {
	d := NewDevice(Options{})
	enc, err := d.CreateCommandEncoder("enc")
	require.NoError(t, err)
	pass := enc.BeginComputePass("pass")
	pass.DispatchWorkgroups(1, 1, 1)
	assert.Error(t, pass.End(), "dispatch without pipeline")
	_, err = enc.Finish()
	assert.Error(t, err)

	_, err = d.CreateComputePipeline(gpu.ComputePipelineDescriptor{Label: "p", Source: "src", EntryPoint: "missing"})
	assert.Error(t, err)
}

func TestMapOptions(t *testing.T) {
	d := NewDevice(Options{FailMaps: true})
	b, err := d.CreateBuffer(gpu.BufferDescriptor{Label: "s", Size: 4, Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst})
	require.NoError(t, err)

	var got wgpu.BufferMapAsyncStatus
	require.NoError(t, d.MapAsync(b, wgpu.MapModeRead, 0, 4, func(s wgpu.BufferMapAsyncStatus) { got = s }))
	d.Poll(true)
	assert.Equal(t, StatusMapFailed, got)
	assert.Nil(t, d.MappedRange(b, 0, 4))

	held := NewDevice(Options{HoldMaps: true})
	hb, err := held.CreateBuffer(gpu.BufferDescriptor{Label: "h", Size: 4, Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst})
	require.NoError(t, err)
	called := false
	require.NoError(t, held.MapAsync(hb, wgpu.MapModeRead, 0, 4, func(wgpu.BufferMapAsyncStatus) { called = true }))
	held.Poll(true)
	assert.False(t, called)
}

func TestSubmitRejectsCopyIntoMappedBuffer(t *testing.T) {
	d := NewDevice(Options{})
	src := storage(t, d, "src", 4)
	staging, err := d.CreateBuffer(gpu.BufferDescriptor{Label: "staging", Size: 4, Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst})
	require.NoError(t, err)

	encode := func() gpu.CommandBuffer {
		enc, err := d.CreateCommandEncoder("enc")
		require.NoError(t, err)
		require.NoError(t, enc.CopyBufferToBuffer(src, 0, staging, 0, 4))
		cmd, err := enc.Finish()
		require.NoError(t, err)
		return cmd
	}

	require.NoError(t, d.MapAsync(staging, wgpu.MapModeRead, 0, 4, func(wgpu.BufferMapAsyncStatus) {}))
	assert.Error(t, d.Submit(encode()), "map pending")
	d.Poll(true)
	assert.Error(t, d.Submit(encode()), "mapped")
	require.NoError(t, d.Unmap(staging))
	require.NoError(t, d.Submit(encode()))
	d.Poll(true)
	assert.NoError(t, d.Err())
	assert.Equal(t, 1, d.Stats().Copies)
}

func TestExecutionErrorsAreRecorded(t *testing.T) {
	d := NewDevice(Options{})
	b := storage(t, d, "buf", 4)
	require.NoError(t, d.WriteBuffer(b, 0, []byte{1, 2, 3, 4}))
	b.Release()
	require.NoError(t, d.Err(), "work runs on Poll")
	d.Poll(false)
	assert.ErrorContains(t, d.Err(), "released buffer buf")
}
