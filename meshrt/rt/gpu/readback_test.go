package gpu_test

import (
	"context"
	"testing"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxmesh/meshrt/rt/gpu"
	"github.com/gekko3d/voxmesh/meshrt/rt/gpu/soft"
	"github.com/gekko3d/voxmesh/meshrt/rt/mc"
	"github.com/gekko3d/voxmesh/meshrt/rt/readback"
	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

func TestReadbackDeliversExactlyOneMessage(t *testing.T) {
	h := newHarness(t, soft.Options{})
	desc := sphereVolume(t, 8)
	id := h.add(desc, true)

	_, sent, err := h.step(0)
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	msg, ok := h.rx.TryRecv()
	require.True(t, ok)
	assert.Equal(t, id, msg.Volume)
	assert.Equal(t, uint64(1), msg.Round)
	assert.Len(t, msg.Words, 8*gpu.VertexRecordSize/4)

	want := uint32(mc.Triangles(desc) * 3)
	assert.Equal(t, gpu.AtomicCounters{VerticesHead: want, IndicesHead: want}, msg.Counters)
	for _, v := range msg.Vertices() {
		assert.Equal(t, float32(3), v.W(), "flags of the inside corner")
	}

	_, ok = h.rx.TryRecv()
	assert.False(t, ok, "no phantom duplicates")

	_, sent, err = h.step(0)
	require.NoError(t, err)
	assert.Zero(t, sent)
	_, ok = h.rx.TryRecv()
	assert.False(t, ok)
	assert.Equal(t, gpu.StateIdle, h.resources[id].State())
}

func TestReadbackTagsEveryVolume(t *testing.T) {
	h := newHarness(t, soft.Options{})
	a := h.add(uniformVolume(t, 2, 1), true)
	b := h.add(sphereVolume(t, 4), true)

	_, sent, err := h.step(0)
	require.NoError(t, err)
	require.Equal(t, 2, sent)

	got := map[volume.Id]readback.Message{}
	for {
		msg, ok := h.rx.TryRecv()
		if !ok {
			break
		}
		got[msg.Volume] = msg
	}
	require.Len(t, got, 2)
	assert.Len(t, got[a].Words, 2*4)
	assert.Len(t, got[b].Words, 4*4)
}

func TestEndToEndSolidCube(t *testing.T) {
	h := newHarness(t, soft.Options{})
	h.add(uniformVolume(t, 2, 1), true)

	_, sent, err := h.step(time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	msg, ok := h.rx.TryRecv()
	require.True(t, ok)
	// Every corner is inside, so no cell crosses the surface.
	assert.Equal(t, gpu.AtomicCounters{VerticesHead: 0, IndicesHead: 0}, msg.Counters)
	assert.Empty(t, msg.Vertices())
	assert.Equal(t, make([]uint32, 8), msg.Words)
}

func TestEndToEndSingleCorner(t *testing.T) {
	h := newHarness(t, soft.Options{})
	desc := uniformVolume(t, 2, 0)
	desc.Set(0, 0, 0, volume.NewVoxel(5, 1))
	h.add(desc, true)

	_, _, err := h.step(0)
	require.NoError(t, err)
	msg, ok := h.rx.TryRecv()
	require.True(t, ok)
	assert.Equal(t, gpu.AtomicCounters{VerticesHead: 3, IndicesHead: 3}, msg.Counters)

	// Two vertex records fit in a chunk-size-2 staging copy.
	assert.Equal(t, []mgl32.Vec4{{0.5, 0, 0, 5}, {0, 0.5, 0, 5}}, msg.Vertices())
}

func TestMapFailureIsFatal(t *testing.T) {
	h := newHarness(t, soft.Options{FailMaps: true})
	id := h.add(uniformVolume(t, 2, 1), true)

	_, sent, err := h.step(0)
	assert.ErrorIs(t, err, gpu.ErrMapFailed)
	assert.Zero(t, sent)
	assert.Equal(t, gpu.StateIdle, h.resources[id].State())
}

func TestMapTimeout(t *testing.T) {
	h := newHarness(t, soft.Options{HoldMaps: true})
	h.add(uniformVolume(t, 2, 1), true)

	_, _, err := h.step(5 * time.Millisecond)
	assert.ErrorIs(t, err, gpu.ErrMapTimeout)
}

func TestMapWaitHonoursContext(t *testing.T) {
	h := newHarness(t, soft.Options{HoldMaps: true})
	h.add(uniformVolume(t, 2, 1), true)
	_, err := h.node.Run(h.device, h.pipeline, h.resources, h.bindings)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = gpu.MapAndRead(ctx, h.device, h.resources, 1, 0, h.tx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClosedReceiverIsFatal(t *testing.T) {
	h := newHarness(t, soft.Options{})
	id := h.add(uniformVolume(t, 2, 1), true)
	h.rx.Close()

	_, sent, err := h.step(0)
	assert.ErrorIs(t, err, readback.ErrReceiverClosed)
	assert.Zero(t, sent)
	assert.Equal(t, gpu.StateIdle, h.resources[id].State(), "buffer unmapped")
}

func TestDecodeCounters(t *testing.T) {
	header := []byte{9, 0, 0, 0, 12, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	assert.Equal(t, gpu.AtomicCounters{VerticesHead: 9, IndicesHead: 12}, gpu.DecodeCounters(header))
}

func TestExecutionErrorReachesReadback(t *testing.T) {
	h := newHarness(t, soft.Options{})
	id := h.add(sphereVolume(t, 4), true)

	report, err := h.node.Run(h.device, h.pipeline, h.resources, h.bindings)
	require.NoError(t, err)
	require.Len(t, report.Dispatched, 1)

	// The dispatch and the vertex copy now run against a released buffer.
	h.resources[id].Vertices.Release()

	sent, err := gpu.MapAndRead(context.Background(), h.device, h.resources, 1, 0, h.tx)
	require.ErrorIs(t, err, gpu.ErrDevice)
	assert.Contains(t, err.Error(), "released buffer")
	assert.Zero(t, sent)
	_, ok := h.rx.TryRecv()
	assert.False(t, ok, "undefined staging data is not delivered")
	assert.Equal(t, gpu.StateIdle, h.resources[id].State(), "buffer unmapped")
}

func TestExecutionErrorReachesNode(t *testing.T) {
	h := newHarness(t, soft.Options{})
	h.add(uniformVolume(t, 2, 1), true)

	spare, err := h.device.CreateBuffer(gpu.BufferDescriptor{
		Label: "spare",
		Size:  4,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	require.NoError(t, err)
	require.NoError(t, h.device.WriteBuffer(spare, 0, []byte{1, 2, 3, 4}))
	spare.Release()
	h.device.Poll(true)
	require.Error(t, h.device.Err())

	_, err = h.node.Run(h.device, h.pipeline, h.resources, h.bindings)
	assert.ErrorIs(t, err, gpu.ErrDevice)
}

func TestReadbackSeesCopiesSubmittedBeforeMap(t *testing.T) {
	h := newHarness(t, soft.Options{})
	desc := sphereVolume(t, 8)
	h.add(desc, true)

	_, sent, err := h.step(time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	require.NoError(t, h.device.Err())

	msg, ok := h.rx.TryRecv()
	require.True(t, ok)
	want := uint32(mc.Triangles(desc) * 3)
	require.NotZero(t, want)
	assert.Equal(t, want, msg.Counters.VerticesHead)
	assert.NotEqual(t, make([]uint32, len(msg.Words)), msg.Words, "vertex words copied")
}
