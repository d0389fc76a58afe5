package gpu_test

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxmesh/meshrt/rt/gpu"
	"github.com/gekko3d/voxmesh/meshrt/rt/gpu/soft"
	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

func TestLayoutEntries(t *testing.T) {
	entries := gpu.LayoutEntries()
	require.Len(t, entries, gpu.BindingSlots)
	for i, e := range entries {
		assert.Equal(t, uint32(i), e.Binding)
		assert.Equal(t, wgpu.ShaderStageCompute, e.Visibility)
		if uint32(i) <= gpu.SlotVoxels {
			assert.Equal(t, wgpu.BufferBindingTypeReadOnlyStorage, e.Buffer.Type, "slot %d", i)
		} else {
			assert.Equal(t, wgpu.BufferBindingTypeStorage, e.Buffer.Type, "slot %d", i)
		}
	}
}

func TestBindingSetReferencesEverySlot(t *testing.T) {
	log := &testLogger{}
	device := newDevice(soft.Options{})
	p := readyPipeline(t, device, log)
	id := volume.NewId()
	res, err := gpu.NewDeviceVolumeResources(device, uniformVolume(t, 4, 1), 1)
	require.NoError(t, err)

	bs, err := gpu.BuildBindingSet(device, p.Layout, id, res)
	require.NoError(t, err)

	want := map[uint32]gpu.Buffer{
		gpu.SlotEdgeTable:     res.EdgeTable,
		gpu.SlotTriangleTable: res.TriangleTable,
		gpu.SlotVoxels:        res.Voxels,
		gpu.SlotAtomics:       res.Atomics,
		gpu.SlotVertices:      res.Vertices,
		gpu.SlotNormals:       res.Normals,
		gpu.SlotIndices:       res.Indices,
		gpu.SlotUvs:           res.Uvs,
	}
	group := bs.Group.(*soft.BindGroup)
	for slot, buf := range want {
		assert.Equal(t, slot, bs.Entries[slot].Binding)
		assert.Same(t, buf, bs.Entries[slot].Buffer, "slot %d", slot)
		assert.Same(t, buf, group.Buffer(slot), "slot %d", slot)
		assert.NotZero(t, buf.Size())
	}
	for _, e := range bs.Entries {
		assert.NotSame(t, res.StagingVertices, e.Buffer, "staging is never bound")
	}
}

func TestBindingUnuploadedResourcesFails(t *testing.T) {
	log := &testLogger{}
	device := newDevice(soft.Options{})
	p := readyPipeline(t, device, log)

	_, err := gpu.BuildBindingSet(device, p.Layout, volume.NewId(), &gpu.DeviceVolumeResources{})
	assert.ErrorIs(t, err, gpu.ErrBufferNotUploaded)

	_, err = gpu.BuildBindingSet(device, p.Layout, volume.NewId(), nil)
	assert.ErrorIs(t, err, gpu.ErrBufferNotUploaded)

	res, err := gpu.NewDeviceVolumeResources(device, uniformVolume(t, 2, 1), 1)
	require.NoError(t, err)
	res.Release()
	_, err = gpu.BuildBindingSet(device, p.Layout, volume.NewId(), res)
	assert.ErrorIs(t, err, gpu.ErrBufferNotUploaded)
}

func TestBindingSetGoesStaleOnReallocation(t *testing.T) {
	log := &testLogger{}
	device := newDevice(soft.Options{})
	p := readyPipeline(t, device, log)
	id := volume.NewId()
	res, err := gpu.NewDeviceVolumeResources(device, uniformVolume(t, 2, 1), 1)
	require.NoError(t, err)
	bs, err := gpu.BuildBindingSet(device, p.Layout, id, res)
	require.NoError(t, err)

	require.NoError(t, res.Rebuild(device, uniformVolume(t, 2, 0.2), 2))
	assert.False(t, bs.Stale(res), "same-size rebuild keeps handles")

	require.NoError(t, res.Rebuild(device, uniformVolume(t, 4, 0.2), 3))
	assert.True(t, bs.Stale(res))
}
