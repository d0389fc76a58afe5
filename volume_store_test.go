package voxmesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

func solidDescriptor(t *testing.T, n uint32) volume.Descriptor {
	t.Helper()
	desc, err := UniformGenerator{Voxel: volume.DefaultVoxel()}.Generate(n)
	require.NoError(t, err)
	return desc
}

func TestVolumeStore_SpawnReplaceDespawn(t *testing.T) {
	store := NewVolumeStore()
	id, err := store.Spawn(solidDescriptor(t, 2))
	require.NoError(t, err)

	e, ok := store.Get(id)
	require.True(t, ok)
	assert.True(t, e.Added)
	first := e.Version

	require.NoError(t, store.Replace(id, solidDescriptor(t, 4)))
	e, _ = store.Get(id)
	assert.Greater(t, e.Version, first)
	assert.Equal(t, uint32(4), e.Descriptor.ChunkSize)

	rev := store.Revision()
	store.Despawn(id)
	assert.Greater(t, store.Revision(), rev)
	_, ok = store.Get(id)
	assert.False(t, ok)
	assert.Zero(t, store.Len())

	store.Despawn(id)
	assert.ErrorIs(t, store.Replace(id, solidDescriptor(t, 2)), ErrUnknownVolume)
}

func TestVolumeStore_RejectsInvalidDescriptors(t *testing.T) {
	store := NewVolumeStore()
	_, err := store.Spawn(volume.Descriptor{ChunkSize: 2, Voxels: make([]volume.Voxel, 3)})
	assert.ErrorIs(t, err, volume.ErrVoxelCountMismatch)

	_, err = store.Spawn(volume.Descriptor{})
	assert.ErrorIs(t, err, volume.ErrZeroChunkSize)
	assert.Zero(t, store.Len())
}

func TestVolumeStore_CopiesDescriptors(t *testing.T) {
	store := NewVolumeStore()
	desc := solidDescriptor(t, 2)
	id, err := store.Spawn(desc)
	require.NoError(t, err)

	desc.Voxels[0].Density = 0
	e, _ := store.Get(id)
	assert.Equal(t, float32(1), e.Descriptor.Voxels[0].Density)
}

func TestVolumeStore_IdsSorted(t *testing.T) {
	store := NewVolumeStore()
	for i := 0; i < 5; i++ {
		_, err := store.Spawn(solidDescriptor(t, 2))
		require.NoError(t, err)
	}
	ids := store.Ids()
	require.Len(t, ids, 5)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}

func TestCommands_SpawnVolumeIsDeferred(t *testing.T) {
	store := NewVolumeStore()
	app := NewAppBuilder().Build()
	app.addResources(store)

	var id volume.Id
	app.UseSystem(System(func(cmd *Commands) {
		if id == "" {
			id = cmd.SpawnVolume(solidDescriptor(t, 2))
			_, ok := store.Get(id)
			assert.False(t, ok, "spawn waits for the stage flush")
		}
	}))
	require.NoError(t, app.Step())

	_, ok := store.Get(id)
	assert.True(t, ok)

	app.UseSystem(System(func(cmd *Commands) { cmd.DespawnVolume(id) }).InStage(Finale))
	require.NoError(t, app.Step())
	assert.Zero(t, store.Len())
}
