package gpu

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

// Binding slots of the mesh compute program, group 0.
const (
	SlotEdgeTable uint32 = iota
	SlotTriangleTable
	SlotVoxels
	SlotAtomics
	SlotVertices
	SlotNormals
	SlotIndices
	SlotUvs

	BindingSlots = 8
)

var ErrBufferNotUploaded = errors.New("gpu: buffer not uploaded")

// LayoutEntries describes the 8-slot layout: lookup tables and voxels are
// read-only, counters and outputs are read-write.
func LayoutEntries() []wgpu.BindGroupLayoutEntry {
	entries := make([]wgpu.BindGroupLayoutEntry, BindingSlots)
	for slot := uint32(0); slot < BindingSlots; slot++ {
		kind := wgpu.BufferBindingTypeStorage
		if slot <= SlotVoxels {
			kind = wgpu.BufferBindingTypeReadOnlyStorage
		}
		entries[slot] = wgpu.BindGroupLayoutEntry{
			Binding:    slot,
			Visibility: wgpu.ShaderStageCompute,
			Buffer: wgpu.BufferBindingLayout{
				Type: kind,
			},
		}
	}
	return entries
}

// BindingSet exposes one volume's buffers to the compute program. It refers
// to buffers owned by DeviceVolumeResources and must not outlive them.
type BindingSet struct {
	Group   BindGroup
	Entries [BindingSlots]BufferBinding
	// Generation is the resources generation the set was built against.
	Generation uint64
}

// BuildBindingSet binds res in fixed slot order.
func BuildBindingSet(device Device, layout BindGroupLayout, id volume.Id, res *DeviceVolumeResources) (*BindingSet, error) {
	if res == nil || !res.Uploaded() {
		return nil, fmt.Errorf("%w: volume %s", ErrBufferNotUploaded, id.Short())
	}

	bs := &BindingSet{Generation: res.Generation}
	for slot, buf := range [BindingSlots]Buffer{
		SlotEdgeTable:     res.EdgeTable,
		SlotTriangleTable: res.TriangleTable,
		SlotVoxels:        res.Voxels,
		SlotAtomics:       res.Atomics,
		SlotVertices:      res.Vertices,
		SlotNormals:       res.Normals,
		SlotIndices:       res.Indices,
		SlotUvs:           res.Uvs,
	} {
		if buf == nil || buf.Size() == 0 {
			return nil, fmt.Errorf("%w: volume %s slot %d", ErrBufferNotUploaded, id.Short(), slot)
		}
		bs.Entries[slot] = BufferBinding{Binding: uint32(slot), Buffer: buf}
	}

	group, err := device.CreateBindGroup("MeshCompute "+id.Short(), layout, bs.Entries[:])
	if err != nil {
		return nil, err
	}
	bs.Group = group
	return bs, nil
}

// Stale reports whether res replaced a buffer since the set was built.
func (b *BindingSet) Stale(res *DeviceVolumeResources) bool {
	return b.Generation != res.Generation
}

func (b *BindingSet) Release() {
	if b.Group != nil {
		b.Group.Release()
		b.Group = nil
	}
}
