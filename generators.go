package voxmesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

// VolumeGenerator fills a volume of the given chunk size.
type VolumeGenerator interface {
	Generate(chunkSize uint32) (volume.Descriptor, error)
}

// HeightfieldGenerator is flat ground: solid up to Height-1, then a linear
// density ramp over one voxel, then air.
type HeightfieldGenerator struct {
	// Height defaults to 12.
	Height float32
	Flags  uint32
}

func (g HeightfieldGenerator) Generate(chunkSize uint32) (volume.Descriptor, error) {
	desc, err := volume.NewDescriptor(chunkSize)
	if err != nil {
		return desc, err
	}
	top := g.Height
	if top == 0 {
		top = 12
	}
	for z := uint32(0); z < chunkSize; z++ {
		for y := uint32(0); y < chunkSize; y++ {
			h := top - float32(y)
			var density float32
			switch {
			case h > 1:
				density = 1
			case h > 0:
				density = h
			}
			for x := uint32(0); x < chunkSize; x++ {
				desc.Set(x, y, z, volume.NewVoxel(g.Flags, density))
			}
		}
	}
	return desc, nil
}

// UniformGenerator sets every voxel to Voxel.
type UniformGenerator struct {
	Voxel volume.Voxel
}

func (g UniformGenerator) Generate(chunkSize uint32) (volume.Descriptor, error) {
	desc, err := volume.NewDescriptor(chunkSize)
	if err != nil {
		return desc, err
	}
	for i := range desc.Voxels {
		desc.Voxels[i] = g.Voxel
	}
	return desc, nil
}

// SphereGenerator is a solid ball centred in the chunk whose density falls
// off linearly over one voxel at Radius.
type SphereGenerator struct {
	// Radius defaults to a third of the chunk size.
	Radius float32
	Flags  uint32
}

func (g SphereGenerator) Generate(chunkSize uint32) (volume.Descriptor, error) {
	desc, err := volume.NewDescriptor(chunkSize)
	if err != nil {
		return desc, err
	}
	radius := g.Radius
	if radius == 0 {
		radius = float32(chunkSize) / 3
	}
	c := float32(chunkSize-1) / 2
	center := mgl32.Vec3{c, c, c}
	for z := uint32(0); z < chunkSize; z++ {
		for y := uint32(0); y < chunkSize; y++ {
			for x := uint32(0); x < chunkSize; x++ {
				d := mgl32.Vec3{float32(x), float32(y), float32(z)}.Sub(center).Len()
				density := mgl32.Clamp(radius+0.5-d, 0, 1)
				desc.Set(x, y, z, volume.NewVoxel(g.Flags, density))
			}
		}
	}
	return desc, nil
}
