package voxmesh

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

const VOXMagicNumber = "VOX "

var ErrNotVox = errors.New("not a valid VOX file")

type VoxVoxel struct {
	X, Y, Z, ColorIndex byte
}

type VoxModel struct {
	SizeX, SizeY, SizeZ uint32
	Voxels              []VoxVoxel
}

// VoxFile holds the models of a MagicaVoxel file. Palettes and materials are
// skipped; the colour index is kept per voxel.
type VoxFile struct {
	Version int
	Models  []VoxModel
}

func LoadVoxFile(filename string) (*VoxFile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ReadVoxFile(bytes.NewReader(data))
}

func ReadVoxFile(r io.Reader) (*VoxFile, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if string(magic[:]) != VOXMagicNumber {
		return nil, ErrNotVox
	}

	var version int32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	vf := &VoxFile{Version: int(version)}

	for {
		var header struct {
			ID           [4]byte
			Size         int32
			ChildrenSize int32
		}
		if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if header.Size < 0 {
			return nil, fmt.Errorf("vox: chunk %q has negative size", header.ID[:])
		}
		data := make([]byte, header.Size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}

		switch string(header.ID[:]) {
		case "SIZE":
			if len(data) < 12 {
				return nil, errors.New("vox: SIZE chunk too small")
			}
			vf.Models = append(vf.Models, VoxModel{
				SizeX: binary.LittleEndian.Uint32(data[0:4]),
				SizeY: binary.LittleEndian.Uint32(data[4:8]),
				SizeZ: binary.LittleEndian.Uint32(data[8:12]),
			})
		case "XYZI":
			if len(vf.Models) == 0 || len(data) < 4 {
				return nil, errors.New("vox: XYZI chunk without SIZE")
			}
			model := &vf.Models[len(vf.Models)-1]
			count := binary.LittleEndian.Uint32(data[:4])
			if uint64(len(data)) < 4+uint64(count)*4 {
				return nil, errors.New("vox: XYZI chunk data overflow")
			}
			model.Voxels = make([]VoxVoxel, count)
			for i := range model.Voxels {
				o := 4 + i*4
				model.Voxels[i] = VoxVoxel{X: data[o], Y: data[o+1], Z: data[o+2], ColorIndex: data[o+3]}
			}
		}
	}
	return vf, nil
}

// VoxModelGenerator fills a volume from one model of a .vox file. MagicaVoxel
// is z-up, so its z becomes the volume's y. Voxels outside the chunk are
// dropped; the colour index becomes the voxel flags.
type VoxModelGenerator struct {
	Path  string
	Model int
}

func (g VoxModelGenerator) Generate(chunkSize uint32) (volume.Descriptor, error) {
	vf, err := LoadVoxFile(g.Path)
	if err != nil {
		return volume.Descriptor{}, fmt.Errorf("load %s: %w", g.Path, err)
	}
	return vf.Descriptor(g.Model, chunkSize)
}

// Descriptor converts model index into an empty-by-default volume.
func (vf *VoxFile) Descriptor(index int, chunkSize uint32) (volume.Descriptor, error) {
	if index < 0 || index >= len(vf.Models) {
		return volume.Descriptor{}, fmt.Errorf("vox: model %d out of range (%d models)", index, len(vf.Models))
	}
	desc, err := volume.NewDescriptor(chunkSize)
	if err != nil {
		return desc, err
	}
	for i := range desc.Voxels {
		desc.Voxels[i] = volume.NewVoxel(0, 0)
	}
	for _, v := range vf.Models[index].Voxels {
		x, y, z := uint32(v.X), uint32(v.Z), uint32(v.Y)
		if x >= chunkSize || y >= chunkSize || z >= chunkSize {
			continue
		}
		desc.Set(x, y, z, volume.NewVoxel(uint32(v.ColorIndex), 1))
	}
	return desc, nil
}
