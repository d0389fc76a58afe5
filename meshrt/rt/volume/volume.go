package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Id is the opaque handle of one volume. It is stable across rounds and is the
// join key of every per-volume table in both domains.
type Id string

func NewId() Id {
	return Id(uuid.NewString())
}

func (id Id) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// VoxelSize is the device-side size of a Voxel record.
const VoxelSize = 8

type Voxel struct {
	Flags   uint32
	Density float32
}

// DefaultVoxel is fully solid.
func DefaultVoxel() Voxel {
	return Voxel{Flags: 0, Density: 1.0}
}

func NewVoxel(flags uint32, density float32) Voxel {
	return Voxel{Flags: flags, Density: density}
}

var (
	ErrZeroChunkSize      = errors.New("volume: chunk size must be greater than zero")
	ErrVoxelCountMismatch = errors.New("volume: voxel count does not match chunk size")
	ErrChunkSizeOverflow  = errors.New("volume: chunk size overflows voxel count")
)

// Descriptor is the CPU-resident content of one volume: ChunkSize³ voxels laid
// out x-fastest (x + y*n + z*n*n).
type Descriptor struct {
	Voxels    []Voxel
	ChunkSize uint32
}

// NewDescriptor returns a descriptor filled with DefaultVoxel.
func NewDescriptor(chunkSize uint32) (Descriptor, error) {
	count, err := VoxelCount(chunkSize)
	if err != nil {
		return Descriptor{}, err
	}
	voxels := make([]Voxel, count)
	for i := range voxels {
		voxels[i] = DefaultVoxel()
	}
	return Descriptor{Voxels: voxels, ChunkSize: chunkSize}, nil
}

// VoxelCount returns n³, failing on zero or on overflow of the addressable size.
func VoxelCount(chunkSize uint32) (uint64, error) {
	if chunkSize == 0 {
		return 0, ErrZeroChunkSize
	}
	n := uint64(chunkSize)
	// n <= 2^21 keeps n³ inside uint64.
	if n > 1<<21 {
		return 0, fmt.Errorf("%w: %d", ErrChunkSizeOverflow, chunkSize)
	}
	return n * n * n, nil
}

func (d *Descriptor) Validate() error {
	count, err := VoxelCount(d.ChunkSize)
	if err != nil {
		return err
	}
	if uint64(len(d.Voxels)) != count {
		return fmt.Errorf("%w: have %d voxels, chunk size %d needs %d", ErrVoxelCountMismatch, len(d.Voxels), d.ChunkSize, count)
	}
	return nil
}

func (d *Descriptor) Index(x, y, z uint32) int {
	n := d.ChunkSize
	return int(x + y*n + z*n*n)
}

func (d *Descriptor) At(x, y, z uint32) Voxel {
	return d.Voxels[d.Index(x, y, z)]
}

func (d *Descriptor) Set(x, y, z uint32, v Voxel) {
	d.Voxels[d.Index(x, y, z)] = v
}

// Clone returns a deep copy. Published descriptors are never mutated, so the
// store clones before handing one to a generator or an editor.
func (d Descriptor) Clone() Descriptor {
	voxels := make([]Voxel, len(d.Voxels))
	copy(voxels, d.Voxels)
	return Descriptor{Voxels: voxels, ChunkSize: d.ChunkSize}
}

// Bytes encodes the voxels in device layout: {flags u32, density f32} little-endian.
func (d *Descriptor) Bytes() []byte {
	buf := make([]byte, len(d.Voxels)*VoxelSize)
	for i, v := range d.Voxels {
		off := i * VoxelSize
		binary.LittleEndian.PutUint32(buf[off:], v.Flags)
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(v.Density))
	}
	return buf
}

// DecodeVoxels is the inverse of Descriptor.Bytes.
func DecodeVoxels(data []byte) []Voxel {
	voxels := make([]Voxel, len(data)/VoxelSize)
	for i := range voxels {
		off := i * VoxelSize
		voxels[i] = Voxel{
			Flags:   binary.LittleEndian.Uint32(data[off:]),
			Density: math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:])),
		}
	}
	return voxels
}
