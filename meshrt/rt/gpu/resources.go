package gpu

import (
	"errors"
	"fmt"
	"maps"
	"math/bits"
	"slices"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/voxmesh/meshrt/rt/tables"
	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

// Record sizes in bytes, matching the shader's storage declarations.
const (
	VertexRecordSize = 16 // vec4<f32>: position, flags
	NormalRecordSize = 16 // vec4<f32>
	UvRecordSize     = 8  // vec2<f32>
	IndexRecordSize  = 4  // u32
	AtomicsSize      = 8  // vertices_head, indices_head

	// OutputsPerCell is the worst-case number of output elements a cell
	// reserves in every per-cell output array.
	OutputsPerCell = 24

	// StagingHeaderSize prefixes the staged vertex records with the atomic
	// counters, padded to one vertex record.
	StagingHeaderSize = 16
)

var (
	ErrBufferSizeOverflow = errors.New("gpu: buffer size overflows")
	ErrBufferTooLarge     = errors.New("gpu: buffer exceeds device limit")
)

// DispatchState tracks one volume through a meshing round.
type DispatchState int32

const (
	StateIdle DispatchState = iota
	StateDispatching
	StateCopying
)

func (s DispatchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateCopying:
		return "copying"
	}
	return fmt.Sprintf("DispatchState(%d)", int32(s))
}

// Capacities are worst-case element counts for a chunk size.
type Capacities struct {
	Voxels   uint64
	Vertices uint64
	Normals  uint64
	Uvs      uint64
	Indices  uint64
	Atomics  uint64
}

func CapacitiesFor(chunkSize uint32) (Capacities, error) {
	voxels, err := volume.VoxelCount(chunkSize)
	if err != nil {
		return Capacities{}, err
	}
	hi, outputs := bits.Mul64(voxels, OutputsPerCell)
	if hi != 0 {
		return Capacities{}, fmt.Errorf("%w: %d cells x %d outputs", ErrBufferSizeOverflow, voxels, OutputsPerCell)
	}
	return Capacities{
		Voxels:   voxels,
		Vertices: outputs,
		Normals:  outputs,
		Uvs:      outputs,
		Indices:  outputs,
		Atomics:  2,
	}, nil
}

// BufferSizes are the byte sizes of every per-volume buffer.
type BufferSizes struct {
	Voxels          uint64
	EdgeTable       uint64
	TriangleTable   uint64
	Atomics         uint64
	Vertices        uint64
	Normals         uint64
	Uvs             uint64
	Indices         uint64
	StagingVertices uint64
}

func BufferSizesFor(chunkSize uint32) (BufferSizes, error) {
	c, err := CapacitiesFor(chunkSize)
	if err != nil {
		return BufferSizes{}, err
	}
	var s BufferSizes
	for _, f := range []struct {
		dst   *uint64
		count uint64
		size  uint64
		name  string
	}{
		{&s.Voxels, c.Voxels, volume.VoxelSize, "voxels"},
		{&s.Vertices, c.Vertices, VertexRecordSize, "vertices"},
		{&s.Normals, c.Normals, NormalRecordSize, "normals"},
		{&s.Uvs, c.Uvs, UvRecordSize, "uvs"},
		{&s.Indices, c.Indices, IndexRecordSize, "indices"},
	} {
		hi, lo := bits.Mul64(f.count, f.size)
		if hi != 0 {
			return BufferSizes{}, fmt.Errorf("%w: %s %d x %d bytes", ErrBufferSizeOverflow, f.name, f.count, f.size)
		}
		*f.dst = lo
	}
	s.EdgeTable = tables.Cases * 4
	s.TriangleTable = tables.Cases * tables.RowLength * 4
	s.Atomics = AtomicsSize
	s.StagingVertices = StagingHeaderSize + uint64(chunkSize)*VertexRecordSize
	return s, nil
}

func (s BufferSizes) check(limits Limits) error {
	for _, b := range []struct {
		name    string
		size    uint64
		storage bool
	}{
		{"voxels", s.Voxels, true},
		{"vertices", s.Vertices, true},
		{"normals", s.Normals, true},
		{"uvs", s.Uvs, true},
		{"indices", s.Indices, true},
		{"staging", s.StagingVertices, false},
	} {
		if limits.MaxBufferSize != 0 && b.size > limits.MaxBufferSize {
			return fmt.Errorf("%w: %s needs %d bytes, max buffer size %d", ErrBufferTooLarge, b.name, b.size, limits.MaxBufferSize)
		}
		if b.storage && limits.MaxStorageBufferBindingSize != 0 && b.size > limits.MaxStorageBufferBindingSize {
			return fmt.Errorf("%w: %s needs %d bytes, max storage binding %d", ErrBufferTooLarge, b.name, b.size, limits.MaxStorageBufferBindingSize)
		}
	}
	return nil
}

// DeviceVolumeResources owns every device buffer of one volume.
type DeviceVolumeResources struct {
	Voxels          Buffer
	EdgeTable       Buffer
	TriangleTable   Buffer
	Atomics         Buffer
	Vertices        Buffer
	Normals         Buffer
	Indices         Buffer
	Uvs             Buffer
	StagingVertices Buffer

	ChunkSize uint32
	// Version is the store version of the descriptor last uploaded.
	Version uint64
	// Generation changes whenever a buffer handle is replaced; binding sets
	// built against an older generation are stale.
	Generation uint64

	uploaded          bool
	dispatchedVersion uint64
	dispatched        bool

	stateMu sync.Mutex
	state   DispatchState
}

// NewDeviceVolumeResources allocates and uploads everything one volume needs.
func NewDeviceVolumeResources(device Device, desc volume.Descriptor, version uint64) (*DeviceVolumeResources, error) {
	r := &DeviceVolumeResources{}
	if err := r.Rebuild(device, desc, version); err != nil {
		r.Release()
		return nil, err
	}
	return r, nil
}

// Rebuild re-uploads desc, reusing buffers whose size already matches.
// Output buffers and counters are cleared, so identical descriptors leave
// identical device contents.
func (r *DeviceVolumeResources) Rebuild(device Device, desc volume.Descriptor, version uint64) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	sizes, err := BufferSizesFor(desc.ChunkSize)
	if err != nil {
		return err
	}
	if err := sizes.check(device.Limits()); err != nil {
		return err
	}
	if r.State() != StateIdle {
		return fmt.Errorf("gpu: rebuild while %s", r.State())
	}

	r.uploaded = false
	replaced := false
	for _, b := range []struct {
		label string
		buf   *Buffer
		size  uint64
		usage wgpu.BufferUsage
		data  []byte
		zero  bool
	}{
		{"Voxels", &r.Voxels, sizes.Voxels, wgpu.BufferUsageStorage, desc.Bytes(), false},
		{"EdgeTable", &r.EdgeTable, sizes.EdgeTable, wgpu.BufferUsageStorage, tables.EdgeTableBytes(), false},
		{"TriangleTable", &r.TriangleTable, sizes.TriangleTable, wgpu.BufferUsageStorage, tables.TriTableBytes(), false},
		{"Atomics", &r.Atomics, sizes.Atomics, wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc, nil, true},
		{"Vertices", &r.Vertices, sizes.Vertices, wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc, nil, true},
		{"Normals", &r.Normals, sizes.Normals, wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc, nil, true},
		{"Indices", &r.Indices, sizes.Indices, wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc, nil, true},
		{"Uvs", &r.Uvs, sizes.Uvs, wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc, nil, true},
		{"StagingVertices", &r.StagingVertices, sizes.StagingVertices, wgpu.BufferUsageMapRead, nil, false},
	} {
		created, err := ensureBuffer(device, b.label, b.buf, b.size, b.usage, b.data, b.zero)
		if err != nil {
			return err
		}
		replaced = replaced || created
	}

	if replaced {
		r.Generation++
	}
	r.ChunkSize = desc.ChunkSize
	r.Version = version
	r.uploaded = true
	return nil
}

// ensureBuffer makes *buf a buffer of exactly size bytes and uploads data.
// The shader derives the chunk size from arrayLength, so a larger buffer is
// never reused. A reused buffer is cleared when zero is set; new buffers
// start zeroed.
func ensureBuffer(device Device, label string, buf *Buffer, size uint64, usage wgpu.BufferUsage, data []byte, zero bool) (bool, error) {
	usage |= wgpu.BufferUsageCopyDst

	current := *buf
	created := false
	if current == nil || current.Size() != size || current.Usage() != usage {
		if current != nil {
			current.Release()
			*buf = nil
		}
		newBuf, err := device.CreateBuffer(BufferDescriptor{Label: label, Size: size, Usage: usage})
		if err != nil {
			return false, err
		}
		*buf = newBuf
		created = true
	}

	switch {
	case len(data) > 0:
		if err := device.WriteBuffer(*buf, 0, data); err != nil {
			return created, fmt.Errorf("gpu: upload %s: %w", label, err)
		}
	case zero && !created:
		if err := device.WriteBuffer(*buf, 0, make([]byte, size)); err != nil {
			return created, fmt.Errorf("gpu: clear %s: %w", label, err)
		}
	}
	return created, nil
}

// Uploaded reports whether every buffer holds the current descriptor.
func (r *DeviceVolumeResources) Uploaded() bool {
	return r.uploaded
}

// Buffers lists every buffer handle, nil ones included.
func (r *DeviceVolumeResources) Buffers() []Buffer {
	return []Buffer{r.Voxels, r.EdgeTable, r.TriangleTable, r.Atomics, r.Vertices, r.Normals, r.Indices, r.Uvs, r.StagingVertices}
}

// NeedsDispatch reports whether the uploaded version has not been meshed yet.
func (r *DeviceVolumeResources) NeedsDispatch(everyRound bool) bool {
	if everyRound {
		return true
	}
	return !r.dispatched || r.dispatchedVersion != r.Version
}

func (r *DeviceVolumeResources) markDispatched() {
	r.dispatched = true
	r.dispatchedVersion = r.Version
}

func (r *DeviceVolumeResources) State() DispatchState {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

func (r *DeviceVolumeResources) setState(s DispatchState) {
	r.stateMu.Lock()
	r.state = s
	r.stateMu.Unlock()
}

// VertexCopySize is the number of vertex bytes staged per round.
func (r *DeviceVolumeResources) VertexCopySize() uint64 {
	return uint64(r.ChunkSize) * VertexRecordSize
}

func (r *DeviceVolumeResources) Release() {
	for _, b := range []*Buffer{&r.Voxels, &r.EdgeTable, &r.TriangleTable, &r.Atomics, &r.Vertices, &r.Normals, &r.Indices, &r.Uvs, &r.StagingVertices} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
	r.uploaded = false
}

// SortedIds returns the keys of a per-volume table in a stable order.
func SortedIds[T any](m map[volume.Id]T) []volume.Id {
	return slices.Sorted(maps.Keys(m))
}
