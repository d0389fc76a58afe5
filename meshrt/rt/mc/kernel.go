// Package mc runs the marching-cubes compute program on the CPU. It reads and
// writes the same slot layout and records as shaders/marching_cubes.wgsl.
package mc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/voxmesh/meshrt/rt/shaders"
	"github.com/gekko3d/voxmesh/meshrt/rt/tables"
	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

// IsoLevel separates inside (density >= IsoLevel) from outside.
const IsoLevel = 0.5

// Binding slots, mirroring the shader.
const (
	slotEdgeTable = iota
	slotTriangleTable
	slotVoxels
	slotAtomics
	slotVertices
	slotNormals
	slotIndices
	slotUvs
)

var ErrMissingSlot = errors.New("mc: missing binding")

type bindings struct {
	edges, tris, voxels, atomics, vertices, normals, indices, uvs []byte
}

// Kernel executes one dispatch of workgroups 4x4x4 invocations each.
// Invocations run in x-fastest order, so output order is deterministic.
func Kernel(workgroups [3]uint32, slots map[uint32][]byte) error {
	var b bindings
	for _, s := range []struct {
		slot uint32
		dst  *[]byte
	}{
		{slotEdgeTable, &b.edges},
		{slotTriangleTable, &b.tris},
		{slotVoxels, &b.voxels},
		{slotAtomics, &b.atomics},
		{slotVertices, &b.vertices},
		{slotNormals, &b.normals},
		{slotIndices, &b.indices},
		{slotUvs, &b.uvs},
	} {
		data, ok := slots[s.slot]
		if !ok {
			return fmt.Errorf("%w: slot %d", ErrMissingSlot, s.slot)
		}
		*s.dst = data
	}
	if len(b.atomics) < 8 {
		return fmt.Errorf("mc: atomics binding has %d bytes", len(b.atomics))
	}

	n := chunkSize(uint32(len(b.voxels) / volume.VoxelSize))
	const w = shaders.WorkgroupSize
	for z := uint32(0); z < workgroups[2]*w; z++ {
		for y := uint32(0); y < workgroups[1]*w; y++ {
			for x := uint32(0); x < workgroups[0]*w; x++ {
				b.invoke(n, [3]uint32{x, y, z})
			}
		}
	}
	return nil
}

// chunkSize is the integer cube root of the voxel count.
func chunkSize(count uint32) uint32 {
	n := uint32(0)
	for uint64(n+1)*uint64(n+1)*uint64(n+1) <= uint64(count) {
		n++
	}
	return n
}

func (b *bindings) voxel(i uint32) (flags uint32, density float32) {
	off := i * volume.VoxelSize
	return binary.LittleEndian.Uint32(b.voxels[off:]), math.Float32frombits(binary.LittleEndian.Uint32(b.voxels[off+4:]))
}

func (b *bindings) tri(c uint32, i uint32) int32 {
	return int32(binary.LittleEndian.Uint32(b.tris[(c*tables.RowLength+i)*4:]))
}

func (b *bindings) atomicAdd(slot int, v uint32) uint32 {
	old := binary.LittleEndian.Uint32(b.atomics[slot*4:])
	binary.LittleEndian.PutUint32(b.atomics[slot*4:], old+v)
	return old
}

func (b *bindings) invoke(n uint32, id [3]uint32) {
	if n < 2 || id[0] >= n-1 || id[1] >= n-1 || id[2] >= n-1 {
		return
	}

	var density [8]float32
	var cube, flags uint32
	for i := 0; i < 8; i++ {
		p := cornerAt(id, i)
		f, d := b.voxel(p[0] + p[1]*n + p[2]*n*n)
		density[i] = d
		if d >= IsoLevel {
			if cube == 0 {
				flags = f
			}
			cube |= 1 << i
		}
	}

	edges := binary.LittleEndian.Uint32(b.edges[cube*4:])
	if edges == 0 {
		return
	}

	var points [12]mgl32.Vec3
	for e := 0; e < 12; e++ {
		if edges&(1<<e) == 0 {
			continue
		}
		c := tables.EdgeCorners[e]
		points[e] = interpolate(cornerVec(id, c[0]), cornerVec(id, c[1]), density[c[0]], density[c[1]])
	}

	capacity := min(uint32(len(b.vertices)/16), uint32(len(b.indices)/4))
	extent := float32(n - 1)
	for t := uint32(0); t < 15; t += 3 {
		if b.tri(cube, t) < 0 {
			break
		}
		a := points[b.tri(cube, t)]
		bb := points[b.tri(cube, t+1)]
		c := points[b.tri(cube, t+2)]

		base := b.atomicAdd(0, 3)
		ibase := b.atomicAdd(1, 3)
		if base+3 > capacity || ibase+3 > capacity {
			return
		}

		normal := mgl32.Vec3{0, 1, 0}
		cr := bb.Sub(a).Cross(c.Sub(a))
		if l := cr.Len(); l > 1e-12 {
			normal = cr.Mul(1 / l)
		}

		for k, p := range [3]mgl32.Vec3{a, bb, c} {
			v := base + uint32(k)
			putVec4(b.vertices, v, p.Vec4(float32(flags)))
			putVec4(b.normals, v, normal.Vec4(0))
			putVec2(b.uvs, v, mgl32.Vec2{p.X() / extent, p.Z() / extent})
			binary.LittleEndian.PutUint32(b.indices[(ibase+uint32(k))*4:], v)
		}
	}
}

func cornerAt(id [3]uint32, i int) [3]uint32 {
	return [3]uint32{id[0] + uint32(i&1), id[1] + uint32((i>>1)&1), id[2] + uint32((i>>2)&1)}
}

func cornerVec(id [3]uint32, i int) mgl32.Vec3 {
	p := cornerAt(id, i)
	return mgl32.Vec3{float32(p[0]), float32(p[1]), float32(p[2])}
}

func interpolate(p0, p1 mgl32.Vec3, d0, d1 float32) mgl32.Vec3 {
	delta := d1 - d0
	if float32(math.Abs(float64(delta))) < 1e-6 {
		return p0.Add(p1).Mul(0.5)
	}
	t := mgl32.Clamp((IsoLevel-d0)/delta, 0, 1)
	return p0.Add(p1.Sub(p0).Mul(t))
}

func putVec4(dst []byte, i uint32, v mgl32.Vec4) {
	for k := 0; k < 4; k++ {
		binary.LittleEndian.PutUint32(dst[i*16+uint32(k)*4:], math.Float32bits(v[k]))
	}
}

func putVec2(dst []byte, i uint32, v mgl32.Vec2) {
	binary.LittleEndian.PutUint32(dst[i*8:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(dst[i*8+4:], math.Float32bits(v[1]))
}

// Triangles counts the triangles the program emits for desc, before any
// capacity clamp.
func Triangles(desc volume.Descriptor) int {
	n := desc.ChunkSize
	if n < 2 {
		return 0
	}
	total := 0
	for z := uint32(0); z < n-1; z++ {
		for y := uint32(0); y < n-1; y++ {
			for x := uint32(0); x < n-1; x++ {
				cube := 0
				for i := 0; i < 8; i++ {
					p := cornerAt([3]uint32{x, y, z}, i)
					if desc.At(p[0], p[1], p[2]).Density >= IsoLevel {
						cube |= 1 << i
					}
				}
				total += tables.Triangles(cube)
			}
		}
	}
	return total
}
