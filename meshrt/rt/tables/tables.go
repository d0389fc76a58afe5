// Package tables holds the marching-cubes lookup tables consumed by the mesh
// compute program.
//
// Corner i of a cell sits at (i&1, (i>>1)&1, (i>>2)&1). Edges 0-3 run along x,
// 4-7 along y and 8-11 along z; see EdgeCorners. A corner is inside when its
// bit is set in the case index.
//
// The triangle table is derived from the cube topology rather than typed in:
// on every face, each crossing where the boundary walk (counter-clockwise seen
// from outside) enters the inside region is joined to the next crossing where
// it leaves. Ambiguous faces therefore keep diagonal inside corners apart.
// Segments chain into closed loops which are fanned into triangles wound so
// that cross(b-a, c-a) points away from the inside corners.
package tables

import "encoding/binary"

const (
	Cases        = 256
	RowLength    = 16
	MaxTriangles = 5
)

// EdgeCorners lists the two corners joined by each edge.
var EdgeCorners = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// faces lists each face's corners counter-clockwise seen from outside.
var faces = [6][4]int{
	{0, 4, 6, 2}, // -x
	{1, 3, 7, 5}, // +x
	{0, 1, 5, 4}, // -y
	{2, 6, 7, 3}, // +y
	{0, 2, 3, 1}, // -z
	{4, 5, 7, 6}, // +z
}

// EdgeTable has bit e set when edge e crosses the surface.
var EdgeTable [Cases]uint32

// TriTable lists edge triples per case, terminated by -1.
var TriTable [Cases][RowLength]int32

func init() {
	for c := 0; c < Cases; c++ {
		EdgeTable[c] = edgeMask(c)
		TriTable[c] = triangulate(c)
	}
}

func CornerPosition(corner int) [3]float32 {
	return [3]float32{float32(corner & 1), float32((corner >> 1) & 1), float32((corner >> 2) & 1)}
}

func edgeBetween(a, b int) int {
	for e, c := range EdgeCorners {
		if (c[0] == a && c[1] == b) || (c[0] == b && c[1] == a) {
			return e
		}
	}
	panic("tables: corners are not adjacent")
}

func inside(c, corner int) bool {
	return c&(1<<corner) != 0
}

func edgeMask(c int) uint32 {
	var mask uint32
	for e, corners := range EdgeCorners {
		if inside(c, corners[0]) != inside(c, corners[1]) {
			mask |= 1 << e
		}
	}
	return mask
}

func triangulate(c int) [RowLength]int32 {
	var row [RowLength]int32
	for i := range row {
		row[i] = -1
	}

	// next maps an entering crossing to the first leaving crossing that
	// follows it on the same face.
	next := map[int]int{}
	for _, f := range faces {
		enter, leave := crossingPositions(f, c)
		for _, p := range enter {
			best, bestDist := 0, 4
			for _, q := range leave {
				if d := (q - p + 4) % 4; d < bestDist {
					best, bestDist = q, d
				}
			}
			next[faceEdge(f, p)] = faceEdge(f, best)
		}
	}

	visited := map[int]bool{}
	out := 0
	for start := 0; start < 12; start++ {
		if _, ok := next[start]; !ok || visited[start] {
			continue
		}
		var loop []int
		for e := start; !visited[e]; e = next[e] {
			visited[e] = true
			loop = append(loop, e)
		}
		for i := 1; i+1 < len(loop); i++ {
			row[out] = int32(loop[0])
			row[out+1] = int32(loop[i])
			row[out+2] = int32(loop[i+1])
			out += 3
		}
	}
	return row
}

func faceEdge(f [4]int, k int) int {
	return edgeBetween(f[k], f[(k+1)%4])
}

// crossingPositions returns the walk positions k (edge f[k]-f[k+1]) where the
// boundary enters and leaves the inside region.
func crossingPositions(f [4]int, c int) (enter, leave []int) {
	for k := 0; k < 4; k++ {
		a, b := f[k], f[(k+1)%4]
		if inside(c, a) == inside(c, b) {
			continue
		}
		if inside(c, b) {
			enter = append(enter, k)
		} else {
			leave = append(leave, k)
		}
	}
	return enter, leave
}

// Triangles returns the number of triangles emitted for case c.
func Triangles(c int) int {
	n := 0
	for _, e := range TriTable[c] {
		if e < 0 {
			break
		}
		n++
	}
	return n / 3
}

// EdgeTableBytes encodes EdgeTable as 256 little-endian u32 words.
func EdgeTableBytes() []byte {
	buf := make([]byte, Cases*4)
	for i, v := range EdgeTable {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// TriTableBytes encodes TriTable as 256 rows of 16 little-endian i32 words.
func TriTableBytes() []byte {
	buf := make([]byte, Cases*RowLength*4)
	for c, row := range TriTable {
		for i, e := range row {
			binary.LittleEndian.PutUint32(buf[(c*RowLength+i)*4:], uint32(e))
		}
	}
	return buf
}
