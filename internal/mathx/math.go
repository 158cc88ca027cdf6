package mathx

import (
	"fmt"
	"strconv"
	"strings"
)

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Coords2 is a chunk coordinate on the xz plane.
type Coords2 [2]int

// Coords3 is a voxel coordinate.
type Coords3 [3]int

func VoxelToChunk(vx, vz, chunkSize int) Coords2 {
	return Coords2{FloorDiv(vx, chunkSize), FloorDiv(vz, chunkSize)}
}

func VoxelToLocal(vx, vy, vz, chunkSize int) Coords3 {
	return Coords3{Mod(vx, chunkSize), vy, Mod(vz, chunkSize)}
}

// DistSq is the squared xz distance between two chunk coordinates.
func DistSq(a, b Coords2) int {
	dx := a[0] - b[0]
	dz := a[1] - b[1]
	return dx*dx + dz*dz
}

// ChunkName is the canonical map key for a chunk coordinate.
func ChunkName(cx, cz int) string {
	return strconv.Itoa(cx) + "|" + strconv.Itoa(cz)
}

func ParseChunkName(name string) (Coords2, error) {
	x, z, ok := strings.Cut(name, "|")
	if !ok {
		return Coords2{}, fmt.Errorf("bad chunk name %q", name)
	}
	cx, err := strconv.Atoi(x)
	if err != nil {
		return Coords2{}, fmt.Errorf("bad chunk name %q: %w", name, err)
	}
	cz, err := strconv.Atoi(z)
	if err != nil {
		return Coords2{}, fmt.Errorf("bad chunk name %q: %w", name, err)
	}
	return Coords2{cx, cz}, nil
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
