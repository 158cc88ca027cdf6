package light

import (
	"sort"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/voxel"
)

// Space is the voxel/light view the engine runs over. RawVoxel doubles as
// the rule query for dynamic blocks.
type Space interface {
	RawVoxel(vx, vy, vz int) uint32
	Contains(vx, vy, vz int) bool
	LightLevel(vx, vy, vz int, c voxel.Color) uint32
	SetLightLevel(vx, vy, vz int, c voxel.Color, level uint32)
}

// ChunkSpace is a Space over a set of raw chunks. Chunks missing from the
// set read as air with no light and ignore writes.
type ChunkSpace struct {
	size      int
	maxHeight int
	chunks    map[mathx.Coords2]*chunk.RawChunk
	modified  map[mathx.Coords2]bool
}

func NewChunkSpace(size, maxHeight int) *ChunkSpace {
	return &ChunkSpace{
		size:      size,
		maxHeight: maxHeight,
		chunks:    map[mathx.Coords2]*chunk.RawChunk{},
		modified:  map[mathx.Coords2]bool{},
	}
}

func (s *ChunkSpace) Add(c *chunk.RawChunk) { s.chunks[c.Coords] = c }

func (s *ChunkSpace) Chunk(coords mathx.Coords2) *chunk.RawChunk { return s.chunks[coords] }

func (s *ChunkSpace) at(vx, vz int) *chunk.RawChunk {
	return s.chunks[mathx.VoxelToChunk(vx, vz, s.size)]
}

func (s *ChunkSpace) RawVoxel(vx, vy, vz int) uint32 {
	if c := s.at(vx, vz); c != nil {
		return c.RawVoxel(vx, vy, vz)
	}
	return 0
}

func (s *ChunkSpace) SetRawVoxel(vx, vy, vz int, v uint32) bool {
	if c := s.at(vx, vz); c != nil {
		return c.SetRawVoxel(vx, vy, vz, v)
	}
	return false
}

func (s *ChunkSpace) Contains(vx, vy, vz int) bool {
	c := s.at(vx, vz)
	return c != nil && c.Contains(vx, vy, vz)
}

func (s *ChunkSpace) LightLevel(vx, vy, vz int, col voxel.Color) uint32 {
	if c := s.at(vx, vz); c != nil {
		return c.LightAt(vx, vy, vz, col)
	}
	return 0
}

func (s *ChunkSpace) SetLightLevel(vx, vy, vz int, col voxel.Color, level uint32) {
	c := s.at(vx, vz)
	if c == nil {
		return
	}
	before := c.RawLight(vx, vy, vz)
	after := voxel.InsertLevel(before, col, level)
	if before == after {
		return
	}
	if c.SetRawLight(vx, vy, vz, after) {
		s.modified[c.Coords] = true
	}
}

// Modified lists the chunks whose light array changed, and resets the set.
func (s *ChunkSpace) Modified() []*chunk.RawChunk {
	out := make([]*chunk.RawChunk, 0, len(s.modified))
	for coords := range s.modified {
		out = append(out, s.chunks[coords])
	}
	s.modified = map[mathx.Coords2]bool{}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Coords, out[j].Coords
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		return a[1] < b[1]
	})
	return out
}
