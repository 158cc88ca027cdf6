package terrain

import (
	"github.com/google/uuid"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/light"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/registry"
)

// Store is a server-side copy of the world: generated on demand, lit
// before it is handed out, and edited by UPDATEs. It is not safe for
// concurrent use.
type Store struct {
	gen    *Generator
	opts   config.WorldOptions
	engine light.Engine
	space  *light.ChunkSpace
	lit    map[mathx.Coords2]bool
}

func NewStore(gen *Generator, reg *registry.Registry, opts config.WorldOptions) *Store {
	return &Store{
		gen:    gen,
		opts:   opts,
		engine: light.NewEngine(reg, opts),
		space:  light.NewChunkSpace(opts.ChunkSize, opts.MaxHeight),
		lit:    map[mathx.Coords2]bool{},
	}
}

func (s *Store) ensure(cc mathx.Coords2) *chunk.RawChunk {
	if c := s.space.Chunk(cc); c != nil {
		return c
	}
	c := s.gen.Chunk(uuid.NewString(), cc[0], cc[1])
	c.Allocate()
	s.space.Add(c)
	return c
}

// Lit returns the chunk with its light computed. The 3x3 neighborhood is
// generated first so light crossing the border sees real voxels.
func (s *Store) Lit(cx, cz int) *chunk.RawChunk {
	cc := mathx.Coords2{cx, cz}
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			s.ensure(mathx.Coords2{cx + dx, cz + dz})
		}
	}
	c := s.space.Chunk(cc)
	if !s.lit[cc] {
		e := s.engine.WithChunkRange([2]int{cx - 1, cz - 1}, [2]int{cx + 1, cz + 1})
		e.Relight(s.space, [3]int{c.Min[0], 0, c.Min[2]}, [3]int{c.Size, c.MaxHeight, c.Size})
		s.lit[cc] = true
	}
	s.space.Modified()
	return c
}

// Set writes one voxel. The edited chunk and its neighbors are relit on
// their next request. It reports false for voxels outside the world.
func (s *Store) Set(vx, vy, vz int, raw uint32) bool {
	cc := mathx.VoxelToChunk(vx, vz, s.opts.ChunkSize)
	if vy < 0 || vy >= s.opts.MaxHeight || !s.opts.ChunkWithinWorld(cc[0], cc[1]) {
		return false
	}
	c := s.ensure(cc)
	c.SetRawVoxel(vx, vy, vz, raw)
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			delete(s.lit, mathx.Coords2{cc[0] + dx, cc[1] + dz})
		}
	}
	return true
}

func (s *Store) RawVoxel(vx, vy, vz int) uint32 { return s.space.RawVoxel(vx, vy, vz) }

func (s *Store) LitCount() int { return len(s.lit) }
