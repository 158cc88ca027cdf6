package chunk

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/willf/bitset"

	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/protocol"
	"voxelclient.ai/internal/voxel"
)

// loadSerials is shared by all chunks so a reloaded chunk never reuses the
// serial of the instance it replaced.
var loadSerials atomic.Uint64

var (
	ErrIDMismatch     = errors.New("chunk id mismatch")
	ErrCoordsMismatch = errors.New("chunk coords mismatch")
	ErrBadLength      = errors.New("chunk array length mismatch")
)

// Chunk adds rendering state to RawChunk: meshes per sub-chunk level, the
// dirty flag and a load serial bumped by every SetData.
type Chunk struct {
	*RawChunk

	IsDirty bool

	subChunks int
	levelH    int
	scene     Scene
	meshes    map[int][]Mesh

	// active: levels holding any non-air voxel. meshed: levels that received
	// a mesh result since the last load.
	active *bitset.BitSet
	meshed *bitset.BitSet

	serial   uint64
	lightRev uint64
}

func New(id string, cx, cz int, opts config.WorldOptions, scene Scene) *Chunk {
	if scene == nil {
		scene = nopScene{}
	}
	return &Chunk{
		RawChunk:  NewRaw(id, cx, cz, opts.ChunkSize, opts.MaxHeight),
		subChunks: opts.SubChunks,
		levelH:    opts.SubChunkHeight(),
		scene:     scene,
		meshes:    map[int][]Mesh{},
		active:    bitset.New(uint(opts.SubChunks)),
		meshed:    bitset.New(uint(opts.SubChunks)),
		serial:    loadSerials.Add(1),
	}
}

func (c *Chunk) SubChunks() int { return c.subChunks }

// Serial changes every time server data replaces the chunk contents. It is
// unique across chunk instances.
func (c *Chunk) Serial() uint64 { return c.serial }

// LightRevision changes whenever light is rewritten in place on the main
// goroutine, outside of a light job result.
func (c *Chunk) LightRevision() uint64 { return c.lightRev }

func (c *Chunk) TouchLights() { c.lightRev++ }

func (c *Chunk) LevelOf(vy int) int {
	l := vy / c.levelH
	return mathx.ClampInt(l, 0, c.subChunks-1)
}

// LevelRange is the [minY, maxY) span of a sub-chunk level.
func (c *Chunk) LevelRange(level int) (int, int) {
	return level * c.levelH, (level + 1) * c.levelH
}

func (c *Chunk) SetRawVoxel(vx, vy, vz int, v uint32) bool {
	if !c.RawChunk.SetRawVoxel(vx, vy, vz, v) {
		return false
	}
	if voxel.ID(v) != voxel.Air {
		c.active.Set(uint(c.LevelOf(vy)))
	}
	return true
}

func (c *Chunk) SetVoxel(vx, vy, vz int, id uint32) bool {
	return c.SetRawVoxel(vx, vy, vz, voxel.InsertID(c.RawVoxel(vx, vy, vz), id))
}

// SetData ingests a wire payload. Arrays are replaced only when present, so
// a partial payload never clobbers the other array.
func (c *Chunk) SetData(p protocol.ChunkProtocol) error {
	if p.X != c.Coords[0] || p.Z != c.Coords[1] {
		return fmt.Errorf("%w: chunk %s got (%d,%d)", ErrCoordsMismatch, c.Name, p.X, p.Z)
	}
	if c.ID != "" && p.ID != "" && p.ID != c.ID {
		return fmt.Errorf("%w: chunk %s has %q got %q", ErrIDMismatch, c.Name, c.ID, p.ID)
	}
	vol := c.Volume()
	if n := len(p.Voxels); n > 0 && n != vol {
		return fmt.Errorf("%w: voxels %d want %d", ErrBadLength, n, vol)
	}
	if n := len(p.Lights); n > 0 && n != vol {
		return fmt.Errorf("%w: lights %d want %d", ErrBadLength, n, vol)
	}
	if c.ID == "" {
		c.ID = p.ID
	}
	if len(p.Voxels) > 0 {
		c.Voxels = p.Voxels
		c.recomputeActive()
	}
	if len(p.Lights) > 0 {
		c.Lights = p.Lights
	}
	c.serial = loadSerials.Add(1)
	return nil
}

func (c *Chunk) recomputeActive() {
	c.active.ClearAll()
	stride := c.MaxHeight * c.Size
	for i, v := range c.Voxels {
		if voxel.ID(v) == voxel.Air {
			continue
		}
		y := (i % stride) / c.Size
		c.active.Set(uint(c.LevelOf(y)))
	}
}

func (c *Chunk) IsLevelActive(level int) bool { return c.active.Test(uint(level)) }

func (c *Chunk) ActiveLevels() []int {
	var out []int
	for l := 0; l < c.subChunks; l++ {
		if c.active.Test(uint(l)) {
			out = append(out, l)
		}
	}
	return out
}

func (c *Chunk) Meshes(level int) []Mesh { return c.meshes[level] }

func (c *Chunk) MeshCount() int {
	n := 0
	for _, ms := range c.meshes {
		n += len(ms)
	}
	return n
}

// SetMeshes replaces the meshes of one level, disposing the previous ones.
// An empty slice still counts as a mesh result for IsReady.
func (c *Chunk) SetMeshes(level int, ms []Mesh) {
	c.disposeLevel(level)
	if len(ms) > 0 {
		c.meshes[level] = ms
		for _, m := range ms {
			c.scene.Add(m)
		}
	}
	c.meshed.Set(uint(level))
}

func (c *Chunk) disposeLevel(level int) {
	for _, m := range c.meshes[level] {
		c.scene.Remove(m)
		m.Dispose()
	}
	delete(c.meshes, level)
}

// IsReady reports whether both arrays are present and every active level
// has been meshed.
func (c *Chunk) IsReady() bool {
	if len(c.Voxels) == 0 || len(c.Lights) == 0 {
		return false
	}
	return c.active.DifferenceCardinality(c.meshed) == 0
}

// Dispose releases all meshes grouped by level.
func (c *Chunk) Dispose() {
	for level := range c.meshes {
		c.disposeLevel(level)
	}
	c.meshed.ClearAll()
}
