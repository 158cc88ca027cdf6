package chunk

import (
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/voxel"
)

// RawChunk is the voxel and light storage of one chunk column. Arrays are
// indexed lx*maxHeight*size + ly*size + lz.
//
// Reads outside the column return 0. Writes outside it are a caller error
// and are ignored.
type RawChunk struct {
	ID     string
	Name   string
	Coords mathx.Coords2

	// World-space voxel origin (inclusive) and extent (exclusive).
	Min [3]int
	Max [3]int

	Size      int
	MaxHeight int

	Voxels []uint32
	Lights []uint32
}

func NewRaw(id string, cx, cz, size, maxHeight int) *RawChunk {
	return &RawChunk{
		ID:        id,
		Name:      mathx.ChunkName(cx, cz),
		Coords:    mathx.Coords2{cx, cz},
		Min:       [3]int{cx * size, 0, cz * size},
		Max:       [3]int{(cx + 1) * size, maxHeight, (cz + 1) * size},
		Size:      size,
		MaxHeight: maxHeight,
	}
}

func (c *RawChunk) Volume() int { return c.Size * c.MaxHeight * c.Size }

// Allocate creates zeroed arrays for whichever of voxels/lights is missing.
func (c *RawChunk) Allocate() {
	if len(c.Voxels) == 0 {
		c.Voxels = make([]uint32, c.Volume())
	}
	if len(c.Lights) == 0 {
		c.Lights = make([]uint32, c.Volume())
	}
}

func (c *RawChunk) Contains(vx, vy, vz int) bool {
	return vx >= c.Min[0] && vx < c.Max[0] &&
		vy >= 0 && vy < c.MaxHeight &&
		vz >= c.Min[2] && vz < c.Max[2]
}

func (c *RawChunk) index(vx, vy, vz int) int {
	lx, lz := vx-c.Min[0], vz-c.Min[2]
	return lx*c.MaxHeight*c.Size + vy*c.Size + lz
}

func (c *RawChunk) RawVoxel(vx, vy, vz int) uint32 {
	if len(c.Voxels) == 0 || !c.Contains(vx, vy, vz) {
		return 0
	}
	return c.Voxels[c.index(vx, vy, vz)]
}

func (c *RawChunk) SetRawVoxel(vx, vy, vz int, v uint32) bool {
	if !c.Contains(vx, vy, vz) {
		return false
	}
	if len(c.Voxels) == 0 {
		c.Voxels = make([]uint32, c.Volume())
	}
	c.Voxels[c.index(vx, vy, vz)] = v
	return true
}

func (c *RawChunk) RawLight(vx, vy, vz int) uint32 {
	if len(c.Lights) == 0 || !c.Contains(vx, vy, vz) {
		return 0
	}
	return c.Lights[c.index(vx, vy, vz)]
}

func (c *RawChunk) SetRawLight(vx, vy, vz int, l uint32) bool {
	if !c.Contains(vx, vy, vz) {
		return false
	}
	if len(c.Lights) == 0 {
		c.Lights = make([]uint32, c.Volume())
	}
	c.Lights[c.index(vx, vy, vz)] = l
	return true
}

func (c *RawChunk) VoxelAt(vx, vy, vz int) uint32 { return voxel.ID(c.RawVoxel(vx, vy, vz)) }

func (c *RawChunk) SetVoxel(vx, vy, vz int, id uint32) bool {
	return c.SetRawVoxel(vx, vy, vz, voxel.InsertID(c.RawVoxel(vx, vy, vz), id))
}

func (c *RawChunk) VoxelRotationAt(vx, vy, vz int) voxel.Rotation {
	return voxel.RotationOf(c.RawVoxel(vx, vy, vz))
}

func (c *RawChunk) SetVoxelRotation(vx, vy, vz int, r voxel.Rotation) bool {
	return c.SetRawVoxel(vx, vy, vz, voxel.InsertRotation(c.RawVoxel(vx, vy, vz), r))
}

func (c *RawChunk) VoxelStageAt(vx, vy, vz int) uint32 { return voxel.Stage(c.RawVoxel(vx, vy, vz)) }

func (c *RawChunk) SetVoxelStage(vx, vy, vz int, stage uint32) bool {
	return c.SetRawVoxel(vx, vy, vz, voxel.InsertStage(c.RawVoxel(vx, vy, vz), stage))
}

func (c *RawChunk) LightAt(vx, vy, vz int, color voxel.Color) uint32 {
	return voxel.Level(c.RawLight(vx, vy, vz), color)
}

func (c *RawChunk) SetLight(vx, vy, vz int, color voxel.Color, level uint32) bool {
	return c.SetRawLight(vx, vy, vz, voxel.InsertLevel(c.RawLight(vx, vy, vz), color, level))
}

func (c *RawChunk) SunlightAt(vx, vy, vz int) uint32 { return c.LightAt(vx, vy, vz, voxel.Sunlight) }

func (c *RawChunk) SetSunlight(vx, vy, vz int, level uint32) bool {
	return c.SetLight(vx, vy, vz, voxel.Sunlight, level)
}

func (c *RawChunk) TorchLightAt(vx, vy, vz int, color voxel.Color) uint32 {
	if color == voxel.Sunlight {
		return 0
	}
	return c.LightAt(vx, vy, vz, color)
}

func (c *RawChunk) SetTorchLight(vx, vy, vz int, color voxel.Color, level uint32) bool {
	if color == voxel.Sunlight {
		return false
	}
	return c.SetLight(vx, vy, vz, color, level)
}

// MaxHeightAt is the highest non-air y in the column, or -1.
func (c *RawChunk) MaxHeightAt(vx, vz int) int {
	if len(c.Voxels) == 0 || !c.Contains(vx, 0, vz) {
		return -1
	}
	for y := c.MaxHeight - 1; y >= 0; y-- {
		if voxel.ID(c.Voxels[c.index(vx, y, vz)]) != voxel.Air {
			return y
		}
	}
	return -1
}
