package chunk

import (
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/protocol"
)

// Snapshot is an immutable copy of a chunk's storage that may be handed to
// another goroutine.
type Snapshot struct {
	ID        string
	Coords    mathx.Coords2
	Size      int
	MaxHeight int
	Voxels    []uint32
	Lights    []uint32
}

func (c *RawChunk) Serialize() Snapshot {
	s := Snapshot{
		ID:        c.ID,
		Coords:    c.Coords,
		Size:      c.Size,
		MaxHeight: c.MaxHeight,
	}
	if len(c.Voxels) > 0 {
		s.Voxels = append([]uint32(nil), c.Voxels...)
	}
	if len(c.Lights) > 0 {
		s.Lights = append([]uint32(nil), c.Lights...)
	}
	return s
}

// FromSnapshot builds a RawChunk that owns the snapshot's arrays.
func FromSnapshot(s Snapshot) *RawChunk {
	c := NewRaw(s.ID, s.Coords[0], s.Coords[1], s.Size, s.MaxHeight)
	c.Voxels = s.Voxels
	c.Lights = s.Lights
	return c
}

func (s Snapshot) Protocol() protocol.ChunkProtocol {
	return protocol.ChunkProtocol{
		ID:     s.ID,
		X:      s.Coords[0],
		Z:      s.Coords[1],
		Voxels: s.Voxels,
		Lights: s.Lights,
	}
}
