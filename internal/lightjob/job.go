package lightjob

import (
	"time"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/light"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/voxel"
)

// Box is an inclusive voxel bounding box.
type Box struct {
	Min [3]int
	Max [3]int
}

func (b Box) Bounds() *light.Bounds {
	return &light.Bounds{
		Min:   b.Min,
		Shape: [3]int{b.Max[0] - b.Min[0] + 1, b.Max[1] - b.Min[1] + 1, b.Max[2] - b.Min[2] + 1},
	}
}

// Rect is an inclusive chunk-coordinate rectangle.
type Rect struct {
	Min mathx.Coords2
	Max mathx.Coords2
}

func (r Rect) Overlaps(o Rect) bool {
	return r.Min[0] <= o.Max[0] && o.Min[0] <= r.Max[0] &&
		r.Min[1] <= o.Max[1] && o.Min[1] <= r.Max[1]
}

func (r Rect) Contains(c mathx.Coords2) bool {
	return c[0] >= r.Min[0] && c[0] <= r.Max[0] && c[1] >= r.Min[1] && c[1] <= r.Max[1]
}

func (r Rect) Each(fn func(c mathx.Coords2)) {
	for cx := r.Min[0]; cx <= r.Max[0]; cx++ {
		for cz := r.Min[1]; cz <= r.Max[1]; cz++ {
			fn(mathx.Coords2{cx, cz})
		}
	}
}

// Job is one color's batch of light operations.
type Job struct {
	ID       string
	Color    voxel.Color
	Ops      light.ColorOps
	Box      Box
	Grid     Rect
	StartSeq uint64
	Retry    int
	Created  time.Time
}

// GridChunk is one cell of a job's chunk grid. Snapshot is nil for chunks
// that are not loaded.
type GridChunk struct {
	Coords   mathx.Coords2
	Snapshot *chunk.Snapshot
}

// Input is everything a worker needs; none of it is shared with the main
// goroutine.
type Input struct {
	Job     Job
	Engine  light.Engine
	Grid    []GridChunk
	Deltas  map[mathx.Coords2][]Delta
	Applied map[mathx.Coords2]uint64
}

type ModifiedChunk struct {
	Coords mathx.Coords2
	Lights []uint32
}

type Result struct {
	JobID    string
	Modified []ModifiedChunk
	// Applied echoes, per chunk, the newest sequence id the input covered.
	Applied map[mathx.Coords2]uint64
	Elapsed time.Duration
}
