// Package mesh schedules sub-chunk remeshing: it tracks which (chunk,
// level) pairs an edit touched, keeps a generation per pair so late results
// can be recognized, and runs the reference mesher on a worker pool.
package mesh

import (
	"fmt"

	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/mathx"
)

// Key identifies one sub-chunk level of one chunk.
type Key struct {
	Coords mathx.Coords2
	Level  int
}

func (k Key) String() string { return fmt.Sprintf("%d,%d:%d", k.Coords[0], k.Coords[1], k.Level) }

// Tracker is a deduplicated, insertion-ordered list of keys to remesh.
type Tracker struct {
	size   int
	levelH int
	levels int

	keys []Key
	seen map[Key]bool
}

func NewTracker(opts config.WorldOptions) *Tracker {
	return &Tracker{
		size:   opts.ChunkSize,
		levelH: opts.SubChunkHeight(),
		levels: opts.SubChunks,
		seen:   map[Key]bool{},
	}
}

func (t *Tracker) Track(k Key) {
	if t.seen[k] {
		return
	}
	t.seen[k] = true
	t.keys = append(t.keys, k)
}

// TrackChunk adds every level of a chunk.
func (t *Tracker) TrackChunk(cc mathx.Coords2) {
	for l := 0; l < t.levels; l++ {
		t.Track(Key{Coords: cc, Level: l})
	}
}

// TrackVoxel adds the level holding the voxel. On a chunk border the
// neighbor chunks sharing that border are added too, diagonals included;
// on a level seam the adjacent level is added.
func (t *Tracker) TrackVoxel(vx, vy, vz int) {
	if vy < 0 || vy >= t.levelH*t.levels {
		return
	}
	cc := mathx.VoxelToChunk(vx, vz, t.size)
	local := mathx.VoxelToLocal(vx, vy, vz, t.size)

	dxs := seams(local[0], t.size)
	dzs := seams(local[2], t.size)

	level := vy / t.levelH
	levels := []int{level}
	if vy%t.levelH == 0 && level > 0 {
		levels = append(levels, level-1)
	}
	if vy%t.levelH == t.levelH-1 && level < t.levels-1 {
		levels = append(levels, level+1)
	}

	for _, dx := range dxs {
		for _, dz := range dzs {
			for _, l := range levels {
				t.Track(Key{Coords: mathx.Coords2{cc[0] + dx, cc[1] + dz}, Level: l})
			}
		}
	}
}

func seams(local, size int) []int {
	out := []int{0}
	if local == 0 {
		out = append(out, -1)
	}
	if local == size-1 {
		out = append(out, 1)
	}
	return out
}

func (t *Tracker) Len() int { return len(t.keys) }

// Drain returns the tracked keys in insertion order and resets the tracker.
func (t *Tracker) Drain() []Key {
	out := t.keys
	t.keys = nil
	clear(t.seen)
	return out
}
