package lightjob

import (
	"time"

	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/voxel"
)

// Delta is one recorded voxel mutation. Seq is the logical clock used for
// staleness checks.
type Delta struct {
	Coords    [3]int
	OldVoxel  uint32
	NewVoxel  uint32
	Timestamp time.Time
	Seq       uint64
}

func (d Delta) OldRotation() voxel.Rotation { return voxel.RotationOf(d.OldVoxel) }
func (d Delta) NewRotation() voxel.Rotation { return voxel.RotationOf(d.NewVoxel) }
func (d Delta) OldStage() uint32            { return voxel.Stage(d.OldVoxel) }
func (d Delta) NewStage() uint32            { return voxel.Stage(d.NewVoxel) }

type chunkHistory struct {
	deltas []Delta
	last   uint64
}

// DeltaTracker keeps a bounded per-chunk history of voxel mutations. It is
// owned by the main goroutine.
type DeltaTracker struct {
	chunkSize int
	retention time.Duration
	now       func() time.Time

	seq     uint64
	byChunk map[mathx.Coords2]*chunkHistory
}

func NewDeltaTracker(chunkSize int, retention time.Duration, now func() time.Time) *DeltaTracker {
	if now == nil {
		now = time.Now
	}
	return &DeltaTracker{
		chunkSize: chunkSize,
		retention: retention,
		now:       now,
		byChunk:   map[mathx.Coords2]*chunkHistory{},
	}
}

// Current is the latest sequence id handed out.
func (t *DeltaTracker) Current() uint64 { return t.seq }

func (t *DeltaTracker) Record(pos [3]int, oldVoxel, newVoxel uint32) Delta {
	t.seq++
	d := Delta{Coords: pos, OldVoxel: oldVoxel, NewVoxel: newVoxel, Timestamp: t.now(), Seq: t.seq}
	cc := mathx.VoxelToChunk(pos[0], pos[2], t.chunkSize)
	h := t.byChunk[cc]
	if h == nil {
		h = &chunkHistory{}
		t.byChunk[cc] = h
	}
	h.deltas = append(h.deltas, d)
	h.last = d.Seq
	return d
}

// LastSeq is the newest sequence id recorded for a chunk, 0 if none.
func (t *DeltaTracker) LastSeq(cc mathx.Coords2) uint64 {
	if h := t.byChunk[cc]; h != nil {
		return h.last
	}
	return 0
}

// Since returns a copy of the chunk's deltas with Seq > seq.
func (t *DeltaTracker) Since(cc mathx.Coords2, seq uint64) []Delta {
	h := t.byChunk[cc]
	if h == nil {
		return nil
	}
	i := len(h.deltas)
	for i > 0 && h.deltas[i-1].Seq > seq {
		i--
	}
	if i == len(h.deltas) {
		return nil
	}
	return append([]Delta(nil), h.deltas[i:]...)
}

func (t *DeltaTracker) Len(cc mathx.Coords2) int {
	if h := t.byChunk[cc]; h != nil {
		return len(h.deltas)
	}
	return 0
}

// GC drops deltas older than the retention window. The per-chunk last
// sequence id survives so staleness checks keep working.
func (t *DeltaTracker) GC() int {
	cutoff := t.now().Add(-t.retention)
	dropped := 0
	for _, h := range t.byChunk {
		i := 0
		for i < len(h.deltas) && h.deltas[i].Timestamp.Before(cutoff) {
			i++
		}
		if i > 0 {
			dropped += i
			h.deltas = append(h.deltas[:0], h.deltas[i:]...)
		}
	}
	return dropped
}

// Forget drops the history of an unloaded chunk.
func (t *DeltaTracker) Forget(cc mathx.Coords2) { delete(t.byChunk, cc) }
