package world

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/chunks"
	"voxelclient.ai/internal/light"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/protocol"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/voxel"
)

// VoxelUpdate is a requested edit in unpacked form.
type VoxelUpdate struct {
	VX, VY, VZ int
	Type       uint32
	Rotation   voxel.Rotation
	Stage      uint32
}

// Update advances the world by one frame for a viewer at position looking
// along direction. Recoverable faults are handled here and never returned.
func (w *World) Update(position, direction mgl64.Vec3) {
	w.center = mathx.VoxelToChunk(int(math.Floor(position.X())), int(math.Floor(position.Z())), w.opts.ChunkSize)

	for _, c := range w.chunks.MaintainChunks(w.center) {
		w.deltas.Forget(c.Coords)
		w.remesh.Forget(c.Coords)
		w.traceChunk("unload", c, "")
	}
	w.chunks.RequestChunks(w.center, direction)
	for _, p := range w.chunks.ProcessChunks(w.center) {
		w.afterProcess(p)
	}

	w.processUpdates()

	w.lights.Flush()
	w.lights.Poll()
	if w.lights.Idle() {
		if w.opts.ShouldGenerateChunkMeshes {
			w.remesh.Flush()
		} else {
			w.remesh.Discard()
		}
	}
	w.remesh.Poll()

	w.chunks.FlushEmits()

	if w.now().Sub(w.lastGC) >= w.opts.DeltaGCInterval {
		w.deltas.GC()
		w.lastGC = w.now()
	}
}

func (w *World) afterProcess(p chunks.Processed) {
	c := p.Chunk
	w.traceChunk("load", c, p.Source.String())

	if len(c.Voxels) > 0 && len(c.Lights) == 0 {
		w.RelightChunk(c.Coords)
	}
	if !w.opts.ShouldGenerateChunkMeshes {
		return
	}
	if p.HasMeshes {
		for l := 0; l < c.SubChunks(); l++ {
			w.remesh.MarkFresh(c.Coords, l)
		}
		return
	}
	w.remesh.TrackChunk(c.Coords)
	for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		n := mathx.Coords2{c.Coords[0] + d[0], c.Coords[1] + d[1]}
		if w.chunks.ChunkAt(n) != nil {
			w.remesh.TrackChunk(n)
		}
	}
}

func (w *World) traceChunk(kind string, c *chunk.Chunk, source string) {
	if w.tracer == nil {
		return
	}
	w.tracer.TraceChunk(ChunkEvent{At: w.now(), Kind: kind, Coords: c.Coords, ID: c.ID, Source: source})
}

// UpdateVoxel queues one local edit. See UpdateVoxels.
func (w *World) UpdateVoxel(u VoxelUpdate) error {
	return w.UpdateVoxels([]VoxelUpdate{u})
}

// UpdateVoxels validates and queues local edits. Edits that would not
// change the stored voxel are skipped. The first invalid edit is reported;
// the valid ones are still queued.
func (w *World) UpdateVoxels(us []VoxelUpdate) error {
	var firstErr error
	var queued []chunks.BlockUpdate
	for _, u := range us {
		raw, err := w.validate(u)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if c := w.chunks.ChunkByVoxel(u.VX, u.VZ); c != nil && c.RawVoxel(u.VX, u.VY, u.VZ) == raw {
			continue
		}
		queued = append(queued, chunks.BlockUpdate{VX: u.VX, VY: u.VY, VZ: u.VZ, Voxel: raw, Source: chunks.SourceClient})
	}
	w.chunks.QueueUpdates(queued...)
	return firstErr
}

func (w *World) validate(u VoxelUpdate) (uint32, error) {
	cc := mathx.VoxelToChunk(u.VX, u.VZ, w.opts.ChunkSize)
	if u.VY < 0 || u.VY >= w.opts.MaxHeight || !w.opts.ChunkWithinWorld(cc[0], cc[1]) {
		return 0, fmt.Errorf("%w: (%d,%d,%d)", ErrOutOfWorld, u.VX, u.VY, u.VZ)
	}
	if _, ok := w.reg.ByID(u.Type); !ok {
		return 0, fmt.Errorf("voxel (%d,%d,%d): %w: %d", u.VX, u.VY, u.VZ, registry.ErrUnknownBlock, u.Type)
	}
	if u.Stage > voxel.MaxStage {
		return 0, fmt.Errorf("%w: %d", ErrBadStage, u.Stage)
	}
	return voxel.Pack(u.Type, u.Rotation, u.Stage), nil
}

// processUpdates applies queued edits in order until the batch cap or the
// frame budget is reached. The rest waits for the next frame.
func (w *World) processUpdates() {
	if w.chunks.UpdatesLen() == 0 {
		return
	}
	start := w.now()
	batch := w.chunks.TakeUpdates(w.opts.MaxUpdatesPerUpdate)
	for i, u := range batch {
		if i > 0 && w.now().Sub(start) > w.opts.UpdateTimeBudget {
			w.chunks.RequeueUpdates(batch[i:])
			if w.warn.Allow() {
				w.logger.Printf("voxel updates over frame budget applied=%d deferred=%d budget=%s", i, len(batch)-i, w.opts.UpdateTimeBudget)
			}
			return
		}
		w.apply(u)
	}
}

// apply writes one edit to canonical state and feeds its light
// consequences to the scheduler.
func (w *World) apply(u chunks.BlockUpdate) {
	if u.VY < 0 || u.VY >= w.opts.MaxHeight {
		w.dropped(u, "out of height")
		return
	}
	if _, ok := w.reg.ByID(voxel.ID(u.Voxel)); !ok {
		w.dropped(u, "unknown block")
		return
	}
	c := w.chunks.ChunkByVoxel(u.VX, u.VZ)
	if c == nil || len(c.Voxels) == 0 {
		w.dropped(u, "chunk not loaded")
		return
	}
	pos := [3]int{u.VX, u.VY, u.VZ}
	old := c.RawVoxel(u.VX, u.VY, u.VZ)
	if old == u.Voxel {
		return
	}

	startSeq := w.deltas.Current()
	var ops light.Operations
	w.engine.Analyze(w.chunks, pos, u.Voxel, &ops)
	w.deltas.Record(pos, old, u.Voxel)
	c.SetRawVoxel(u.VX, u.VY, u.VZ, u.Voxel)
	c.IsDirty = true
	w.remesh.TrackVoxel(u.VX, u.VY, u.VZ)
	w.lights.Accumulate(ops, startSeq)

	if u.Source == chunks.SourceClient {
		w.chunks.Emit(protocol.UpdateProtocol{VX: u.VX, VY: u.VY, VZ: u.VZ, Voxel: u.Voxel})
	}
	ev := BlockUpdate{Voxel: pos, OldValue: old, NewValue: u.Voxel, Source: u.Source}
	for _, fn := range w.listeners {
		if fn != nil {
			fn(ev)
		}
	}
}

func (w *World) dropped(u chunks.BlockUpdate, reason string) {
	if w.warn.Allow() {
		w.logger.Printf("voxel update dropped reason=%q voxel=(%d,%d,%d) value=%d source=%s", reason, u.VX, u.VY, u.VZ, u.Voxel, u.Source)
	}
}

// Packets drains the packets waiting to go to the server.
func (w *World) Packets() []any { return w.chunks.DrainPackets() }

// Idle reports whether no edit, light job or mesh job is outstanding.
func (w *World) Idle() bool {
	return w.chunks.UpdatesLen() == 0 && w.lights.Idle() && w.remesh.Idle()
}

// Settle applies every queued edit and waits until light and mesh jobs have
// drained. It is meant for tools and tests; the frame loop never blocks.
func (w *World) Settle(ctx context.Context) error {
	for {
		for w.chunks.UpdatesLen() > 0 {
			w.processUpdates()
			w.lights.Flush()
		}
		if err := w.lights.Wait(ctx); err != nil {
			return err
		}
		if w.opts.ShouldGenerateChunkMeshes {
			w.remesh.Flush()
		} else {
			w.remesh.Discard()
		}
		w.remesh.Poll()
		w.chunks.FlushEmits()
		if w.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
