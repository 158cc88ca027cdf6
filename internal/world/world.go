// Package world is the per-frame driver of the client world: it keeps the
// chunk lifecycle moving, applies voxel edits through light analysis and
// the light job scheduler, and hands settled regions to the remesher.
package world

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/time/rate"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/chunks"
	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/light"
	"voxelclient.ai/internal/lightjob"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/mesh"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/voxel"
	"voxelclient.ai/internal/workerpool"
)

var (
	ErrOutOfWorld = errors.New("voxel outside world")
	ErrBadStage   = errors.New("stage out of range")
)

// ChunkEvent is a chunk lifecycle record for the trace.
type ChunkEvent struct {
	At     time.Time
	Kind   string
	Coords mathx.Coords2
	ID     string
	Source string
}

// Tracer receives diagnostics. Both methods run on the main goroutine.
type Tracer interface {
	lightjob.Tracer
	TraceChunk(ev ChunkEvent)
}

// BlockUpdate is passed to block update listeners for every applied edit.
type BlockUpdate struct {
	Voxel    [3]int
	OldValue uint32
	NewValue uint32
	Source   chunks.Source
}

type Options struct {
	World    config.WorldOptions
	Registry *registry.Registry

	Scene   chunk.Scene
	Builder chunk.MeshBuilder

	// Runners default to worker pools sized from World.
	LightRunner lightjob.Runner
	MeshRunner  mesh.Runner

	Tracer Tracer
	Logger *log.Logger
	Now    func() time.Time
}

type World struct {
	opts   config.WorldOptions
	reg    *registry.Registry
	logger *log.Logger
	now    func() time.Time
	tracer Tracer

	chunks *chunks.Manager
	engine light.Engine
	deltas *lightjob.DeltaTracker
	lights *lightjob.Scheduler
	remesh *mesh.Remesher

	pools []*workerpool.Pool

	listeners []func(BlockUpdate)
	warn      *rate.Limiter
	lastGC    time.Time
	center    mathx.Coords2
}

func New(o Options) (*World, error) {
	if o.Registry == nil {
		return nil, fmt.Errorf("world: %w", registry.ErrUnknownBlock)
	}
	opts := o.World
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	logger := o.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}

	w := &World{
		opts:   opts,
		reg:    o.Registry,
		logger: logger,
		now:    now,
		tracer: o.Tracer,
		engine: light.NewEngine(o.Registry, opts),
		deltas: lightjob.NewDeltaTracker(opts.ChunkSize, opts.DeltaRetentionTime, now),
		warn:   rate.NewLimiter(rate.Every(time.Second), 1),
		lastGC: now(),
	}
	w.chunks = chunks.New(chunks.Options{World: opts, Scene: o.Scene, Builder: o.Builder, Logger: logger})

	meshRunner := o.MeshRunner
	if meshRunner == nil {
		p := workerpool.New("mesh", opts.MaxMeshWorkers)
		w.pools = append(w.pools, p)
		meshRunner = mesh.PoolRunner{Pool: p}
	}
	w.remesh = mesh.NewRemesher(mesh.Config{
		World:    opts,
		Registry: o.Registry,
		Chunks:   w.chunks,
		Runner:   meshRunner,
		Builder:  o.Builder,
		Logger:   logger,
	})

	lightRunner := o.LightRunner
	if lightRunner == nil && opts.UseLightWorkers {
		p := workerpool.New("light", opts.MaxLightWorkers)
		w.pools = append(w.pools, p)
		lightRunner = lightjob.PoolRunner{Pool: p}
	}
	var tracer lightjob.Tracer
	if o.Tracer != nil {
		tracer = o.Tracer
	}
	w.lights = lightjob.New(lightjob.Config{
		Engine: w.engine,
		World:  opts,
		Chunks: w.chunks,
		Space:  w.chunks,
		Deltas: w.deltas,
		Runner: lightRunner,
		Remesh: w.remesh,
		Tracer: tracer,
		Logger: logger,
		Now:    now,
	})
	return w, nil
}

// Close stops the worker pools owned by the world.
func (w *World) Close() {
	for _, p := range w.pools {
		p.Close()
	}
}

func (w *World) Options() config.WorldOptions { return w.opts }
func (w *World) Registry() *registry.Registry { return w.reg }
func (w *World) Chunks() *chunks.Manager { return w.chunks }
func (w *World) Deltas() *lightjob.DeltaTracker { return w.deltas }
func (w *World) LightStats() lightjob.Stats { return w.lights.Stats() }
func (w *World) MeshStats() mesh.Stats { return w.remesh.Stats() }
func (w *World) Center() mathx.Coords2 { return w.center }
func (w *World) RenderRadius() int { return w.chunks.RenderRadius() }
func (w *World) SetRenderRadius(r int) { w.chunks.SetRenderRadius(r) }
func (w *World) ChunkStatus(cx, cz int) chunks.Status { return w.chunks.Status(cx, cz) }

// AddBlockUpdateListener registers fn for every applied edit. The returned
// function removes it.
func (w *World) AddBlockUpdateListener(fn func(BlockUpdate)) func() {
	w.listeners = append(w.listeners, fn)
	idx := len(w.listeners) - 1
	return func() {
		if idx < len(w.listeners) {
			w.listeners[idx] = nil
		}
	}
}

func (w *World) IsWithinWorld(cx, cz int) bool { return w.opts.ChunkWithinWorld(cx, cz) }

func (w *World) VoxelAt(vx, vy, vz int) uint32 {
	if c := w.chunks.ChunkByVoxel(vx, vz); c != nil {
		return c.VoxelAt(vx, vy, vz)
	}
	return voxel.Air
}

func (w *World) VoxelRotationAt(vx, vy, vz int) voxel.Rotation {
	if c := w.chunks.ChunkByVoxel(vx, vz); c != nil {
		return c.VoxelRotationAt(vx, vy, vz)
	}
	return voxel.Rotation{}
}

func (w *World) VoxelStageAt(vx, vy, vz int) uint32 {
	if c := w.chunks.ChunkByVoxel(vx, vz); c != nil {
		return c.VoxelStageAt(vx, vy, vz)
	}
	return 0
}

func (w *World) SunlightAt(vx, vy, vz int) uint32 {
	if c := w.chunks.ChunkByVoxel(vx, vz); c != nil {
		return c.SunlightAt(vx, vy, vz)
	}
	return 0
}

func (w *World) TorchLightAt(vx, vy, vz int, color voxel.Color) uint32 {
	if c := w.chunks.ChunkByVoxel(vx, vz); c != nil {
		return c.TorchLightAt(vx, vy, vz, color)
	}
	return 0
}

func (w *World) BlockAt(vx, vy, vz int) *registry.Block {
	return w.reg.Lookup(w.VoxelAt(vx, vy, vz))
}

// MaxHeightAt is the highest non-air voxel in the column, or -1.
func (w *World) MaxHeightAt(vx, vz int) int {
	if c := w.chunks.ChunkByVoxel(vx, vz); c != nil {
		return c.MaxHeightAt(vx, vz)
	}
	return -1
}

// RelightChunk recomputes the light of one loaded chunk from its voxels,
// including light entering from loaded neighbors.
func (w *World) RelightChunk(cc mathx.Coords2) bool {
	c := w.chunks.ChunkAt(cc)
	if c == nil || len(c.Voxels) == 0 {
		return false
	}
	c.Allocate()
	min := [3]int{c.Min[0], 0, c.Min[2]}
	shape := [3]int{c.Size, c.MaxHeight, c.Size}
	e := w.engine.WithChunkRange([2]int{cc[0] - 1, cc[1] - 1}, [2]int{cc[0] + 1, cc[1] + 1})
	for _, col := range voxel.Colors {
		for x := 0; x < shape[0]; x++ {
			for z := 0; z < shape[2]; z++ {
				for y := 0; y < shape[1]; y++ {
					c.SetLight(min[0]+x, y, min[2]+z, col, 0)
				}
			}
		}
	}
	queues := e.Propagate(w.chunks, min, shape)
	for _, col := range voxel.Colors {
		queues[col] = append(queues[col], w.borderLight(c, col)...)
		e.Flood(w.chunks, queues[col], col, nil)
	}
	c.IsDirty = true
	// The flood may reach into any chunk of the 3x3; light jobs holding
	// copies of those chunks must not write back over it.
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			if n := w.chunks.ChunkAt(mathx.Coords2{cc[0] + dx, cc[1] + dz}); n != nil {
				n.TouchLights()
			}
		}
	}
	return true
}

// borderLight collects lit voxels of loaded neighbors that touch the chunk,
// so their light floods back in.
func (w *World) borderLight(c *chunk.Chunk, col voxel.Color) []light.Node {
	var out []light.Node
	add := func(vx, vy, vz int) {
		if lvl := w.chunks.LightLevel(vx, vy, vz, col); lvl > 1 {
			out = append(out, light.Node{Voxel: [3]int{vx, vy, vz}, Level: lvl})
		}
	}
	for y := 0; y < c.MaxHeight; y++ {
		for i := 0; i < c.Size; i++ {
			add(c.Min[0]-1, y, c.Min[2]+i)
			add(c.Max[0], y, c.Min[2]+i)
			add(c.Min[0]+i, y, c.Min[2]-1)
			add(c.Min[0]+i, y, c.Max[2])
		}
	}
	return out
}
