package mesh

import (
	"io"
	"log"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/protocol"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/workerpool"
)

type Chunks interface {
	ChunkAt(cc mathx.Coords2) *chunk.Chunk
}

// Runner executes mesh jobs off the main goroutine.
type Runner interface {
	Run(in Input) *workerpool.Handle[[]protocol.GeometryProtocol]
	Busy() bool
}

type PoolRunner struct{ Pool *workerpool.Pool }

func (r PoolRunner) Run(in Input) *workerpool.Handle[[]protocol.GeometryProtocol] {
	return workerpool.Submit(r.Pool, func() ([]protocol.GeometryProtocol, error) { return Mesh(in), nil })
}

func (r PoolRunner) Busy() bool { return r.Pool.Busy() }

type Config struct {
	World    config.WorldOptions
	Registry *registry.Registry
	Chunks   Chunks
	Runner   Runner
	Builder  chunk.MeshBuilder
	Logger   *log.Logger
}

type job struct {
	key    Key
	gen    uint64
	serial uint64
	handle *workerpool.Handle[[]protocol.GeometryProtocol]
}

type Stats struct {
	Started  int
	Applied  int
	Dropped  int
	Failures int
}

// Remesher turns tracked edits into mesh jobs. Edits are tracked while
// light is settling and only become jobs on Flush.
type Remesher struct {
	cfg      Config
	tracker  *Tracker
	pipeline *Pipeline
	jobs     []*job
	active   map[Key]*job
	stats    Stats
}

func NewRemesher(cfg Config) *Remesher {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Builder == nil {
		cfg.Builder = chunk.GeometryBuilder{}
	}
	return &Remesher{
		cfg:      cfg,
		tracker:  NewTracker(cfg.World),
		pipeline: NewPipeline(),
		active:   map[Key]*job{},
	}
}

func (r *Remesher) TrackVoxel(vx, vy, vz int) { r.tracker.TrackVoxel(vx, vy, vz) }

func (r *Remesher) TrackChunk(cc mathx.Coords2) { r.tracker.TrackChunk(cc) }

func (r *Remesher) Pending() int { return r.tracker.Len() }

func (r *Remesher) Stats() Stats { return r.stats }

func (r *Remesher) Pipeline() *Pipeline { return r.pipeline }

// MarkFresh records server-built meshes for a level.
func (r *Remesher) MarkFresh(cc mathx.Coords2, level int) {
	r.pipeline.MarkFresh(Key{Coords: cc, Level: level})
}

// Forget drops all state of an unloaded chunk. Running jobs for it are
// dropped when they finish.
func (r *Remesher) Forget(cc mathx.Coords2) {
	r.pipeline.Remove(cc)
	for k := range r.active {
		if k.Coords == cc {
			delete(r.active, k)
		}
	}
}

// Flush moves tracked keys into the pipeline and starts jobs.
func (r *Remesher) Flush() {
	for _, k := range r.tracker.Drain() {
		r.pipeline.Mark(k)
	}
	r.Dispatch()
}

// Discard drops tracked keys without meshing them.
func (r *Remesher) Discard() { r.tracker.Drain() }

// Dispatch starts jobs for dirty keys while the runner has capacity.
func (r *Remesher) Dispatch() {
	for _, k := range r.pipeline.DirtyKeys(0) {
		if r.cfg.Runner.Busy() {
			return
		}
		c := r.cfg.Chunks.ChunkAt(k.Coords)
		if c == nil {
			r.pipeline.Remove(k.Coords)
			continue
		}
		gen, ok := r.pipeline.Start(k)
		if !ok {
			continue
		}
		in := Input{
			Key:         k,
			Generation:  gen,
			LevelHeight: r.cfg.World.SubChunkHeight(),
			Registry:    r.cfg.Registry,
		}
		for dx := -1; dx <= 1; dx++ {
			for dz := -1; dz <= 1; dz++ {
				n := r.cfg.Chunks.ChunkAt(mathx.Coords2{k.Coords[0] + dx, k.Coords[1] + dz})
				if n == nil {
					continue
				}
				snap := n.Serialize()
				in.Grid[gridIndex(dx, dz)] = &snap
			}
		}
		j := &job{key: k, gen: gen, serial: c.Serial(), handle: r.cfg.Runner.Run(in)}
		r.jobs = append(r.jobs, j)
		r.active[k] = j
		r.stats.Started++
	}
}

// Poll applies finished jobs. A result is dropped if its chunk was
// unloaded or replaced by a newer payload while the job ran.
func (r *Remesher) Poll() {
	remaining := r.jobs[:0]
	var done []*job
	for _, j := range r.jobs {
		if j.handle.Ready() {
			done = append(done, j)
		} else {
			remaining = append(remaining, j)
		}
	}
	for i := len(remaining); i < len(r.jobs); i++ {
		r.jobs[i] = nil
	}
	r.jobs = remaining

	for _, j := range done {
		geos, err := j.handle.Result()
		if r.active[j.key] != j {
			r.stats.Dropped++
			continue
		}
		delete(r.active, j.key)
		c := r.cfg.Chunks.ChunkAt(j.key.Coords)
		switch {
		case err != nil:
			r.stats.Failures++
			r.cfg.Logger.Printf("mesh job failed key=%s err=%v", j.key, err)
			r.pipeline.Abort(j.key)
		case c == nil || c.Serial() != j.serial:
			r.stats.Dropped++
			r.pipeline.Abort(j.key)
		default:
			if r.pipeline.Complete(j.key, j.gen)&JobAccepted == 0 {
				r.stats.Dropped++
				continue
			}
			c.SetMeshes(j.key.Level, r.cfg.Builder.Build(c, j.key.Level, geos))
			if r.pipeline.Settled(j.key.Coords) {
				c.IsDirty = false
			}
			r.stats.Applied++
		}
	}
	r.Dispatch()
}

// Idle reports whether nothing is tracked, dirty or running.
func (r *Remesher) Idle() bool {
	return len(r.jobs) == 0 && r.tracker.Len() == 0 && !r.pipeline.HasDirty()
}

func (r *Remesher) InFlight() int { return len(r.jobs) }
