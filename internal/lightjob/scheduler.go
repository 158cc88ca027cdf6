package lightjob

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/light"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/voxel"
	"voxelclient.ai/internal/workerpool"
)

// Chunks gives the scheduler main-goroutine access to loaded chunks.
type Chunks interface {
	ChunkAt(coords mathx.Coords2) *chunk.Chunk
}

// Remesher is told about every voxel whose light changed.
type Remesher interface {
	TrackVoxel(vx, vy, vz int)
}

// Runner executes jobs off the main goroutine.
type Runner interface {
	Run(in Input) *workerpool.Handle[Result]
	Busy() bool
}

// PoolRunner runs Process on a worker pool.
type PoolRunner struct {
	Pool *workerpool.Pool
}

func (r PoolRunner) Run(in Input) *workerpool.Handle[Result] {
	return workerpool.Submit(r.Pool, func() (Result, error) { return Process(in) })
}

func (r PoolRunner) Busy() bool { return r.Pool.Busy() }

type Outcome string

const (
	OutcomeAccepted     Outcome = "accepted"
	OutcomeStaleRetry   Outcome = "stale_retry"
	OutcomeSyncFallback Outcome = "sync_fallback"
	OutcomeWorkerError  Outcome = "worker_error"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeSync         Outcome = "sync"
)

type Event struct {
	At      time.Time
	JobID   string
	Color   voxel.Color
	Outcome Outcome
	Retry   int
	Chunks  int
	Elapsed time.Duration
}

type Tracer interface {
	TraceLightJob(ev Event)
}

type Stats struct {
	Jobs          int
	Dispatched    int
	Accepted      int
	StaleRetries  int
	SyncFallbacks int
	WorkerErrors  int
	Timeouts      int
	SyncRuns      int
}

type Config struct {
	Engine light.Engine
	World  config.WorldOptions
	Chunks Chunks
	// Space is the canonical main-goroutine view, used for synchronous runs.
	Space  light.Space
	Deltas *DeltaTracker
	Runner Runner
	Remesh Remesher
	Tracer Tracer
	Logger *log.Logger
	Now    func() time.Time
}

// stamp identifies the chunk contents a worker was given: the load serial
// and the in-place light revision.
type stamp struct {
	serial   uint64
	lightRev uint64
}

type flight struct {
	job     *Job
	handle  *workerpool.Handle[Result]
	stamps  map[mathx.Coords2]stamp
	started time.Time
}

// Scheduler turns accumulated light operations into jobs, runs them on
// workers and accepts a result only if no newer edit landed in the job's
// chunk grid while it was computing. Stale jobs are retried up to the retry
// limit, then run synchronously. All methods run on the main goroutine.
type Scheduler struct {
	cfg Config

	pending      light.Operations
	pendingStart uint64
	hasPending   bool

	queue    []*Job
	inflight []*flight

	stats Stats
}

func New(cfg Config) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "", 0)
	}
	return &Scheduler{cfg: cfg}
}

func (s *Scheduler) Stats() Stats { return s.stats }

func (s *Scheduler) QueueLen() int { return len(s.queue) }

func (s *Scheduler) InFlight() int { return len(s.inflight) }

// Idle reports that nothing is pending, queued or running.
func (s *Scheduler) Idle() bool {
	return !s.hasPending && len(s.queue) == 0 && len(s.inflight) == 0
}

func (s *Scheduler) useWorkers() bool {
	return s.cfg.World.UseLightWorkers && s.cfg.Runner != nil
}

// Accumulate merges ops into the pending batch. The batch keeps the lowest
// start sequence id it has seen.
func (s *Scheduler) Accumulate(ops light.Operations, startSeq uint64) {
	if !ops.HasOperations {
		return
	}
	s.pending.Merge(ops)
	if !s.hasPending || startSeq < s.pendingStart {
		s.pendingStart = startSeq
	}
	s.hasPending = true
}

// Flush turns the pending batch into one job per color and dispatches.
func (s *Scheduler) Flush() {
	if s.hasPending {
		for _, c := range voxel.Colors {
			ops := s.pending.ByColor[c]
			if ops.Empty() {
				continue
			}
			job := s.newJob(c, ops, s.pendingStart)
			s.stats.Jobs++
			if s.useWorkers() {
				s.queue = append(s.queue, job)
			} else {
				s.runSync(job, OutcomeSync)
			}
		}
		s.pending.Reset()
		s.hasPending = false
	}
	s.Dispatch()
}

func (s *Scheduler) newJob(c voxel.Color, ops light.ColorOps, startSeq uint64) *Job {
	w := s.cfg.World
	first := true
	var box Box
	add := func(p [3]int) {
		if first {
			box = Box{Min: p, Max: p}
			first = false
			return
		}
		for i := 0; i < 3; i++ {
			if p[i] < box.Min[i] {
				box.Min[i] = p[i]
			}
			if p[i] > box.Max[i] {
				box.Max[i] = p[i]
			}
		}
	}
	for _, p := range ops.Removals {
		add(p)
	}
	for _, f := range ops.Floods {
		add(f.Voxel)
	}

	r := w.MaxLightLevel
	lo := [3]int{w.MinChunk[0] * w.ChunkSize, 0, w.MinChunk[1] * w.ChunkSize}
	hi := [3]int{(w.MaxChunk[0]+1)*w.ChunkSize - 1, w.MaxHeight - 1, (w.MaxChunk[1]+1)*w.ChunkSize - 1}
	for i := 0; i < 3; i++ {
		box.Min[i] = mathx.ClampInt(box.Min[i]-r, lo[i], hi[i])
		box.Max[i] = mathx.ClampInt(box.Max[i]+r, lo[i], hi[i])
	}

	return &Job{
		ID:       uuid.NewString(),
		Color:    c,
		Ops:      ops,
		Box:      box,
		Grid:     Rect{Min: mathx.VoxelToChunk(box.Min[0], box.Min[2], w.ChunkSize), Max: mathx.VoxelToChunk(box.Max[0], box.Max[2], w.ChunkSize)},
		StartSeq: startSeq,
		Created:  s.cfg.Now(),
	}
}

// Dispatch starts queued jobs while the runner has capacity. A job whose
// grid overlaps a running job, or an earlier job still waiting, keeps its
// place so jobs touching the same chunks apply in order.
func (s *Scheduler) Dispatch() {
	if !s.useWorkers() {
		return
	}
	var blocked []Rect
	kept := s.queue[:0]
	for _, j := range s.queue {
		if s.cfg.Runner.Busy() || overlapsAny(j.Grid, blocked) || s.overlapsInFlight(j.Grid) {
			kept = append(kept, j)
			blocked = append(blocked, j.Grid)
			continue
		}
		s.start(j)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
}

func overlapsAny(r Rect, rs []Rect) bool {
	for _, o := range rs {
		if r.Overlaps(o) {
			return true
		}
	}
	return false
}

func (s *Scheduler) overlapsInFlight(r Rect) bool {
	for _, f := range s.inflight {
		if r.Overlaps(f.job.Grid) {
			return true
		}
	}
	return false
}

func (s *Scheduler) start(j *Job) {
	in := Input{
		Job:     *j,
		Engine:  s.cfg.Engine,
		Deltas:  map[mathx.Coords2][]Delta{},
		Applied: map[mathx.Coords2]uint64{},
	}
	stamps := map[mathx.Coords2]stamp{}
	j.Grid.Each(func(cc mathx.Coords2) {
		g := GridChunk{Coords: cc}
		if c := s.cfg.Chunks.ChunkAt(cc); c != nil {
			snap := c.Serialize()
			g.Snapshot = &snap
			stamps[cc] = stamp{serial: c.Serial(), lightRev: c.LightRevision()}
		}
		in.Grid = append(in.Grid, g)
		if ds := s.cfg.Deltas.Since(cc, j.StartSeq); len(ds) > 0 {
			in.Deltas[cc] = ds
		}
		in.Applied[cc] = s.cfg.Deltas.LastSeq(cc)
	})
	s.inflight = append(s.inflight, &flight{job: j, handle: s.cfg.Runner.Run(in), stamps: stamps, started: s.cfg.Now()})
	s.stats.Dispatched++
}

// Poll handles every finished job, then dispatches what became eligible.
// A job running past LightJobTimeout is abandoned and run synchronously;
// its late result is ignored.
func (s *Scheduler) Poll() {
	var done, expired []*flight
	now := s.cfg.Now()
	remaining := s.inflight[:0]
	for _, f := range s.inflight {
		switch {
		case f.handle.Ready():
			done = append(done, f)
		case s.cfg.World.LightJobTimeout > 0 && now.Sub(f.started) > s.cfg.World.LightJobTimeout:
			expired = append(expired, f)
		default:
			remaining = append(remaining, f)
		}
	}
	for i := len(remaining); i < len(s.inflight); i++ {
		s.inflight[i] = nil
	}
	s.inflight = remaining
	for _, f := range done {
		s.complete(f)
	}
	for _, f := range expired {
		s.stats.Timeouts++
		s.cfg.Logger.Printf("light job timed out job=%s color=%s after=%s", f.job.ID, f.job.Color, now.Sub(f.started))
		s.trace(f.job, OutcomeTimeout, 0, now.Sub(f.started))
		s.runSync(f.job, OutcomeSyncFallback)
	}
	s.Dispatch()
}

func (s *Scheduler) complete(f *flight) {
	res, err := f.handle.Result()
	job := f.job
	if err != nil {
		s.stats.WorkerErrors++
		s.cfg.Logger.Printf("light job failed job=%s color=%s err=%v", job.ID, job.Color, err)
		s.trace(job, OutcomeWorkerError, 0, 0)
		s.runSync(job, OutcomeSyncFallback)
		return
	}
	if s.isStale(f, res) {
		job.Retry++
		s.stats.StaleRetries++
		s.trace(job, OutcomeStaleRetry, len(res.Modified), res.Elapsed)
		if job.Retry > s.cfg.World.LightJobRetryLimit {
			s.cfg.Logger.Printf("light job retries exhausted job=%s color=%s retry=%d", job.ID, job.Color, job.Retry)
			s.runSync(job, OutcomeSyncFallback)
			return
		}
		job.StartSeq = s.cfg.Deltas.Current()
		s.queue = append([]*Job{job}, s.queue...)
		return
	}
	s.accept(res)
	s.stats.Accepted++
	s.trace(job, OutcomeAccepted, len(res.Modified), res.Elapsed)
}

// isStale reports whether any chunk in the job's grid changed after the
// input was captured: a newer delta, a reload, light rewritten in place,
// or a chunk that loaded while the job ran.
func (s *Scheduler) isStale(f *flight, res Result) bool {
	stale := false
	f.job.Grid.Each(func(cc mathx.Coords2) {
		if stale {
			return
		}
		if s.cfg.Deltas.LastSeq(cc) > res.Applied[cc] {
			stale = true
			return
		}
		c := s.cfg.Chunks.ChunkAt(cc)
		if c == nil {
			return
		}
		before, wasLoaded := f.stamps[cc]
		if !wasLoaded || c.Serial() != before.serial || c.LightRevision() != before.lightRev {
			stale = true
		}
	})
	return stale
}

func (s *Scheduler) accept(res Result) {
	for _, m := range res.Modified {
		c := s.cfg.Chunks.ChunkAt(m.Coords)
		if c == nil || len(m.Lights) != c.Volume() {
			continue
		}
		s.trackDiff(c, c.Lights, m.Lights)
		c.Lights = m.Lights
		c.IsDirty = true
	}
}

func (s *Scheduler) trackDiff(c *chunk.Chunk, before, after []uint32) {
	if s.cfg.Remesh == nil {
		return
	}
	h, size := c.MaxHeight, c.Size
	for i, v := range after {
		var old uint32
		if i < len(before) {
			old = before[i]
		}
		if old == v {
			continue
		}
		lx, ly, lz := i/(h*size), (i/size)%h, i%size
		s.cfg.Remesh.TrackVoxel(c.Min[0]+lx, ly, c.Min[2]+lz)
	}
}

func (s *Scheduler) runSync(job *Job, outcome Outcome) {
	start := time.Now()
	rec := &recordingSpace{Space: s.cfg.Space, s: s, touched: map[mathx.Coords2]bool{}}
	e := s.cfg.Engine.WithChunkRange(job.Grid.Min, job.Grid.Max)
	e.Apply(rec, job.Color, job.Ops, job.Box.Bounds())
	if outcome == OutcomeSync {
		s.stats.SyncRuns++
	} else {
		s.stats.SyncFallbacks++
	}
	s.trace(job, outcome, len(rec.touched), time.Since(start))
}

func (s *Scheduler) trace(job *Job, outcome Outcome, chunks int, elapsed time.Duration) {
	if s.cfg.Tracer == nil {
		return
	}
	s.cfg.Tracer.TraceLightJob(Event{
		At:      s.cfg.Now(),
		JobID:   job.ID,
		Color:   job.Color,
		Outcome: outcome,
		Retry:   job.Retry,
		Chunks:  chunks,
		Elapsed: elapsed,
	})
}

// Wait polls until the scheduler is idle or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.Flush()
		s.Poll()
		if s.Idle() {
			return nil
		}
		var next <-chan struct{}
		if len(s.inflight) > 0 {
			next = s.inflight[0].handle.Done()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-next:
		case <-time.After(time.Millisecond):
		}
	}
}

// recordingSpace marks chunks dirty and feeds the remesher as a
// synchronous run writes light.
type recordingSpace struct {
	light.Space
	s       *Scheduler
	touched map[mathx.Coords2]bool
}

func (r *recordingSpace) SetLightLevel(vx, vy, vz int, c voxel.Color, level uint32) {
	if r.Space.LightLevel(vx, vy, vz, c) == level {
		return
	}
	r.Space.SetLightLevel(vx, vy, vz, c, level)
	cc := mathx.VoxelToChunk(vx, vz, r.s.cfg.World.ChunkSize)
	if !r.touched[cc] {
		r.touched[cc] = true
		if ch := r.s.cfg.Chunks.ChunkAt(cc); ch != nil {
			ch.IsDirty = true
		}
	}
	if r.s.cfg.Remesh != nil {
		r.s.cfg.Remesh.TrackVoxel(vx, vy, vz)
	}
}
