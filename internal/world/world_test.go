package world

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"voxelclient.ai/internal/chunks"
	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/lightjob"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/mesh"
	"voxelclient.ai/internal/protocol"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/voxel"
	"voxelclient.ai/internal/workerpool"
)

const (
	idStone = 1
	idTorch = 2
)

// inlineMesher resolves every job before returning the handle.
type inlineMesher struct{ runs int }

func (m *inlineMesher) Run(in mesh.Input) *workerpool.Handle[[]protocol.GeometryProtocol] {
	m.runs++
	h, resolve := workerpool.NewHandle[[]protocol.GeometryProtocol]()
	resolve(mesh.Mesh(in), nil)
	return h
}

func (m *inlineMesher) Busy() bool { return false }

type heldCall struct {
	in      lightjob.Input
	resolve func(lightjob.Result, error)
}

// heldLights keeps every light job until releaseAll runs them.
type heldLights struct{ pending []heldCall }

func (r *heldLights) Run(in lightjob.Input) *workerpool.Handle[lightjob.Result] {
	h, resolve := workerpool.NewHandle[lightjob.Result]()
	r.pending = append(r.pending, heldCall{in: in, resolve: resolve})
	return h
}

func (r *heldLights) Busy() bool { return false }

func (r *heldLights) releaseAll() int {
	calls := r.pending
	r.pending = nil
	for _, c := range calls {
		res, err := lightjob.Process(c.in)
		c.resolve(res, err)
	}
	return len(calls)
}

func testOptions() config.WorldOptions {
	o := config.DefaultWorldOptions()
	o.ChunkSize = 8
	o.MaxHeight = 16
	o.SubChunks = 2
	o.MinChunk = [2]int{-2, -2}
	o.MaxChunk = [2]int{2, 2}
	o.DefaultRenderRadius = 2
	o.MaxProcessesPerUpdate = 100
	o.UseLightWorkers = false
	return o
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New([]registry.Block{
		{ID: idStone, Name: "stone"},
		{ID: idTorch, Name: "torch", RedLightLevel: 15, IsTransparent: [6]bool{true, true, true, true, true, true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func newWorld(t *testing.T, o config.WorldOptions, now func() time.Time) (*World, *inlineMesher) {
	t.Helper()
	m := &inlineMesher{}
	w, err := New(Options{
		World:      o,
		Registry:   testRegistry(t),
		MeshRunner: m,
		Logger:     log.New(io.Discard, "", 0),
		Now:        now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(w.Close)
	return w, m
}

// floorChunk has a stone floor at y=0 and no light array.
func floorChunk(o config.WorldOptions, cx, cz int) protocol.ChunkProtocol {
	vox := make([]uint32, o.ChunkSize*o.MaxHeight*o.ChunkSize)
	stride := o.MaxHeight * o.ChunkSize
	for x := 0; x < o.ChunkSize; x++ {
		for z := 0; z < o.ChunkSize; z++ {
			vox[x*stride+z] = idStone
		}
	}
	return protocol.ChunkProtocol{ID: mathx.ChunkName(cx, cz), X: cx, Z: cz, Voxels: vox}
}

// loadAround loads the 3x3 chunks around the origin and runs one frame.
func loadAround(t *testing.T, w *World) {
	t.Helper()
	o := w.Options()
	var cs []protocol.ChunkProtocol
	for cx := -1; cx <= 1; cx++ {
		for cz := -1; cz <= 1; cz++ {
			cs = append(cs, floorChunk(o, cx, cz))
		}
	}
	w.OnLoad(protocol.LoadMsg{Type: protocol.TypeLoad, ProtocolVersion: protocol.Version, Chunks: cs})
	w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})
	if got := w.Chunks().LoadedCount(); got != 9 {
		t.Fatalf("loaded: got=%d want=9", got)
	}
	w.Packets()
}

func updates(packets []any) []protocol.UpdateProtocol {
	var out []protocol.UpdateProtocol
	for _, p := range packets {
		if msg, ok := p.(protocol.UpdateMsg); ok {
			out = append(out, msg.Updates...)
		}
	}
	return out
}

func TestNew_RequiresRegistry(t *testing.T) {
	if _, err := New(Options{World: testOptions()}); !errors.Is(err, registry.ErrUnknownBlock) {
		t.Fatalf("expected registry error, got %v", err)
	}
}

func TestUpdate_RelightsChunksWithoutLight(t *testing.T) {
	w, _ := newWorld(t, testOptions(), nil)
	loadAround(t, w)

	if got := w.SunlightAt(3, 1, 3); got != 15 {
		t.Fatalf("sunlight above floor: got=%d want=15", got)
	}
	if got := w.SunlightAt(-5, 15, 6); got != 15 {
		t.Fatalf("sunlight at top: got=%d want=15", got)
	}
	if got := w.MaxHeightAt(3, 3); got != 0 {
		t.Fatalf("max height: got=%d want=0", got)
	}
}

func TestUpdate_TorchLightsNeighbors(t *testing.T) {
	w, m := newWorld(t, testOptions(), nil)
	loadAround(t, w)
	runsBefore := m.runs

	if err := w.UpdateVoxel(VoxelUpdate{VX: 7, VY: 3, VZ: 3, Type: idTorch}); err != nil {
		t.Fatalf("UpdateVoxel: %v", err)
	}
	w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})

	if got := w.VoxelAt(7, 3, 3); got != idTorch {
		t.Fatalf("voxel: got=%d", got)
	}
	if got := w.TorchLightAt(7, 3, 3, voxel.Red); got != 15 {
		t.Fatalf("torch cell: got=%d want=15", got)
	}
	// Crosses into chunk (1,0).
	if got := w.TorchLightAt(8, 3, 3, voxel.Red); got != 14 {
		t.Fatalf("neighbor chunk: got=%d want=14", got)
	}
	if got := w.TorchLightAt(7, 3, 6, voxel.Red); got != 12 {
		t.Fatalf("three steps: got=%d want=12", got)
	}
	if m.runs == runsBefore {
		t.Fatalf("edit did not remesh")
	}
	us := updates(w.Packets())
	if len(us) != 1 || us[0].Voxel != idTorch {
		t.Fatalf("emitted: %+v", us)
	}
	if !w.Idle() {
		t.Fatalf("world should be idle after a sync frame")
	}
}

func TestUpdate_RemovingTorchClearsLight(t *testing.T) {
	w, _ := newWorld(t, testOptions(), nil)
	loadAround(t, w)
	if err := w.UpdateVoxel(VoxelUpdate{VX: 2, VY: 3, VZ: 2, Type: idTorch}); err != nil {
		t.Fatal(err)
	}
	w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})
	if err := w.UpdateVoxel(VoxelUpdate{VX: 2, VY: 3, VZ: 2, Type: voxel.Air}); err != nil {
		t.Fatal(err)
	}
	w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})

	for _, p := range [][3]int{{2, 3, 2}, {3, 3, 2}, {-1, 3, 2}, {2, 6, 2}} {
		if got := w.TorchLightAt(p[0], p[1], p[2], voxel.Red); got != 0 {
			t.Fatalf("red at %v: got=%d want=0", p, got)
		}
	}
	if got := w.SunlightAt(2, 3, 2); got != 15 {
		t.Fatalf("sunlight disturbed: got=%d", got)
	}
}

func TestUpdateVoxel_SkipsNoOpEdits(t *testing.T) {
	w, _ := newWorld(t, testOptions(), nil)
	loadAround(t, w)
	u := VoxelUpdate{VX: 1, VY: 2, VZ: 1, Type: idStone}

	if err := w.UpdateVoxel(u); err != nil {
		t.Fatal(err)
	}
	w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})
	deltas := w.Deltas().Len(mathx.Coords2{0, 0})
	w.Packets()

	if err := w.UpdateVoxel(u); err != nil {
		t.Fatal(err)
	}
	if got := w.Chunks().UpdatesLen(); got != 0 {
		t.Fatalf("repeated edit queued: %d", got)
	}
	w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})
	if got := w.Deltas().Len(mathx.Coords2{0, 0}); got != deltas {
		t.Fatalf("deltas: got=%d want=%d", got, deltas)
	}
	if us := updates(w.Packets()); len(us) != 0 {
		t.Fatalf("repeated edit emitted: %+v", us)
	}
}

func TestUpdateVoxel_Validation(t *testing.T) {
	w, _ := newWorld(t, testOptions(), nil)
	loadAround(t, w)

	if err := w.UpdateVoxel(VoxelUpdate{VX: 1, VY: 16, VZ: 1, Type: idStone}); !errors.Is(err, ErrOutOfWorld) {
		t.Fatalf("above world: %v", err)
	}
	if err := w.UpdateVoxel(VoxelUpdate{VX: 100, VY: 1, VZ: 1, Type: idStone}); !errors.Is(err, ErrOutOfWorld) {
		t.Fatalf("outside bounds: %v", err)
	}
	if err := w.UpdateVoxel(VoxelUpdate{VX: 1, VY: 1, VZ: 1, Type: 99}); !errors.Is(err, registry.ErrUnknownBlock) {
		t.Fatalf("unknown id: %v", err)
	}
	if err := w.UpdateVoxel(VoxelUpdate{VX: 1, VY: 1, VZ: 1, Type: idStone, Stage: 16}); !errors.Is(err, ErrBadStage) {
		t.Fatalf("stage: %v", err)
	}

	err := w.UpdateVoxels([]VoxelUpdate{
		{VX: 1, VY: 1, VZ: 1, Type: 99},
		{VX: 1, VY: 1, VZ: 1, Type: idStone},
	})
	if err == nil {
		t.Fatalf("expected first error to be reported")
	}
	if got := w.Chunks().UpdatesLen(); got != 1 {
		t.Fatalf("valid edit not queued: %d", got)
	}
}

func TestProcessUpdates_DefersPastBudget(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	o := testOptions()
	o.UpdateTimeBudget = 2 * time.Millisecond
	w, _ := newWorld(t, o, now)
	loadAround(t, w)

	var batch []VoxelUpdate
	for x := 0; x < 8; x++ {
		batch = append(batch, VoxelUpdate{VX: x, VY: 5, VZ: 0, Type: idStone})
	}
	if err := w.UpdateVoxels(batch); err != nil {
		t.Fatal(err)
	}
	w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})
	left := w.Chunks().UpdatesLen()
	if left == 0 || left == len(batch) {
		t.Fatalf("expected a partial frame, %d left", left)
	}
	// The deferred edits keep their order at the front of the queue.
	next := w.Chunks().TakeUpdates(1)
	if next[0].VX != len(batch)-left {
		t.Fatalf("deferred order: got vx=%d want=%d", next[0].VX, len(batch)-left)
	}
	w.Chunks().RequeueUpdates(next)

	for i := 0; i < 20 && w.Chunks().UpdatesLen() > 0; i++ {
		w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})
	}
	for x := 0; x < 8; x++ {
		if got := w.VoxelAt(x, 5, 0); got != idStone {
			t.Fatalf("voxel %d not applied", x)
		}
	}
}

func TestHandleMessage_ServerUpdateIsNotEchoed(t *testing.T) {
	w, _ := newWorld(t, testOptions(), nil)
	loadAround(t, w)

	var seen []BlockUpdate
	remove := w.AddBlockUpdateListener(func(u BlockUpdate) { seen = append(seen, u) })

	raw := []byte(`{"type":"UPDATE","protocol_version":"1.0","updates":[{"vx":1,"vy":3,"vz":1,"voxel":1}]}`)
	if err := w.HandleMessage(raw); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})

	if got := w.VoxelAt(1, 3, 1); got != idStone {
		t.Fatalf("server edit not applied: %d", got)
	}
	if len(seen) != 1 || seen[0].Source != chunks.SourceUpdate || seen[0].Voxel != [3]int{1, 3, 1} {
		t.Fatalf("listener: %+v", seen)
	}
	if us := updates(w.Packets()); len(us) != 0 {
		t.Fatalf("server edit echoed: %+v", us)
	}

	remove()
	if err := w.UpdateVoxel(VoxelUpdate{VX: 2, VY: 3, VZ: 2, Type: idStone}); err != nil {
		t.Fatal(err)
	}
	w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})
	if len(seen) != 1 {
		t.Fatalf("removed listener still called")
	}
}

func TestHandleMessage_UnknownServerBlockIsDropped(t *testing.T) {
	w, _ := newWorld(t, testOptions(), nil)
	loadAround(t, w)

	raw := []byte(`{"type":"UPDATE","protocol_version":"1.0","updates":[{"vx":1,"vy":3,"vz":1,"voxel":77}]}`)
	if err := w.HandleMessage(raw); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})
	if got := w.VoxelAt(1, 3, 1); got != voxel.Air {
		t.Fatalf("unknown block applied: %d", got)
	}
	if got := w.Chunks().UpdatesLen(); got != 0 {
		t.Fatalf("dropped edit still queued")
	}
}

func TestHandleMessage_RejectsInvalid(t *testing.T) {
	w, _ := newWorld(t, testOptions(), nil)
	for _, raw := range []string{
		`{"type":"UPDATE","protocol_version":"1.0"}`,
		`{"type":"NOPE","protocol_version":"1.0"}`,
		`not json`,
	} {
		if err := w.HandleMessage([]byte(raw)); err == nil {
			t.Fatalf("accepted %s", raw)
		}
	}
}

func TestUpdate_UnloadForgetsState(t *testing.T) {
	w, _ := newWorld(t, testOptions(), nil)
	loadAround(t, w)
	if err := w.UpdateVoxel(VoxelUpdate{VX: 1, VY: 3, VZ: 1, Type: idStone}); err != nil {
		t.Fatal(err)
	}
	w.Update(mgl64.Vec3{4, 8, 4}, mgl64.Vec3{})
	if w.Deltas().Len(mathx.Coords2{0, 0}) == 0 {
		t.Fatalf("edit not recorded")
	}
	w.Packets()

	w.Update(mgl64.Vec3{20, 8, 20}, mgl64.Vec3{})
	if got := w.ChunkStatus(0, 0); got == chunks.StatusLoaded {
		t.Fatalf("chunk (0,0) still loaded")
	}
	if got := w.Deltas().Len(mathx.Coords2{0, 0}); got != 0 {
		t.Fatalf("deltas kept for unloaded chunk: %d", got)
	}
	var unloaded bool
	for _, p := range w.Packets() {
		if _, ok := p.(protocol.UnloadMsg); ok {
			unloaded = true
		}
	}
	if !unloaded {
		t.Fatalf("no UNLOAD sent")
	}
}

func TestSettle_WithLightWorkers(t *testing.T) {
	o := testOptions()
	o.UseLightWorkers = true
	w, _ := newWorld(t, o, nil)
	loadAround(t, w)

	if err := w.UpdateVoxel(VoxelUpdate{VX: 3, VY: 2, VZ: 3, Type: idTorch}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Settle(ctx); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if got := w.TorchLightAt(3, 2, 5, voxel.Red); got != 13 {
		t.Fatalf("red: got=%d want=13", got)
	}
	if st := w.LightStats(); st.Accepted == 0 {
		t.Fatalf("no worker result applied: %+v", st)
	}
}

func TestRelightChunk_SurvivesLightJobInFlight(t *testing.T) {
	o := testOptions()
	o.UseLightWorkers = true
	held := &heldLights{}
	w, err := New(Options{
		World:       o,
		Registry:    testRegistry(t),
		MeshRunner:  &inlineMesher{},
		LightRunner: held,
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(w.Close)
	loadAround(t, w)
	pos := mgl64.Vec3{4, 8, 4}

	if err := w.UpdateVoxel(VoxelUpdate{VX: 9, VY: 3, VZ: 4, Type: idTorch}); err != nil {
		t.Fatal(err)
	}
	w.Update(pos, mgl64.Vec3{})
	if len(held.pending) == 0 {
		t.Fatalf("torch job not dispatched")
	}

	// Chunk (2,0) arrives without light while the job is held. Its torch
	// lights the border of chunk (1,0) on the main goroutine.
	next := floorChunk(o, 2, 0)
	next.Voxels[3*o.ChunkSize+4] = idTorch
	w.OnLoad(protocol.LoadMsg{Type: protocol.TypeLoad, ProtocolVersion: protocol.Version, Chunks: []protocol.ChunkProtocol{next}})
	w.Update(pos, mgl64.Vec3{})
	if got := w.TorchLightAt(15, 3, 4, voxel.Red); got != 14 {
		t.Fatalf("relit border: got=%d want=14", got)
	}

	for i := 0; i < 10 && !w.Idle(); i++ {
		held.releaseAll()
		w.Update(pos, mgl64.Vec3{})
	}
	if !w.Idle() {
		t.Fatalf("world did not settle: %+v", w.LightStats())
	}
	if st := w.LightStats(); st.StaleRetries == 0 || st.Accepted == 0 {
		t.Fatalf("expected the held job to be retried then accepted: %+v", st)
	}
	for _, c := range []struct {
		x    int
		want uint32
	}{{9, 15}, {12, 12}, {15, 14}, {16, 15}, {17, 14}} {
		if got := w.TorchLightAt(c.x, 3, 4, voxel.Red); got != c.want {
			t.Fatalf("red at (%d,3,4): got=%d want=%d", c.x, got, c.want)
		}
	}
}
