package light

import (
	"testing"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/voxel"
)

const (
	idStone = 1
	idTorch = 2
	idDim   = 3
	idLamp  = 4
	idLever = 5
	idLeaf  = 6
)

func u32(v uint32) *uint32 { return &v }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	open := [6]bool{true, true, true, true, true, true}
	lever := uint32(idLever)
	reg, err := registry.New([]registry.Block{
		{ID: idStone, Name: "stone"},
		{ID: idTorch, Name: "torch", IsTransparent: open, RedLightLevel: 15},
		{ID: idDim, Name: "dim", IsTransparent: open, RedLightLevel: 10},
		{ID: idLamp, Name: "lamp", IsTransparent: open, DynamicPatterns: []registry.DynamicPattern{{
			Parts: []registry.DynamicPart{{
				Rule:          registry.Rule{Type: registry.RuleSimple, Offset: [3]int{0, -1, 0}, ID: &lever},
				RedLightLevel: u32(12),
			}},
		}}},
		{ID: idLever, Name: "lever", IsTransparent: open},
		{ID: idLeaf, Name: "leaf", IsTransparent: open, LightReduce: true},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

// newSpace loads the chunks in [-r, r]^2 and narrows the engine to them.
func newSpace(t *testing.T, height, r int) (Engine, *ChunkSpace) {
	t.Helper()
	opts := config.DefaultWorldOptions()
	opts.MaxHeight = height
	opts.SubChunks = 4
	e := NewEngine(testRegistry(t), opts).WithChunkRange([2]int{-r, -r}, [2]int{r, r})
	s := NewChunkSpace(opts.ChunkSize, height)
	for cx := -r; cx <= r; cx++ {
		for cz := -r; cz <= r; cz++ {
			c := chunk.NewRaw(mathx.ChunkName(cx, cz), cx, cz, opts.ChunkSize, height)
			c.Allocate()
			s.Add(c)
		}
	}
	return e, s
}

func relightAll(e Engine, s *ChunkSpace, r int) {
	size := e.ChunkSize
	e.Relight(s, [3]int{-r * size, 0, -r * size}, [3]int{(2*r + 1) * size, e.MaxHeight, (2*r + 1) * size})
}

// edit applies one voxel change the way the world does: analyze, write, apply.
func edit(e Engine, s *ChunkSpace, pos [3]int, raw uint32) {
	var ops Operations
	e.Analyze(s, pos, raw, &ops)
	s.SetRawVoxel(pos[0], pos[1], pos[2], raw)
	for _, c := range voxel.Colors {
		e.Apply(s, c, ops.ByColor[c], nil)
	}
}

func assertSameField(t *testing.T, got, want *ChunkSpace, r, height int, colors ...voxel.Color) {
	t.Helper()
	size := 16
	for x := -r * size; x < (r+1)*size; x++ {
		for z := -r * size; z < (r+1)*size; z++ {
			for y := 0; y < height; y++ {
				for _, c := range colors {
					g, w := got.LightLevel(x, y, z, c), want.LightLevel(x, y, z, c)
					if g != w {
						t.Fatalf("%s at (%d,%d,%d): got=%d want=%d", c, x, y, z, g, w)
					}
				}
			}
		}
	}
}

func TestFlood_RedEmitterNeighborsAndCorridor(t *testing.T) {
	e, s := newSpace(t, 256, 1)
	edit(e, s, [3]int{8, 10, 8}, idTorch)

	if got := s.LightLevel(8, 10, 8, voxel.Red); got != 15 {
		t.Fatalf("source: got=%d want=15", got)
	}
	for _, d := range neighbors {
		if got := s.LightLevel(8+d[0], 10+d[1], 8+d[2], voxel.Red); got != 14 {
			t.Fatalf("neighbor %v: got=%d want=14", d, got)
		}
	}
	if got := s.LightLevel(8+14, 10, 8, voxel.Red); got != 1 {
		t.Fatalf("distance 14: got=%d want=1", got)
	}
	if got := s.LightLevel(8+15, 10, 8, voxel.Red); got != 0 {
		t.Fatalf("distance 15: got=%d want=0", got)
	}
}

func TestFlood_MonotonicDecay(t *testing.T) {
	e, s := newSpace(t, 32, 1)
	src := [3]int{3, 12, -5}
	edit(e, s, src, idTorch)
	for x := -16; x < 32; x++ {
		for z := -16; z < 32; z++ {
			for y := 0; y < 32; y++ {
				d := mathx.AbsInt(x-src[0]) + mathx.AbsInt(y-src[1]) + mathx.AbsInt(z-src[2])
				want := 0
				if d < 15 {
					want = 15 - d
				}
				if got := int(s.LightLevel(x, y, z, voxel.Red)); got != want {
					t.Fatalf("(%d,%d,%d): got=%d want=%d", x, y, z, got, want)
				}
			}
		}
	}
}

func TestPropagate_SunlightColumnStopsAtFloor(t *testing.T) {
	e, s := newSpace(t, 64, 0)
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			s.SetRawVoxel(x, 30, z, idStone)
		}
	}
	relightAll(e, s, 0)
	for y := 31; y < 64; y++ {
		if got := s.LightLevel(8, y, 8, voxel.Sunlight); got != 15 {
			t.Fatalf("y=%d: got=%d want=15", y, got)
		}
	}
	if got := s.LightLevel(8, 30, 8, voxel.Sunlight); got != 0 {
		t.Fatalf("floor: got=%d", got)
	}
	if got := s.LightLevel(8, 29, 8, voxel.Sunlight); got != 0 {
		t.Fatalf("below floor: got=%d want=0", got)
	}
}

func TestPropagate_LightReduceDecaysOnce(t *testing.T) {
	e, s := newSpace(t, 32, 0)
	s.SetRawVoxel(5, 20, 5, idLeaf)
	relightAll(e, s, 0)
	if got := s.LightLevel(5, 20, 5, voxel.Sunlight); got != 14 {
		t.Fatalf("leaf: got=%d want=14", got)
	}
	if got := s.LightLevel(5, 19, 5, voxel.Sunlight); got != 14 {
		t.Fatalf("under leaf: got=%d want=14 (side-lit)", got)
	}
}

func TestRemove_IndependentSourceSurvives(t *testing.T) {
	e, s := newSpace(t, 32, 1)
	a, b := [3]int{8, 10, 8}, [3]int{11, 10, 8}
	edit(e, s, a, idTorch)
	edit(e, s, b, idDim)

	edit(e, s, a, voxel.Air)

	if got := s.LightLevel(b[0], b[1], b[2], voxel.Red); got != 10 {
		t.Fatalf("independent source: got=%d want=10", got)
	}
	if got := s.LightLevel(9, 10, 8, voxel.Red); got != 8 {
		t.Fatalf("overlap: got=%d want=8", got)
	}

	_, fresh := newSpace(t, 32, 1)
	fresh.SetRawVoxel(b[0], b[1], b[2], idDim)
	relightAll(e, fresh, 1)
	assertSameField(t, s, fresh, 1, 32, voxel.Red)
}

func TestRemoveBatch_ClearsAllSources(t *testing.T) {
	e, s := newSpace(t, 32, 1)
	srcs := [][3]int{{0, 5, 0}, {4, 5, 0}, {8, 5, 8}}
	for _, p := range srcs {
		edit(e, s, p, idTorch)
	}
	for _, p := range srcs {
		s.SetRawVoxel(p[0], p[1], p[2], voxel.Air)
	}
	e.RemoveBatch(s, srcs, voxel.Red)
	for x := -16; x < 32; x++ {
		for z := -16; z < 32; z++ {
			for y := 0; y < 32; y++ {
				if got := s.LightLevel(x, y, z, voxel.Red); got != 0 {
					t.Fatalf("(%d,%d,%d) still lit: %d", x, y, z, got)
				}
			}
		}
	}
}

func TestAnalyze_StoneUnderSkyMatchesRelight(t *testing.T) {
	e, s := newSpace(t, 32, 1)
	relightAll(e, s, 1)
	edit(e, s, [3]int{4, 20, 4}, idStone)
	edit(e, s, [3]int{5, 20, 4}, idStone)

	_, fresh := newSpace(t, 32, 1)
	fresh.SetRawVoxel(4, 20, 4, idStone)
	fresh.SetRawVoxel(5, 20, 4, idStone)
	relightAll(e, fresh, 1)
	assertSameField(t, s, fresh, 1, 32, voxel.Sunlight)

	if got := s.LightLevel(4, 19, 4, voxel.Sunlight); got != 14 {
		t.Fatalf("under stone: got=%d want=14", got)
	}
}

func TestAnalyze_BreakingStoneLetsLightBackIn(t *testing.T) {
	e, s := newSpace(t, 32, 1)
	s.SetRawVoxel(4, 20, 4, idStone)
	relightAll(e, s, 1)
	edit(e, s, [3]int{4, 20, 4}, voxel.Air)
	for y := 0; y < 32; y++ {
		if got := s.LightLevel(4, y, 4, voxel.Sunlight); got != 15 {
			t.Fatalf("y=%d: got=%d want=15", y, got)
		}
	}
}

func TestAnalyze_NoOpSwapHasNoOperations(t *testing.T) {
	e, s := newSpace(t, 32, 0)
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			for y := 0; y < 32; y++ {
				s.SetRawVoxel(x, y, z, idStone)
			}
		}
	}
	var ops Operations
	e.Analyze(s, [3]int{8, 8, 8}, idStone, &ops)
	if ops.HasOperations {
		t.Fatalf("stone for stone inside solid rock should not produce light work: %+v", ops)
	}
}

func TestAnalyze_DynamicEmitterSwitchesOn(t *testing.T) {
	e, s := newSpace(t, 32, 0)
	lamp := [3]int{6, 10, 6}
	edit(e, s, lamp, idLamp)
	if got := s.LightLevel(lamp[0], lamp[1], lamp[2], voxel.Red); got != 0 {
		t.Fatalf("lamp off: got=%d", got)
	}
	edit(e, s, [3]int{6, 9, 6}, idLever)
	if got := s.LightLevel(lamp[0], lamp[1], lamp[2], voxel.Red); got != 12 {
		t.Fatalf("lamp on: got=%d want=12", got)
	}
	edit(e, s, [3]int{6, 9, 6}, voxel.Air)
	if got := s.LightLevel(lamp[0]+1, lamp[1], lamp[2], voxel.Red); got != 0 {
		t.Fatalf("lamp off again: got=%d", got)
	}
}

func TestApply_DropsSourceThatNoLongerEmits(t *testing.T) {
	e, s := newSpace(t, 32, 0)
	var ops Operations
	pos := [3]int{3, 3, 3}
	e.Analyze(s, pos, idTorch, &ops)
	// The voxel was replaced again before the job ran.
	s.SetRawVoxel(pos[0], pos[1], pos[2], voxel.Air)
	e.Apply(s, voxel.Red, ops.ByColor[voxel.Red], nil)
	if got := s.LightLevel(pos[0], pos[1], pos[2], voxel.Red); got != 0 {
		t.Fatalf("stale source applied: %d", got)
	}
}

func TestFlood_BoundsLimitXZ(t *testing.T) {
	e, s := newSpace(t, 32, 1)
	pos := [3]int{8, 10, 8}
	s.SetRawVoxel(pos[0], pos[1], pos[2], idTorch)
	s.SetLightLevel(pos[0], pos[1], pos[2], voxel.Red, 15)
	e.Flood(s, []Node{{Voxel: pos, Level: 15}}, voxel.Red, &Bounds{Min: [3]int{0, 0, 0}, Shape: [3]int{16, 32, 16}})
	if got := s.LightLevel(16, 10, 8, voxel.Red); got != 0 {
		t.Fatalf("flood escaped bounds: %d", got)
	}
	if got := s.LightLevel(15, 10, 8, voxel.Red); got != 8 {
		t.Fatalf("inside bounds: got=%d want=8", got)
	}
}
