package terrain

import (
	"testing"

	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/voxel"
)

func testOptions() config.WorldOptions {
	o := config.DefaultWorldOptions()
	o.ChunkSize = 8
	o.MaxHeight = 32
	o.SubChunks = 4
	o.MinChunk = [2]int{-4, -4}
	o.MaxChunk = [2]int{4, 4}
	return o
}

func TestGenerator_Deterministic(t *testing.T) {
	o := testOptions()
	a := New(DefaultParams(42, o.MaxHeight), o).Chunk("a", 1, -2)
	b := New(DefaultParams(42, o.MaxHeight), o).Chunk("b", 1, -2)
	for i := range a.Voxels {
		if a.Voxels[i] != b.Voxels[i] {
			t.Fatalf("voxel %d differs: %d vs %d", i, a.Voxels[i], b.Voxels[i])
		}
	}
}

func TestGenerator_ColumnsHaveGrassOnTop(t *testing.T) {
	o := testOptions()
	g := New(DefaultParams(7, o.MaxHeight), o)
	c := g.Chunk("c", 0, 0)
	for x := c.Min[0]; x < c.Max[0]; x++ {
		for z := c.Min[2]; z < c.Max[2]; z++ {
			h := g.HeightAt(x, z)
			if h < 1 || h >= o.MaxHeight-2 {
				t.Fatalf("height %d out of range at (%d,%d)", h, x, z)
			}
			if got := c.VoxelAt(x, h, z); got != Grass {
				t.Fatalf("top at (%d,%d,%d): got=%d want grass", x, h, z, got)
			}
			if got := c.VoxelAt(x, 0, z); got != Stone && h > 3 {
				t.Fatalf("bedrock at (%d,%d): got=%d", x, z, got)
			}
		}
	}
}

func TestStore_LitChunkHasSunlight(t *testing.T) {
	o := testOptions()
	reg, err := registry.New(DefaultBlocks())
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(New(DefaultParams(3, o.MaxHeight), o), reg, o)
	c := s.Lit(0, 0)
	if len(c.Lights) != c.Volume() {
		t.Fatalf("lights not allocated")
	}
	if got := c.SunlightAt(0, o.MaxHeight-1, 0); got != 15 {
		t.Fatalf("sky sunlight: got=%d want=15", got)
	}
	if got := c.SunlightAt(0, 0, 0); got != 0 {
		t.Fatalf("buried sunlight: got=%d want=0", got)
	}
	if s.LitCount() != 1 {
		t.Fatalf("lit: %d", s.LitCount())
	}

	if !s.Set(1, o.MaxHeight-1, 1, Torch) {
		t.Fatalf("Set rejected")
	}
	if s.LitCount() != 0 {
		t.Fatalf("edit did not invalidate light")
	}
	c = s.Lit(0, 0)
	if got := c.TorchLightAt(2, o.MaxHeight-1, 1, voxel.Red); got != 13 {
		t.Fatalf("torch light: got=%d want=13", got)
	}
	if s.Set(1, o.MaxHeight, 1, Torch) || s.Set(1000, 1, 1, Torch) {
		t.Fatalf("out of world edit accepted")
	}
}
