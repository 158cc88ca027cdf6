package registry

import (
	"os"
	"path/filepath"
	"testing"

	"voxelclient.ai/internal/voxel"
)

type mapQuery map[[3]int]uint32

func (m mapQuery) RawVoxel(vx, vy, vz int) uint32 { return m[[3]int{vx, vy, vz}] }

func TestNew_DerivesFlagsAndAir(t *testing.T) {
	r, err := New([]Block{
		{ID: 1, Name: "stone"},
		{ID: 2, Name: "torch", IsTransparent: [6]bool{true, true, true, true, true, true}, RedLightLevel: 15},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	air, ok := r.ByID(0)
	if !ok || air.IsOpaque {
		t.Fatalf("air missing or opaque: %+v", air)
	}
	stone, _ := r.ByName("stone")
	if !stone.IsOpaque || stone.IsLight {
		t.Fatalf("stone flags: %+v", stone)
	}
	torch, _ := r.ByName("torch")
	if !torch.IsLight || torch.IsOpaque {
		t.Fatalf("torch flags: %+v", torch)
	}
	if _, ok := r.ByID(99); ok {
		t.Fatalf("unexpected block 99")
	}
	if got := r.Lookup(99); got.ID != 0 {
		t.Fatalf("Lookup fallback: got id=%d want air", got.ID)
	}
	if r.Digest == "" {
		t.Fatalf("empty digest")
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	if _, err := New([]Block{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if _, err := New([]Block{{ID: 1, Name: "a", RedLightLevel: 16}}); err == nil {
		t.Fatalf("expected level range error")
	}
}

func TestLoad_DynamicPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocks.json")
	const doc = `[
	  {"id":0,"name":"air","is_transparent":[true,true,true,true,true,true]},
	  {"id":3,"name":"lever"},
	  {"id":4,"name":"lamp","is_transparent":[true,true,true,true,true,true],"red_light_level":4,
	   "dynamic_patterns":[{"parts":[
	     {"rule":{"type":"simple","offset":[0,-1,0],"id":3},"red_light_level":15},
	     {"rule":{"type":"combination","logic":"not","rules":[{"type":"simple","offset":[0,1,0],"id":0}]},"blue_light_level":9}
	   ]}]}
	]`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	lamp, _ := r.ByName("lamp")
	pos := [3]int{5, 10, 5}

	q := mapQuery{}
	if got := lamp.TorchLevelAt(pos, q, voxel.Red); got != 4 {
		t.Fatalf("static red: got=%d want=4", got)
	}

	q[[3]int{5, 9, 5}] = 3
	if got := lamp.TorchLevelAt(pos, q, voxel.Red); got != 15 {
		t.Fatalf("dynamic red: got=%d want=15", got)
	}
	if got := lamp.TorchLevelAt(pos, q, voxel.Sunlight); got != 0 {
		t.Fatalf("sunlight must never be emitted: %d", got)
	}

	if got := lamp.TorchLevelAt(pos, q, voxel.Blue); got != 0 {
		t.Fatalf("blue with air above: got=%d want=0", got)
	}
	q[[3]int{5, 11, 5}] = voxel.Pack(3, voxel.Rotation{}, 0)
	if got := lamp.TorchLevelAt(pos, q, voxel.Blue); got != 9 {
		t.Fatalf("blue with solid above: got=%d want=9", got)
	}
}

func TestLoad_RejectsBadRule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocks.json")
	doc := `[{"id":1,"name":"x","dynamic_patterns":[{"parts":[{"rule":{"type":"combination","logic":"xor"}}]}]}]`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown logic")
	}
}
