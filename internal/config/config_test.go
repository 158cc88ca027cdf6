package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.World.ChunkSize != 16 || cfg.World.MaxHeight != 256 || !cfg.World.UseLightWorkers {
		t.Fatalf("unexpected defaults: %+v", cfg.World)
	}
	if cfg.World.SubChunkHeight() != 32 {
		t.Fatalf("sub chunk height: got=%d want=32", cfg.World.SubChunkHeight())
	}
}

func TestLoad_OverridesAndNormalizes(t *testing.T) {
	p := filepath.Join(t.TempDir(), "client.yaml")
	body := `
world:
  chunk_size: 8
  max_height: 64
  sub_chunks: 4
  min_chunk: [-10, -10]
  max_chunk: [10, 10]
  use_light_workers: false
  update_time_budget: 2ms
  max_light_workers: 0
  light_job_timeout: 0s
network:
  server_url: " ws://example:1/ws "
`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	w := cfg.World
	if w.ChunkSize != 8 || w.MaxHeight != 64 || w.SubChunks != 4 {
		t.Fatalf("dims: %+v", w)
	}
	if w.UseLightWorkers {
		t.Fatalf("use_light_workers override lost")
	}
	if w.UpdateTimeBudget != 2*time.Millisecond {
		t.Fatalf("budget: got=%v", w.UpdateTimeBudget)
	}
	if w.LightJobTimeout != 5*time.Second {
		t.Fatalf("light_job_timeout not normalized: %v", w.LightJobTimeout)
	}
	if w.MaxLightWorkers != 4 {
		t.Fatalf("max_light_workers not normalized: %d", w.MaxLightWorkers)
	}
	if w.MaxLightLevel != 15 {
		t.Fatalf("max_light_level default lost: %d", w.MaxLightLevel)
	}
	if cfg.Network.ServerURL != "ws://example:1/ws" {
		t.Fatalf("server url: %q", cfg.Network.ServerURL)
	}
	if !w.ChunkWithinWorld(10, -10) || w.ChunkWithinWorld(11, 0) {
		t.Fatalf("world bounds check wrong")
	}
}

func TestLoad_Invalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(p, []byte("world:\n  max_height: 100\n  sub_chunks: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if err := os.WriteFile(p, []byte("world:\n  min_chunk: [5, 0]\n  max_chunk: [4, 0]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for inverted bounds, got %v", err)
	}
}
