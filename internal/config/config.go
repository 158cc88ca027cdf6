package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	World   WorldOptions `yaml:"world"`
	Network Network      `yaml:"network"`
	Trace   Trace        `yaml:"trace"`
	Viewer  Viewer       `yaml:"viewer"`
}

// WorldOptions is shared by every package that touches chunk data.
type WorldOptions struct {
	ChunkSize     int    `yaml:"chunk_size"`
	MaxHeight     int    `yaml:"max_height"`
	MaxLightLevel int    `yaml:"max_light_level"`
	SubChunks     int    `yaml:"sub_chunks"`
	MinChunk      [2]int `yaml:"min_chunk"`
	MaxChunk      [2]int `yaml:"max_chunk"`

	DefaultRenderRadius       int     `yaml:"default_render_radius"`
	MaxChunkRequestsPerUpdate int     `yaml:"max_chunk_requests_per_update"`
	MaxProcessesPerUpdate     int     `yaml:"max_processes_per_update"`
	MaxUpdatesPerUpdate       int     `yaml:"max_updates_per_update"`
	ChunkRerequestInterval    int     `yaml:"chunk_rerequest_interval"`
	ChunkLoadExponent         float64 `yaml:"chunk_load_exponent"`

	MaxLightWorkers    int           `yaml:"max_light_workers"`
	LightJobRetryLimit int           `yaml:"light_job_retry_limit"`
	LightJobTimeout    time.Duration `yaml:"light_job_timeout"`
	DeltaRetentionTime time.Duration `yaml:"delta_retention_time"`
	DeltaGCInterval    time.Duration `yaml:"delta_gc_interval"`
	UseLightWorkers    bool          `yaml:"use_light_workers"`

	UpdateTimeBudget          time.Duration `yaml:"update_time_budget"`
	MaxMeshWorkers            int           `yaml:"max_mesh_workers"`
	ShouldGenerateChunkMeshes bool          `yaml:"should_generate_chunk_meshes"`
}

type Network struct {
	ServerURL  string `yaml:"server_url"`
	ClientName string `yaml:"client_name"`
}

type Trace struct {
	Dir     string `yaml:"dir"`
	IndexDB string `yaml:"index_db"`
}

type Viewer struct {
	Position  [3]float64 `yaml:"position"`
	Direction [3]float64 `yaml:"direction"`
	Speed     float64    `yaml:"speed"`
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("client.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("client.yaml: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		World: DefaultWorldOptions(),
		Network: Network{
			ServerURL:  "ws://127.0.0.1:4000/v1/ws",
			ClientName: "client",
		},
		Viewer: Viewer{
			Position:  [3]float64{0, 80, 0},
			Direction: [3]float64{0, 0, -1},
			Speed:     4,
		},
	}
}

func DefaultWorldOptions() WorldOptions {
	return WorldOptions{
		ChunkSize:                 16,
		MaxHeight:                 256,
		MaxLightLevel:             15,
		SubChunks:                 8,
		MinChunk:                  [2]int{-1 << 20, -1 << 20},
		MaxChunk:                  [2]int{1 << 20, 1 << 20},
		DefaultRenderRadius:       8,
		MaxChunkRequestsPerUpdate: 16,
		MaxProcessesPerUpdate:     8,
		MaxUpdatesPerUpdate:       1000,
		ChunkRerequestInterval:    240,
		ChunkLoadExponent:         8,
		MaxLightWorkers:           4,
		LightJobRetryLimit:        3,
		LightJobTimeout:           5 * time.Second,
		DeltaRetentionTime:        5 * time.Second,
		DeltaGCInterval:           time.Second,
		UseLightWorkers:           true,
		UpdateTimeBudget:          4 * time.Millisecond,
		MaxMeshWorkers:            2,
		ShouldGenerateChunkMeshes: true,
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.World.Normalize()
	c.Network.ServerURL = strings.TrimSpace(c.Network.ServerURL)
	if strings.TrimSpace(c.Network.ClientName) == "" {
		c.Network.ClientName = "client"
	}
	if c.Viewer.Direction == ([3]float64{}) {
		c.Viewer.Direction = [3]float64{0, 0, -1}
	}
}

func (c Config) Validate() error {
	if err := c.World.Validate(); err != nil {
		return err
	}
	if c.Viewer.Speed < 0 {
		return fmt.Errorf("%w: viewer.speed must be >= 0", ErrInvalid)
	}
	return nil
}

// Normalize fills zero values with defaults. Booleans are left alone.
func (o *WorldOptions) Normalize() {
	d := DefaultWorldOptions()
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setInt(&o.ChunkSize, d.ChunkSize)
	setInt(&o.MaxHeight, d.MaxHeight)
	setInt(&o.MaxLightLevel, d.MaxLightLevel)
	setInt(&o.SubChunks, d.SubChunks)
	setInt(&o.DefaultRenderRadius, d.DefaultRenderRadius)
	setInt(&o.MaxChunkRequestsPerUpdate, d.MaxChunkRequestsPerUpdate)
	setInt(&o.MaxProcessesPerUpdate, d.MaxProcessesPerUpdate)
	setInt(&o.MaxUpdatesPerUpdate, d.MaxUpdatesPerUpdate)
	setInt(&o.ChunkRerequestInterval, d.ChunkRerequestInterval)
	setInt(&o.MaxLightWorkers, d.MaxLightWorkers)
	setInt(&o.MaxMeshWorkers, d.MaxMeshWorkers)
	if o.LightJobRetryLimit < 0 {
		o.LightJobRetryLimit = 0
	}
	if o.ChunkLoadExponent <= 0 {
		o.ChunkLoadExponent = d.ChunkLoadExponent
	}
	if o.LightJobTimeout <= 0 {
		o.LightJobTimeout = d.LightJobTimeout
	}
	if o.DeltaRetentionTime <= 0 {
		o.DeltaRetentionTime = d.DeltaRetentionTime
	}
	if o.DeltaGCInterval <= 0 {
		o.DeltaGCInterval = d.DeltaGCInterval
	}
	if o.UpdateTimeBudget <= 0 {
		o.UpdateTimeBudget = d.UpdateTimeBudget
	}
}

func (o WorldOptions) Validate() error {
	if o.MaxLightLevel > 15 {
		return fmt.Errorf("%w: world.max_light_level %d exceeds 4 bits", ErrInvalid, o.MaxLightLevel)
	}
	if o.MaxHeight%o.SubChunks != 0 {
		return fmt.Errorf("%w: world.max_height %d not divisible by sub_chunks %d", ErrInvalid, o.MaxHeight, o.SubChunks)
	}
	if o.MinChunk[0] > o.MaxChunk[0] || o.MinChunk[1] > o.MaxChunk[1] {
		return fmt.Errorf("%w: world.min_chunk %v above max_chunk %v", ErrInvalid, o.MinChunk, o.MaxChunk)
	}
	return nil
}

func (o WorldOptions) SubChunkHeight() int { return o.MaxHeight / o.SubChunks }

func (o WorldOptions) ChunkWithinWorld(cx, cz int) bool {
	return cx >= o.MinChunk[0] && cz >= o.MinChunk[1] && cx <= o.MaxChunk[0] && cz <= o.MaxChunk[1]
}
