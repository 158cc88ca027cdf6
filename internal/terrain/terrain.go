// Package terrain generates noise terrain for the dev server and the light
// benchmark.
package terrain

import (
	"github.com/ojrac/opensimplex-go"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/registry"
)

const (
	Stone uint32 = 1
	Dirt  uint32 = 2
	Grass uint32 = 3
	Glass uint32 = 4
	Torch uint32 = 5
	Leaf  uint32 = 6
)

// DefaultBlocks is the palette the generator places.
func DefaultBlocks() []registry.Block {
	all := [6]bool{true, true, true, true, true, true}
	return []registry.Block{
		registry.AirBlock(),
		{ID: Stone, Name: "stone"},
		{ID: Dirt, Name: "dirt"},
		{ID: Grass, Name: "grass"},
		{ID: Glass, Name: "glass", IsTransparent: all},
		{ID: Torch, Name: "torch", IsTransparent: all, RedLightLevel: 14, GreenLightLevel: 10, BlueLightLevel: 4},
		{ID: Leaf, Name: "leaves", IsTransparent: all, LightReduce: true},
	}
}

type Params struct {
	Seed       int64
	BaseHeight int
	Amplitude  float64
	Scale      float64
	Octaves    int
	// Torches per 1000 columns.
	TorchPermille int
}

func DefaultParams(seed int64, maxHeight int) Params {
	return Params{
		Seed:          seed,
		BaseHeight:    maxHeight / 4,
		Amplitude:     float64(maxHeight) / 8,
		Scale:         48,
		Octaves:       4,
		TorchPermille: 4,
	}
}

type Generator struct {
	p     Params
	opts  config.WorldOptions
	noise opensimplex.Noise
}

func New(p Params, opts config.WorldOptions) *Generator {
	if p.Scale <= 0 {
		p.Scale = 1
	}
	if p.Octaves <= 0 {
		p.Octaves = 1
	}
	return &Generator{p: p, opts: opts, noise: opensimplex.New(p.Seed)}
}

// HeightAt is the y of the topmost solid voxel in the column.
func (g *Generator) HeightAt(vx, vz int) int {
	x, z := float64(vx), float64(vz)
	amp := g.p.Amplitude
	val := 0.0
	for i := 0; i < g.p.Octaves; i++ {
		val += g.noise.Eval2(x/g.p.Scale, z/g.p.Scale) * amp
		x *= 1.5
		z *= 1.5
		amp *= 0.5
	}
	return mathx.ClampInt(g.p.BaseHeight+int(val), 1, g.opts.MaxHeight-3)
}

// Chunk builds the voxels of one column. Light is left empty.
func (g *Generator) Chunk(id string, cx, cz int) *chunk.RawChunk {
	c := chunk.NewRaw(id, cx, cz, g.opts.ChunkSize, g.opts.MaxHeight)
	c.Voxels = make([]uint32, c.Volume())
	for x := c.Min[0]; x < c.Max[0]; x++ {
		for z := c.Min[2]; z < c.Max[2]; z++ {
			h := g.HeightAt(x, z)
			for y := 0; y <= h; y++ {
				switch {
				case y == h:
					c.SetRawVoxel(x, y, z, Grass)
				case y >= h-3:
					c.SetRawVoxel(x, y, z, Dirt)
				default:
					c.SetRawVoxel(x, y, z, Stone)
				}
			}
			roll := mathx.Hash2(g.p.Seed+17, x, z) % 1000
			switch {
			case roll < uint64(g.p.TorchPermille):
				c.SetRawVoxel(x, h+1, z, Torch)
			case roll < uint64(g.p.TorchPermille)*3:
				c.SetRawVoxel(x, h+1, z, Leaf)
				c.SetRawVoxel(x, h+2, z, Leaf)
			}
		}
	}
	return c
}
