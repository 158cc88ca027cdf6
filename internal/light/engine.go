package light

import (
	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/voxel"
)

// Neighbor order is +x, -x, +z, -z, +y, -y. Faces are [px, py, pz, nx, ny, nz].
var neighbors = [6][3]int{
	{1, 0, 0},
	{-1, 0, 0},
	{0, 0, 1},
	{0, 0, -1},
	{0, 1, 0},
	{0, -1, 0},
}

var (
	sourceFace = [6]int{0, 3, 2, 5, 1, 4}
	targetFace = [6]int{3, 0, 5, 2, 4, 1}
)

var allTransparent = [6]bool{true, true, true, true, true, true}

const dirDown = 5

func canEnter(src, dst [6]bool, dir int) bool {
	return src[sourceFace[dir]] && dst[targetFace[dir]]
}

func canEnterInto(dst [6]bool, dir int) bool {
	return dst[targetFace[dir]]
}

// Node is one BFS entry.
type Node struct {
	Voxel [3]int
	Level uint32
}

// Bounds limits a flood in x/z to [Min, Min+Shape).
type Bounds struct {
	Min   [3]int
	Shape [3]int
}

func (b *Bounds) containsXZ(vx, vz int) bool {
	return vx >= b.Min[0] && vx < b.Min[0]+b.Shape[0] &&
		vz >= b.Min[2] && vz < b.Min[2]+b.Shape[2]
}

// Engine holds the immutable parameters of light propagation. It has no
// state of its own and is safe to copy into workers.
type Engine struct {
	Registry      *registry.Registry
	ChunkSize     int
	MaxHeight     int
	MaxLightLevel uint32
	MinChunk      [2]int
	MaxChunk      [2]int
}

func NewEngine(reg *registry.Registry, opts config.WorldOptions) Engine {
	return Engine{
		Registry:      reg,
		ChunkSize:     opts.ChunkSize,
		MaxHeight:     opts.MaxHeight,
		MaxLightLevel: uint32(opts.MaxLightLevel),
		MinChunk:      opts.MinChunk,
		MaxChunk:      opts.MaxChunk,
	}
}

// WithChunkRange narrows the chunks a flood may touch.
func (e Engine) WithChunkRange(min, max [2]int) Engine {
	e.MinChunk = min
	e.MaxChunk = max
	return e
}

func (e Engine) inRange(vx, vy, vz int) bool {
	if vy < 0 || vy >= e.MaxHeight {
		return false
	}
	c := mathx.VoxelToChunk(vx, vz, e.ChunkSize)
	return c[0] >= e.MinChunk[0] && c[1] >= e.MinChunk[1] && c[0] <= e.MaxChunk[0] && c[1] <= e.MaxChunk[1]
}

func (e Engine) blockAt(s Space, vx, vy, vz int) (*registry.Block, [6]bool) {
	raw := s.RawVoxel(vx, vy, vz)
	b := e.Registry.Lookup(voxel.ID(raw))
	return b, b.RotatedTransparency(voxel.RotationOf(raw))
}

// Flood expands every node outward. Node levels are not written; the caller
// sets source levels before flooding.
func (e Engine) Flood(s Space, queue []Node, color voxel.Color, bounds *Bounds) {
	isSun := color == voxel.Sunlight
	for head := 0; head < len(queue); head++ {
		n := queue[head]
		if n.Level == 0 {
			continue
		}
		vx, vy, vz := n.Voxel[0], n.Voxel[1], n.Voxel[2]
		srcBlock, srcT := e.blockAt(s, vx, vy, vz)
		if !isSun && srcBlock.TorchLevelAt(n.Voxel, s, color) > 0 {
			srcT = allTransparent
		}

		for dir, d := range neighbors {
			nx, ny, nz := vx+d[0], vy+d[1], vz+d[2]
			if !e.inRange(nx, ny, nz) {
				continue
			}
			if bounds != nil && !bounds.containsXZ(nx, nz) {
				continue
			}
			if !s.Contains(nx, ny, nz) {
				continue
			}
			nBlock, nT := e.blockAt(s, nx, ny, nz)

			next := n.Level - 1
			if isSun && dir == dirDown && !nBlock.LightReduce && n.Level == e.MaxLightLevel {
				next = n.Level
			}
			if next == 0 || !canEnter(srcT, nT, dir) {
				continue
			}
			if s.LightLevel(nx, ny, nz, color) >= next {
				continue
			}
			s.SetLightLevel(nx, ny, nz, color, next)
			queue = append(queue, Node{Voxel: [3]int{nx, ny, nz}, Level: next})
		}
	}
}

// Remove retracts the light at one voxel and refills from independent
// sources.
func (e Engine) Remove(s Space, pos [3]int, color voxel.Color) {
	e.RemoveBatch(s, [][3]int{pos}, color)
}

// RemoveBatch retracts light seeded at every lit voxel in positions with a
// single BFS, then refloods what independent sources still justify.
// Emitters crossed by the removal are re-seeded with their own level.
func (e Engine) RemoveBatch(s Space, positions [][3]int, color voxel.Color) {
	isSun := color == voxel.Sunlight
	max := e.MaxLightLevel

	var remove, fill, reseed []Node
	for _, p := range positions {
		level := s.LightLevel(p[0], p[1], p[2], color)
		if level == 0 {
			continue
		}
		s.SetLightLevel(p[0], p[1], p[2], color, 0)
		remove = append(remove, Node{Voxel: p, Level: level})
		reseed = e.appendEmitter(s, reseed, p, color)
	}

	for head := 0; head < len(remove); head++ {
		n := remove[head]
		for dir, d := range neighbors {
			nx, ny, nz := n.Voxel[0]+d[0], n.Voxel[1]+d[1], n.Voxel[2]+d[2]
			if ny < 0 || ny >= e.MaxHeight || !s.Contains(nx, ny, nz) {
				continue
			}
			npos := [3]int{nx, ny, nz}
			nBlock, nT := e.blockAt(s, nx, ny, nz)
			if (isSun || nBlock.TorchLevelAt(npos, s, color) == 0) && !canEnterInto(nT, dir) {
				continue
			}
			nLevel := s.LightLevel(nx, ny, nz, color)
			if nLevel == 0 {
				continue
			}
			sunDown := isSun && dir == dirDown
			switch {
			case nLevel < n.Level || (sunDown && n.Level == max && nLevel == max):
				s.SetLightLevel(nx, ny, nz, color, 0)
				remove = append(remove, Node{Voxel: npos, Level: nLevel})
				reseed = e.appendEmitter(s, reseed, npos, color)
			case (sunDown && nLevel > n.Level) || (!sunDown && nLevel >= n.Level):
				fill = append(fill, Node{Voxel: npos, Level: nLevel})
			}
		}
	}

	// A refill entry may have been zeroed by a later branch of the BFS.
	kept := fill[:0]
	for _, n := range fill {
		if s.LightLevel(n.Voxel[0], n.Voxel[1], n.Voxel[2], color) == n.Level {
			kept = append(kept, n)
		}
	}
	for _, n := range reseed {
		if s.LightLevel(n.Voxel[0], n.Voxel[1], n.Voxel[2], color) < n.Level {
			s.SetLightLevel(n.Voxel[0], n.Voxel[1], n.Voxel[2], color, n.Level)
		}
		kept = append(kept, n)
	}
	e.Flood(s, kept, color, nil)
}

func (e Engine) appendEmitter(s Space, out []Node, pos [3]int, color voxel.Color) []Node {
	if color == voxel.Sunlight {
		return out
	}
	b, _ := e.blockAt(s, pos[0], pos[1], pos[2])
	if level := b.TorchLevelAt(pos, s, color); level > 0 {
		out = append(out, Node{Voxel: pos, Level: level})
	}
	return out
}

// Apply runs one color's operations: removals first, then source levels are
// written and every flood node is expanded. Sources whose block no longer
// emits are dropped; leak nodes expand from what is stored now.
func (e Engine) Apply(s Space, c voxel.Color, ops ColorOps, bounds *Bounds) {
	if len(ops.Removals) > 0 {
		e.RemoveBatch(s, ops.Removals, c)
	}
	queue := make([]Node, 0, len(ops.Floods))
	for _, f := range ops.Floods {
		vx, vy, vz := f.Voxel[0], f.Voxel[1], f.Voxel[2]
		if !s.Contains(vx, vy, vz) {
			continue
		}
		if f.Source {
			level := e.sourceLevel(s, f, c)
			if level == 0 {
				continue
			}
			if s.LightLevel(vx, vy, vz, c) < level {
				s.SetLightLevel(vx, vy, vz, c, level)
			}
			queue = append(queue, Node{Voxel: f.Voxel, Level: level})
			continue
		}
		cur := s.LightLevel(vx, vy, vz, c)
		if cur == 0 {
			continue
		}
		if f.Level < cur {
			cur = f.Level
		}
		queue = append(queue, Node{Voxel: f.Voxel, Level: cur})
	}
	e.Flood(s, queue, c, bounds)
}

func (e Engine) sourceLevel(s Space, f FloodOp, c voxel.Color) uint32 {
	b, t := e.blockAt(s, f.Voxel[0], f.Voxel[1], f.Voxel[2])
	if c == voxel.Sunlight {
		if t[voxel.FacePY] {
			return f.Level
		}
		return 0
	}
	return b.TorchLevelAt(f.Voxel, s, c)
}
