package light

import (
	"voxelclient.ai/internal/voxel"
)

// FloodOp seeds a flood. Source nodes get their level written before the
// flood runs; the rest expand from the level already stored.
type FloodOp struct {
	Voxel  [3]int `json:"voxel"`
	Level  uint32 `json:"level"`
	Source bool   `json:"source,omitempty"`
}

type ColorOps struct {
	Removals [][3]int `json:"removals,omitempty"`
	Floods   []FloodOp `json:"floods,omitempty"`
}

func (o ColorOps) Empty() bool { return len(o.Removals) == 0 && len(o.Floods) == 0 }

// Operations bundles the light work produced by a batch of voxel edits,
// indexed by voxel.Color.
type Operations struct {
	ByColor       [4]ColorOps
	HasOperations bool
}

func (o *Operations) AddRemoval(c voxel.Color, pos [3]int) {
	o.ByColor[c].Removals = append(o.ByColor[c].Removals, pos)
	o.HasOperations = true
}

func (o *Operations) AddFlood(c voxel.Color, op FloodOp) {
	o.ByColor[c].Floods = append(o.ByColor[c].Floods, op)
	o.HasOperations = true
}

func (o *Operations) Merge(other Operations) {
	for c := range other.ByColor {
		o.ByColor[c].Removals = append(o.ByColor[c].Removals, other.ByColor[c].Removals...)
		o.ByColor[c].Floods = append(o.ByColor[c].Floods, other.ByColor[c].Floods...)
	}
	o.HasOperations = o.HasOperations || other.HasOperations
}

func (o *Operations) Reset() { *o = Operations{} }

// overlay answers rule queries as if raw were already stored at pos.
type overlay struct {
	Space
	pos [3]int
	raw uint32
}

func (o overlay) RawVoxel(vx, vy, vz int) uint32 {
	if vx == o.pos[0] && vy == o.pos[1] && vz == o.pos[2] {
		return o.raw
	}
	return o.Space.RawVoxel(vx, vy, vz)
}

// Analyze appends the light consequences of replacing the voxel at pos with
// newRaw. It must run before the voxel is written.
func (e Engine) Analyze(s Space, pos [3]int, newRaw uint32, ops *Operations) {
	vx, vy, vz := pos[0], pos[1], pos[2]
	_, curT := e.blockAt(s, vx, vy, vz)
	upd := e.Registry.Lookup(voxel.ID(newRaw))
	updT := upd.RotatedTransparency(voxel.RotationOf(newRaw))
	after := overlay{Space: s, pos: pos, raw: newRaw}
	max := e.MaxLightLevel

	var levels [4]uint32
	for _, c := range voxel.Colors {
		levels[c] = s.LightLevel(vx, vy, vz, c)
	}

	if upd.IsOpaque || upd.LightReduce {
		for _, c := range voxel.Colors {
			if levels[c] > 0 {
				ops.AddRemoval(c, pos)
			}
		}
	} else {
		removed := 0
		for dir, d := range neighbors {
			npos := [3]int{vx + d[0], vy + d[1], vz + d[2]}
			if npos[1] < 0 || npos[1] >= e.MaxHeight || !s.Contains(npos[0], npos[1], npos[2]) {
				continue
			}
			_, nT := e.blockAt(s, npos[0], npos[1], npos[2])
			if !canEnter(curT, nT, dir) || canEnter(updT, nT, dir) {
				continue
			}
			for _, c := range voxel.Colors {
				nl := s.LightLevel(npos[0], npos[1], npos[2], c)
				if nl == 0 {
					continue
				}
				src := levels[c]
				if nl < src || (c == voxel.Sunlight && dir == dirDown && nl == max && src == max) {
					ops.AddRemoval(c, npos)
					removed++
				}
			}
		}
		if removed == 0 {
			for _, c := range voxel.Colors {
				if levels[c] > 0 {
					ops.AddRemoval(c, pos)
				}
			}
		}
	}

	// Rule-driven emitters next to the edit may switch on or off.
	for _, d := range neighbors {
		npos := [3]int{vx + d[0], vy + d[1], vz + d[2]}
		if npos[1] < 0 || npos[1] >= e.MaxHeight || !s.Contains(npos[0], npos[1], npos[2]) {
			continue
		}
		nb := e.Registry.Lookup(voxel.ID(s.RawVoxel(npos[0], npos[1], npos[2])))
		if !nb.IsDynamic() {
			continue
		}
		for _, c := range voxel.TorchColors {
			before := nb.TorchLevelAt(npos, s, c)
			now := nb.TorchLevelAt(npos, after, c)
			if before == now {
				continue
			}
			if before > 0 {
				ops.AddRemoval(c, npos)
			}
			if now > 0 {
				ops.AddFlood(c, FloodOp{Voxel: npos, Level: now, Source: true})
			}
		}
	}

	for _, c := range voxel.TorchColors {
		if level := upd.TorchLevelAt(pos, after, c); level > 0 {
			ops.AddFlood(c, FloodOp{Voxel: pos, Level: level, Source: true})
		}
	}

	// Light that can now leak into pos.
	var reduce uint32
	if upd.LightReduce {
		reduce = 1
	}
	for dir, d := range neighbors {
		npos := [3]int{vx + d[0], vy + d[1], vz + d[2]}
		if npos[1] < 0 {
			continue
		}
		if npos[1] >= e.MaxHeight {
			if canEnter(allTransparent, updT, dirDown) {
				ops.AddFlood(voxel.Sunlight, FloodOp{Voxel: pos, Level: max, Source: true})
			}
			continue
		}
		if !s.Contains(npos[0], npos[1], npos[2]) {
			continue
		}
		_, nT := e.blockAt(s, npos[0], npos[1], npos[2])
		if canEnter(curT, nT, dir) || !canEnter(updT, nT, dir) {
			continue
		}
		for _, c := range voxel.Colors {
			if l := s.LightLevel(npos[0], npos[1], npos[2], c); l > reduce {
				ops.AddFlood(c, FloodOp{Voxel: npos, Level: l - reduce})
			}
		}
	}
}
