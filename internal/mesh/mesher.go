package mesh

import (
	"sort"

	"golang.org/x/exp/maps"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/protocol"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/voxel"
)

// Input is one remesh job. Grid holds the 3x3 neighborhood around Key,
// indexed (dx+1)*3 + (dz+1); nil entries are chunks that are not loaded.
type Input struct {
	Key         Key
	Generation  uint64
	LevelHeight int
	Grid        [9]*chunk.Snapshot
	Registry    *registry.Registry
}

func gridIndex(dx, dz int) int { return (dx+1)*3 + (dz + 1) }

// faces follows the transparency order [px, py, pz, nx, ny, nz].
var faces = [6]struct {
	dir  [3]int
	axis int
	u, v int
}{
	{[3]int{1, 0, 0}, 0, 1, 2},
	{[3]int{0, 1, 0}, 1, 2, 0},
	{[3]int{0, 0, 1}, 2, 0, 1},
	{[3]int{-1, 0, 0}, 0, 2, 1},
	{[3]int{0, -1, 0}, 1, 0, 2},
	{[3]int{0, 0, -1}, 2, 1, 0},
}

var quad = [4][2]int{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

// Mesh is the reference mesher: one quad per visible face, grouped into a
// geometry per block id. A face is visible when the neighbor is air, or is
// see-through and a different block. The light of each vertex is the light
// of the cell the face looks into.
func Mesh(in Input) []protocol.GeometryProtocol {
	var grid [9]*chunk.RawChunk
	for i, s := range in.Grid {
		if s != nil && len(s.Voxels) > 0 {
			grid[i] = chunk.FromSnapshot(*s)
		}
	}
	center := grid[gridIndex(0, 0)]
	if center == nil {
		return nil
	}
	size, height := center.Size, center.MaxHeight
	origin := center.Min
	at := func(vx, vz int) (*chunk.RawChunk, bool) {
		cc := mathx.VoxelToChunk(vx, vz, size)
		dx, dz := cc[0]-in.Key.Coords[0], cc[1]-in.Key.Coords[1]
		if dx < -1 || dx > 1 || dz < -1 || dz > 1 {
			return nil, false
		}
		c := grid[gridIndex(dx, dz)]
		return c, c != nil
	}

	geos := map[uint32]*protocol.GeometryProtocol{}
	minY := in.Key.Level * in.LevelHeight
	maxY := minY + in.LevelHeight
	if maxY > height {
		maxY = height
	}
	for lx := 0; lx < size; lx++ {
		for lz := 0; lz < size; lz++ {
			vx, vz := origin[0]+lx, origin[2]+lz
			for vy := minY; vy < maxY; vy++ {
				id := center.VoxelAt(vx, vy, vz)
				if id == voxel.Air {
					continue
				}
				b := in.Registry.Lookup(id)
				for f, face := range faces {
					nx, ny, nz := vx+face.dir[0], vy+face.dir[1], vz+face.dir[2]
					light := center.RawLight(vx, vy, vz)
					if ny >= 0 && ny < height {
						c, ok := at(nx, nz)
						if ok {
							nb := in.Registry.Lookup(c.VoxelAt(nx, ny, nz))
							if nb.ID != voxel.Air && (nb.IsOpaque || nb.ID == b.ID) {
								continue
							}
							light = c.RawLight(nx, ny, nz)
						}
					}
					g := geos[id]
					if g == nil {
						g = &protocol.GeometryProtocol{Voxel: id}
						geos[id] = g
					}
					addQuad(g, [3]int{vx, vy, vz}, f, light)
				}
			}
		}
	}

	ids := maps.Keys(geos)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]protocol.GeometryProtocol, 0, len(ids))
	for _, id := range ids {
		out = append(out, *geos[id])
	}
	return out
}

func addQuad(g *protocol.GeometryProtocol, p [3]int, f int, light uint32) {
	face := faces[f]
	base := uint32(len(g.Positions) / 3)
	plane := 0
	if face.dir[face.axis] > 0 {
		plane = 1
	}
	for _, q := range quad {
		var c [3]int
		c[face.axis] = plane
		c[face.u] = q[0]
		c[face.v] = q[1]
		g.Positions = append(g.Positions,
			float32(p[0]+c[0]), float32(p[1]+c[1]), float32(p[2]+c[2]))
		g.Lights = append(g.Lights, light)
	}
	g.Indices = append(g.Indices, base, base+1, base+2, base, base+2, base+3)
}
