package light

import (
	"voxelclient.ai/internal/voxel"
)

// Propagate seeds the initial light of the columns in [min, min+shape) (x/z
// only). Sunlight falls from the top through a per-column mask; emitters
// get their own level. It returns the flood queues indexed by voxel.Color.
func (e Engine) Propagate(s Space, min [3]int, shape [3]int) [4][]Node {
	var queues [4][]Node
	sx, sz := shape[0], shape[2]
	max := e.MaxLightLevel

	mask := make([]uint32, sx*sz)
	for i := range mask {
		mask[i] = max
	}

	for y := e.MaxHeight - 1; y >= 0; y-- {
		for x := 0; x < sx; x++ {
			for z := 0; z < sz; z++ {
				vx, vz := min[0]+x, min[2]+z
				pos := [3]int{vx, y, vz}
				b, t := e.blockAt(s, vx, y, vz)

				for _, c := range voxel.TorchColors {
					if level := b.TorchLevelAt(pos, s, c); level > 0 {
						s.SetLightLevel(vx, y, vz, c, level)
						queues[c] = append(queues[c], Node{Voxel: pos, Level: level})
					}
				}

				mi := x + z*sx
				if b.IsOpaque || !t[voxel.FacePY] || !t[voxel.FaceNY] {
					mask[mi] = 0
					continue
				}
				if b.LightReduce {
					if mask[mi] != 0 {
						level := mask[mi] - 1
						s.SetLightLevel(vx, y, vz, voxel.Sunlight, level)
						queues[voxel.Sunlight] = append(queues[voxel.Sunlight], Node{Voxel: pos, Level: level})
						mask[mi] = 0
					}
					continue
				}

				s.SetLightLevel(vx, y, vz, voxel.Sunlight, mask[mi])
				if mask[mi] != max {
					continue
				}
				edge := (x < sx-1 && mask[mi+1] == 0 && t[voxel.FacePX]) ||
					(x > 0 && mask[mi-1] == 0 && t[voxel.FaceNX]) ||
					(z < sz-1 && mask[mi+sx] == 0 && t[voxel.FacePZ]) ||
					(z > 0 && mask[mi-sx] == 0 && t[voxel.FaceNZ])
				if edge {
					queues[voxel.Sunlight] = append(queues[voxel.Sunlight], Node{Voxel: pos, Level: max})
				}
			}
		}
	}
	return queues
}

// Relight recomputes all light of the given columns from scratch and floods
// it, bounded by the engine's chunk range.
func (e Engine) Relight(s Space, min [3]int, shape [3]int) {
	for x := 0; x < shape[0]; x++ {
		for z := 0; z < shape[2]; z++ {
			for y := 0; y < e.MaxHeight; y++ {
				for _, c := range voxel.Colors {
					s.SetLightLevel(min[0]+x, y, min[2]+z, c, 0)
				}
			}
		}
	}
	queues := e.Propagate(s, min, shape)
	for _, c := range voxel.Colors {
		e.Flood(s, queues[c], c, nil)
	}
}
