package chunks

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/exp/maps"

	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/protocol"
)

const (
	// Cone half-angle once everything around the viewer is loaded.
	fullConeAngle = math.Pi * 3 / 8
	minConeAngle  = 0.1
)

// LoadRatio is loaded / (loaded + requested + queued). An empty manager
// reports 0.
func (m *Manager) LoadRatio() float64 {
	total := len(m.loaded) + len(m.requested) + len(m.toRequest) + len(m.toProcess)
	if total == 0 {
		return 0
	}
	return float64(len(m.loaded)) / float64(total)
}

// ConeAngle is the view-cone half-angle used for requests. It starts narrow
// and widens as the load ratio approaches 1.
func (m *Manager) ConeAngle() float64 {
	ratio := m.LoadRatio()
	if ratio >= 1 {
		return fullConeAngle
	}
	return math.Max(math.Pow(ratio, m.opts.ChunkLoadExponent), minConeAngle)
}

// InView reports whether target lies inside the view cone around direction.
// Chunks within half the render radius are always in view.
func (m *Manager) InView(center, target mathx.Coords2, direction mgl64.Vec3, threshold float64) bool {
	half := m.renderRadius / 2
	if mathx.DistSq(center, target) < half*half || center == target {
		return true
	}
	toChunk := mgl64.Vec2{float64(target[0] - center[0]), float64(target[1] - center[1])}
	forward := mgl64.Vec2{direction.X(), direction.Z()}
	if forward.Len() == 0 {
		return true
	}
	cos := toChunk.Dot(forward) / (toChunk.Len() * forward.Len())
	angle := math.Acos(mgl64.Clamp(cos, -1, 1))
	return angle < threshold
}

// RequestChunks walks the render radius around center and queues every
// chunk that is inside the world, inside the view cone and not yet known.
// Requested chunks that went unanswered for ChunkRerequestInterval ticks are
// queued again. At most MaxChunkRequestsPerUpdate chunks, closest first,
// go out in one LOAD packet.
func (m *Manager) RequestChunks(center mathx.Coords2, direction mgl64.Vec3) {
	threshold := m.ConeAngle()
	hasDirection := direction.Len() > 0

	m.tickRequested()

	r := m.renderRadius
	for ox := -r; ox <= r; ox++ {
		for oz := -r; oz <= r; oz++ {
			if ox*ox+oz*oz > r*r {
				continue
			}
			cc := mathx.Coords2{center[0] + ox, center[1] + oz}
			if !m.opts.ChunkWithinWorld(cc[0], cc[1]) {
				continue
			}
			if hasDirection && !m.InView(center, cc, direction, threshold) {
				continue
			}
			if m.Status(cc[0], cc[1]) == StatusNone {
				m.pushToRequest(cc)
			}
		}
	}

	if len(m.toRequest) == 0 {
		return
	}
	sort.SliceStable(m.toRequest, func(i, j int) bool {
		return mathx.DistSq(m.toRequest[i], center) < mathx.DistSq(m.toRequest[j], center)
	})
	n := m.opts.MaxChunkRequestsPerUpdate
	if n > len(m.toRequest) {
		n = len(m.toRequest)
	}
	batch := make([][2]int, 0, n)
	for _, cc := range m.toRequest[:n] {
		name := chunkName(cc[0], cc[1])
		delete(m.toRequestSet, name)
		m.requested[name] = 0
		batch = append(batch, [2]int(cc))
	}
	m.toRequest = append(m.toRequest[:0], m.toRequest[n:]...)

	m.packets = append(m.packets, protocol.LoadRequestMsg{
		Type:            protocol.TypeLoad,
		ProtocolVersion: protocol.Version,
		Center:          [2]int(center),
		Direction:       [2]float64{direction.X(), direction.Z()},
		Chunks:          batch,
	})
}

// tickRequested ages every outstanding request and moves the ones past the
// rerequest interval back to the request queue.
func (m *Manager) tickRequested() {
	names := maps.Keys(m.requested)
	sort.Strings(names)
	for _, name := range names {
		count := m.requested[name] + 1
		if count <= m.opts.ChunkRerequestInterval {
			m.requested[name] = count
			continue
		}
		cc, err := mathx.ParseChunkName(name)
		delete(m.requested, name)
		if err != nil {
			continue
		}
		m.logger.Printf("chunk request lost chunk=%s ticks=%d", name, count-1)
		m.pushToRequest(cc)
	}
}
