// Package chunks owns every loaded, requested and queued chunk and drives
// the request, process and maintain steps of the chunk lifecycle.
package chunks

import (
	"io"
	"log"
	"sort"

	"golang.org/x/exp/maps"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/protocol"
	"voxelclient.ai/internal/voxel"
)

// Source tells where a payload or voxel update came from.
type Source uint8

const (
	SourceLoad Source = iota
	SourceUpdate
	SourceClient
)

func (s Source) String() string {
	switch s {
	case SourceLoad:
		return "load"
	case SourceUpdate:
		return "update"
	default:
		return "client"
	}
}

// Payload is a chunk payload waiting to be processed.
type Payload struct {
	Source Source
	Data   protocol.ChunkProtocol
}

// BlockUpdate is a queued voxel edit.
type BlockUpdate struct {
	VX, VY, VZ int
	Voxel      uint32
	Source     Source
}

// Processed describes one payload ProcessChunks applied.
type Processed struct {
	Chunk     *chunk.Chunk
	Source    Source
	Created   bool
	HasMeshes bool
}

type Options struct {
	World   config.WorldOptions
	Scene   chunk.Scene
	Builder chunk.MeshBuilder
	Logger  *log.Logger
}

type Manager struct {
	opts    config.WorldOptions
	scene   chunk.Scene
	builder chunk.MeshBuilder
	logger  *log.Logger

	renderRadius int
	deleteRadius float64

	loaded       map[string]*chunk.Chunk
	requested    map[string]int
	toRequest    []mathx.Coords2
	toRequestSet map[string]bool
	toProcess    []Payload
	processing   map[string]int

	toUpdate []BlockUpdate
	toEmit   []protocol.UpdateProtocol
	packets  []any

	initListeners map[string][]func(*chunk.Chunk)
}

func New(o Options) *Manager {
	logger := o.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	builder := o.Builder
	if builder == nil {
		builder = chunk.GeometryBuilder{}
	}
	m := &Manager{
		opts:          o.World,
		scene:         o.Scene,
		builder:       builder,
		logger:        logger,
		loaded:        map[string]*chunk.Chunk{},
		requested:     map[string]int{},
		toRequestSet:  map[string]bool{},
		processing:    map[string]int{},
		initListeners: map[string][]func(*chunk.Chunk){},
	}
	m.SetRenderRadius(o.World.DefaultRenderRadius)
	return m
}

func chunkName(cx, cz int) string { return mathx.ChunkName(cx, cz) }

func (m *Manager) Options() config.WorldOptions { return m.opts }

func (m *Manager) RenderRadius() int { return m.renderRadius }

func (m *Manager) DeleteRadius() float64 { return m.deleteRadius }

// SetRenderRadius also moves the eviction radius to 1.1x the render radius.
func (m *Manager) SetRenderRadius(r int) {
	if r < 1 {
		r = 1
	}
	m.renderRadius = r
	m.deleteRadius = float64(r) * 1.1
}

// Receive queues a payload. A payload answers any outstanding request for
// its chunk. Update payloads jump the queue.
func (m *Manager) Receive(source Source, p protocol.ChunkProtocol) bool {
	if !m.opts.ChunkWithinWorld(p.X, p.Z) {
		m.logger.Printf("chunk payload outside world x=%d z=%d", p.X, p.Z)
		return false
	}
	name := chunkName(p.X, p.Z)
	delete(m.requested, name)
	m.removeToRequest(name)
	m.processing[name]++
	pl := Payload{Source: source, Data: p}
	if source == SourceUpdate {
		m.toProcess = append([]Payload{pl}, m.toProcess...)
	} else {
		m.toProcess = append(m.toProcess, pl)
	}
	return true
}

func (m *Manager) removeToRequest(name string) {
	if !m.toRequestSet[name] {
		return
	}
	delete(m.toRequestSet, name)
	kept := m.toRequest[:0]
	for _, c := range m.toRequest {
		if chunkName(c[0], c[1]) != name {
			kept = append(kept, c)
		}
	}
	m.toRequest = kept
}

func (m *Manager) pushToRequest(c mathx.Coords2) {
	name := chunkName(c[0], c[1])
	if m.toRequestSet[name] {
		return
	}
	m.toRequestSet[name] = true
	m.toRequest = append(m.toRequest, c)
}

// ProcessChunks applies up to MaxProcessesPerUpdate queued payloads,
// closest to center first.
func (m *Manager) ProcessChunks(center mathx.Coords2) []Processed {
	if len(m.toProcess) == 0 {
		return nil
	}
	sort.SliceStable(m.toProcess, func(i, j int) bool {
		a, b := m.toProcess[i].Data, m.toProcess[j].Data
		return mathx.DistSq(mathx.Coords2{a.X, a.Z}, center) < mathx.DistSq(mathx.Coords2{b.X, b.Z}, center)
	})
	n := m.opts.MaxProcessesPerUpdate
	if n > len(m.toProcess) {
		n = len(m.toProcess)
	}
	batch := make([]Payload, n)
	copy(batch, m.toProcess[:n])
	m.toProcess = append(m.toProcess[:0], m.toProcess[n:]...)

	var out []Processed
	for _, pl := range batch {
		name := chunkName(pl.Data.X, pl.Data.Z)
		if m.processing[name]--; m.processing[name] <= 0 {
			delete(m.processing, name)
		}
		if pr, ok := m.process(name, pl); ok {
			out = append(out, pr)
		}
	}
	return out
}

func (m *Manager) process(name string, pl Payload) (Processed, bool) {
	d := pl.Data
	c, ok := m.loaded[name]
	created := !ok
	if created {
		c = chunk.New(d.ID, d.X, d.Z, m.opts, m.scene)
	}
	if err := c.SetData(d); err != nil {
		m.logger.Printf("chunk payload rejected chunk=%s source=%s err=%v", name, pl.Source, err)
		return Processed{}, false
	}
	c.IsDirty = false
	m.loaded[name] = c

	hasMeshes := m.opts.ShouldGenerateChunkMeshes && len(d.Meshes) > 0
	if hasMeshes {
		meshes := d.Meshes
		build := func(c *chunk.Chunk) {
			for _, mp := range meshes {
				c.SetMeshes(mp.Level, m.builder.Build(c, mp.Level, mp.Geometries))
			}
		}
		if complete(c) {
			build(c)
		} else {
			m.initListeners[name] = append(m.initListeners[name], build)
		}
	}
	if complete(c) {
		m.fireInit(name, c)
	}
	return Processed{Chunk: c, Source: pl.Source, Created: created, HasMeshes: hasMeshes}, true
}

func complete(c *chunk.Chunk) bool { return len(c.Voxels) > 0 && len(c.Lights) > 0 }

func (m *Manager) fireInit(name string, c *chunk.Chunk) {
	ls := m.initListeners[name]
	if len(ls) == 0 {
		return
	}
	delete(m.initListeners, name)
	for _, fn := range ls {
		fn(c)
	}
}

// OnInit calls fn once the chunk holds both voxel and light data. It runs
// immediately if that is already the case.
func (m *Manager) OnInit(cx, cz int, fn func(*chunk.Chunk)) {
	name := chunkName(cx, cz)
	if c, ok := m.loaded[name]; ok && complete(c) {
		fn(c)
		return
	}
	m.initListeners[name] = append(m.initListeners[name], fn)
}

// MaintainChunks evicts everything farther than the delete radius from
// center and queues one UNLOAD for the evicted loaded and requested chunks.
func (m *Manager) MaintainChunks(center mathx.Coords2) []*chunk.Chunk {
	limit := m.deleteRadius * m.deleteRadius
	far := func(c mathx.Coords2) bool { return float64(mathx.DistSq(c, center)) > limit }

	var evicted []*chunk.Chunk
	var deleted [][2]int

	names := maps.Keys(m.loaded)
	sort.Strings(names)
	for _, name := range names {
		c := m.loaded[name]
		if !far(c.Coords) {
			continue
		}
		c.Dispose()
		delete(m.loaded, name)
		evicted = append(evicted, c)
		deleted = append(deleted, [2]int(c.Coords))
	}

	names = maps.Keys(m.requested)
	sort.Strings(names)
	for _, name := range names {
		cc, err := mathx.ParseChunkName(name)
		if err != nil || !far(cc) {
			continue
		}
		delete(m.requested, name)
		deleted = append(deleted, [2]int(cc))
	}

	kept := m.toRequest[:0]
	for _, c := range m.toRequest {
		if far(c) {
			delete(m.toRequestSet, chunkName(c[0], c[1]))
			continue
		}
		kept = append(kept, c)
	}
	m.toRequest = kept

	pending := m.toProcess[:0]
	for _, pl := range m.toProcess {
		cc := mathx.Coords2{pl.Data.X, pl.Data.Z}
		if far(cc) {
			name := chunkName(cc[0], cc[1])
			if m.processing[name]--; m.processing[name] <= 0 {
				delete(m.processing, name)
			}
			continue
		}
		pending = append(pending, pl)
	}
	m.toProcess = pending

	for _, cc := range deleted {
		delete(m.initListeners, chunkName(cc[0], cc[1]))
	}
	if len(deleted) > 0 {
		m.packets = append(m.packets, protocol.UnloadMsg{
			Type:            protocol.TypeUnload,
			ProtocolVersion: protocol.Version,
			Chunks:          deleted,
		})
	}
	return evicted
}

// ChunkAt returns the loaded chunk at a chunk coordinate.
func (m *Manager) ChunkAt(cc mathx.Coords2) *chunk.Chunk {
	return m.loaded[chunkName(cc[0], cc[1])]
}

func (m *Manager) ChunkByVoxel(vx, vz int) *chunk.Chunk {
	return m.ChunkAt(mathx.VoxelToChunk(vx, vz, m.opts.ChunkSize))
}

// Loaded lists loaded chunks ordered by coordinates.
func (m *Manager) Loaded() []*chunk.Chunk {
	out := maps.Values(m.loaded)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Coords, out[j].Coords
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		return a[1] < b[1]
	})
	return out
}

func (m *Manager) LoadedCount() int    { return len(m.loaded) }
func (m *Manager) RequestedCount() int { return len(m.requested) }
func (m *Manager) ToRequestCount() int { return len(m.toRequest) }
func (m *Manager) ToProcessCount() int { return len(m.toProcess) }

// ToRequest returns a copy of the chunks waiting to be requested.
func (m *Manager) ToRequest() []mathx.Coords2 {
	return append([]mathx.Coords2(nil), m.toRequest...)
}

// RawVoxel, Contains, LightLevel and SetLightLevel let the light engine run
// directly over loaded chunks.

func (m *Manager) RawVoxel(vx, vy, vz int) uint32 {
	if c := m.ChunkByVoxel(vx, vz); c != nil {
		return c.RawVoxel(vx, vy, vz)
	}
	return 0
}

func (m *Manager) Contains(vx, vy, vz int) bool {
	c := m.ChunkByVoxel(vx, vz)
	return c != nil && len(c.Voxels) > 0 && len(c.Lights) > 0 && vy >= 0 && vy < m.opts.MaxHeight
}

func (m *Manager) LightLevel(vx, vy, vz int, color voxel.Color) uint32 {
	if c := m.ChunkByVoxel(vx, vz); c != nil {
		return c.LightAt(vx, vy, vz, color)
	}
	return 0
}

func (m *Manager) SetLightLevel(vx, vy, vz int, color voxel.Color, level uint32) {
	if c := m.ChunkByVoxel(vx, vz); c != nil {
		c.SetLight(vx, vy, vz, color, level)
	}
}

// SetRawVoxel writes a voxel into a loaded chunk.
func (m *Manager) SetRawVoxel(vx, vy, vz int, v uint32) bool {
	if c := m.ChunkByVoxel(vx, vz); c != nil {
		return c.SetRawVoxel(vx, vy, vz, v)
	}
	return false
}

// QueueUpdates appends voxel edits in submission order.
func (m *Manager) QueueUpdates(us ...BlockUpdate) { m.toUpdate = append(m.toUpdate, us...) }

// TakeUpdates removes and returns up to n queued edits.
func (m *Manager) TakeUpdates(n int) []BlockUpdate {
	if n > len(m.toUpdate) {
		n = len(m.toUpdate)
	}
	out := append([]BlockUpdate(nil), m.toUpdate[:n]...)
	m.toUpdate = append(m.toUpdate[:0], m.toUpdate[n:]...)
	return out
}

// RequeueUpdates puts edits back at the front of the queue.
func (m *Manager) RequeueUpdates(us []BlockUpdate) {
	if len(us) == 0 {
		return
	}
	m.toUpdate = append(append([]BlockUpdate(nil), us...), m.toUpdate...)
}

func (m *Manager) UpdatesLen() int { return len(m.toUpdate) }

// Emit queues an applied client edit for the server.
func (m *Manager) Emit(u protocol.UpdateProtocol) { m.toEmit = append(m.toEmit, u) }

func (m *Manager) EmitLen() int { return len(m.toEmit) }

// FlushEmits turns queued client edits into one UPDATE packet.
func (m *Manager) FlushEmits() {
	if len(m.toEmit) == 0 {
		return
	}
	m.packets = append(m.packets, protocol.UpdateMsg{
		Type:            protocol.TypeUpdate,
		ProtocolVersion: protocol.Version,
		Updates:         m.toEmit,
	})
	m.toEmit = nil
}

// DrainPackets returns and clears the outbound packet queue.
func (m *Manager) DrainPackets() []any {
	out := m.packets
	m.packets = nil
	return out
}
