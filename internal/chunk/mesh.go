package chunk

import "voxelclient.ai/internal/protocol"

// Mesh is a renderer-owned handle for geometry of one sub-chunk level.
type Mesh interface {
	Level() int
	Dispose()
}

// Scene is the renderer collaborator meshes are attached to.
type Scene interface {
	Add(m Mesh)
	Remove(m Mesh)
}

// MeshBuilder turns worker geometry into renderer handles.
type MeshBuilder interface {
	Build(c *Chunk, level int, geometries []protocol.GeometryProtocol) []Mesh
}

// GeometryMesh keeps the raw geometry. It is the handle used when no
// renderer is attached (headless clients, tests).
type GeometryMesh struct {
	Chunk    string
	L        int
	Geometry protocol.GeometryProtocol
	Disposed bool
}

func (m *GeometryMesh) Level() int { return m.L }
func (m *GeometryMesh) Dispose()   { m.Disposed = true }

type GeometryBuilder struct{}

func (GeometryBuilder) Build(c *Chunk, level int, geometries []protocol.GeometryProtocol) []Mesh {
	out := make([]Mesh, 0, len(geometries))
	for _, g := range geometries {
		out = append(out, &GeometryMesh{Chunk: c.Name, L: level, Geometry: g})
	}
	return out
}

type nopScene struct{}

func (nopScene) Add(Mesh)    {}
func (nopScene) Remove(Mesh) {}
