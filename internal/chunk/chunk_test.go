package chunk

import (
	"encoding/json"
	"errors"
	"testing"

	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/protocol"
	"voxelclient.ai/internal/voxel"
)

func testOpts() config.WorldOptions {
	o := config.DefaultWorldOptions()
	o.ChunkSize = 4
	o.MaxHeight = 16
	o.SubChunks = 4
	return o
}

type recordingScene struct{ added, removed int }

func (s *recordingScene) Add(Mesh)    { s.added++ }
func (s *recordingScene) Remove(Mesh) { s.removed++ }

func TestRawChunk_AccessorsAndBounds(t *testing.T) {
	c := NewRaw("a", -1, 2, 4, 16)
	if c.Min != [3]int{-4, 0, 8} || c.Max != [3]int{0, 16, 12} {
		t.Fatalf("bounds: min=%v max=%v", c.Min, c.Max)
	}
	if got := c.VoxelAt(-1, 3, 9); got != 0 {
		t.Fatalf("read before alloc: got=%d", got)
	}
	if !c.SetVoxel(-1, 3, 9, 7) {
		t.Fatalf("set in bounds failed")
	}
	c.SetVoxelRotation(-1, 3, 9, voxel.Rotation{Axis: voxel.PX, YRotation: 4})
	c.SetVoxelStage(-1, 3, 9, 2)
	if c.VoxelAt(-1, 3, 9) != 7 || c.VoxelStageAt(-1, 3, 9) != 2 || c.VoxelRotationAt(-1, 3, 9).Axis != voxel.PX {
		t.Fatalf("packed fields lost: %x", c.RawVoxel(-1, 3, 9))
	}
	if c.SetVoxel(0, 3, 9, 1) || c.SetVoxel(-1, 16, 9, 1) {
		t.Fatalf("write outside bounds accepted")
	}
	if c.VoxelAt(5, 3, 9) != 0 || c.SunlightAt(-1, -1, 9) != 0 {
		t.Fatalf("read outside bounds must be 0")
	}

	c.SetSunlight(-2, 0, 8, 15)
	c.SetTorchLight(-2, 0, 8, voxel.Green, 9)
	if c.SunlightAt(-2, 0, 8) != 15 || c.TorchLightAt(-2, 0, 8, voxel.Green) != 9 || c.TorchLightAt(-2, 0, 8, voxel.Red) != 0 {
		t.Fatalf("light channels: %x", c.RawLight(-2, 0, 8))
	}
	if c.MaxHeightAt(-1, 9) != 3 || c.MaxHeightAt(-2, 9) != -1 {
		t.Fatalf("max height wrong")
	}
}

func TestChunk_SerializeSetDataRoundTrip(t *testing.T) {
	opts := testOpts()
	src := New("c1", 3, -2, opts, nil)
	src.Allocate()
	for i := range src.Voxels {
		src.Voxels[i] = uint32(i*7) & 0x0FFF00FF
		src.Lights[i] = uint32(i*13) & 0xFFFF
	}
	wire, err := json.Marshal(src.Serialize().Protocol())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var p protocol.ChunkProtocol
	if err := json.Unmarshal(wire, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	dst := New("", 3, -2, opts, nil)
	if err := dst.SetData(p); err != nil {
		t.Fatalf("set data: %v", err)
	}
	if dst.ID != "c1" {
		t.Fatalf("id not adopted: %q", dst.ID)
	}
	for i := range src.Voxels {
		if src.Voxels[i] != dst.Voxels[i] || src.Lights[i] != dst.Lights[i] {
			t.Fatalf("mismatch at %d", i)
		}
	}
}

func TestChunk_SetDataPartialAndErrors(t *testing.T) {
	opts := testOpts()
	c := New("c1", 0, 0, opts, nil)
	c.Allocate()
	c.SetSunlight(1, 1, 1, 12)

	voxels := make([]uint32, c.Volume())
	voxels[0] = 5
	before := c.Serial()
	if err := c.SetData(protocol.ChunkProtocol{ID: "c1", Voxels: voxels}); err != nil {
		t.Fatalf("set data: %v", err)
	}
	if c.SunlightAt(1, 1, 1) != 12 {
		t.Fatalf("voxel-only payload clobbered lights")
	}
	if c.Serial() == before {
		t.Fatalf("serial not bumped by SetData")
	}
	if err := c.SetData(protocol.ChunkProtocol{ID: "other"}); !errors.Is(err, ErrIDMismatch) {
		t.Fatalf("expected id mismatch, got %v", err)
	}
	if err := c.SetData(protocol.ChunkProtocol{ID: "c1", X: 1}); !errors.Is(err, ErrCoordsMismatch) {
		t.Fatalf("expected coords mismatch, got %v", err)
	}
	if err := c.SetData(protocol.ChunkProtocol{ID: "c1", Lights: []uint32{1, 2}}); !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected bad length, got %v", err)
	}
}

func TestChunk_IsReadyAndDispose(t *testing.T) {
	scene := &recordingScene{}
	c := New("c1", 0, 0, testOpts(), scene)
	if c.IsReady() {
		t.Fatalf("empty chunk must not be ready")
	}
	c.Allocate()
	if !c.IsReady() {
		t.Fatalf("all-air chunk with arrays should be ready")
	}
	c.SetVoxel(0, 5, 0, 1)  // level 1
	c.SetVoxel(0, 13, 0, 1) // level 3
	if got := c.ActiveLevels(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("active levels: %v", got)
	}
	if c.IsReady() {
		t.Fatalf("unmeshed active levels must block readiness")
	}
	b := GeometryBuilder{}
	c.SetMeshes(1, b.Build(c, 1, []protocol.GeometryProtocol{{Voxel: 1}}))
	if c.IsReady() {
		t.Fatalf("level 3 still unmeshed")
	}
	c.SetMeshes(3, b.Build(c, 3, []protocol.GeometryProtocol{{Voxel: 1}, {Voxel: 2}}))
	if !c.IsReady() {
		t.Fatalf("expected ready")
	}
	old := c.Meshes(3)
	c.SetMeshes(3, nil)
	if !old[0].(*GeometryMesh).Disposed {
		t.Fatalf("replaced mesh not disposed")
	}
	c.Dispose()
	if c.MeshCount() != 0 || scene.added != 3 || scene.removed != 3 {
		t.Fatalf("dispose: count=%d added=%d removed=%d", c.MeshCount(), scene.added, scene.removed)
	}
	if c.IsReady() {
		t.Fatalf("disposed chunk must not be ready")
	}
}
