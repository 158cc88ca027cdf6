package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"voxelclient.ai/internal/voxel"
)

var ErrUnknownBlock = errors.New("unknown block id")

// Block is the light- and shape-relevant definition of one block type.
type Block struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`

	// IsTransparent is indexed [px, py, pz, nx, ny, nz] for the upright block.
	IsTransparent [6]bool `json:"is_transparent"`
	LightReduce   bool    `json:"light_reduce,omitempty"`

	RedLightLevel   uint32 `json:"red_light_level,omitempty"`
	GreenLightLevel uint32 `json:"green_light_level,omitempty"`
	BlueLightLevel  uint32 `json:"blue_light_level,omitempty"`

	Rotatable  bool `json:"rotatable,omitempty"`
	YRotatable bool `json:"y_rotatable,omitempty"`

	DynamicPatterns []DynamicPattern `json:"dynamic_patterns,omitempty"`

	// Derived in New.
	IsOpaque bool `json:"-"`
	IsLight  bool `json:"-"`
}

// AirBlock is used for id 0 when a registry does not define it.
func AirBlock() Block {
	return Block{
		ID:            voxel.Air,
		Name:          "air",
		IsTransparent: [6]bool{true, true, true, true, true, true},
	}
}

func (b *Block) recompute() {
	b.IsOpaque = true
	for _, t := range b.IsTransparent {
		if t {
			b.IsOpaque = false
			break
		}
	}
	b.IsLight = b.RedLightLevel > 0 || b.GreenLightLevel > 0 || b.BlueLightLevel > 0
}

func (b *Block) RotatedTransparency(r voxel.Rotation) [6]bool {
	return r.RotateTransparency(b.IsTransparent)
}

// TorchLevel is the static emission for c. Sunlight is never emitted.
func (b *Block) TorchLevel(c voxel.Color) uint32 {
	switch c {
	case voxel.Red:
		return b.RedLightLevel
	case voxel.Green:
		return b.GreenLightLevel
	case voxel.Blue:
		return b.BlueLightLevel
	}
	return 0
}

func (b *Block) IsDynamic() bool { return len(b.DynamicPatterns) > 0 }

// Registry resolves block ids. It is read-only after New and safe to share
// between goroutines.
type Registry struct {
	blocks []Block
	dense  []int32
	byName map[string]int
	air    int

	Digest string
}

func New(blocks []Block) (*Registry, error) {
	r := &Registry{byName: map[string]int{}}
	seen := map[uint32]bool{}
	for _, b := range blocks {
		if seen[b.ID] {
			return nil, fmt.Errorf("duplicate block id %d", b.ID)
		}
		if b.ID > 0xFFFF {
			return nil, fmt.Errorf("block %q: id %d exceeds 16 bits", b.Name, b.ID)
		}
		for _, lvl := range []uint32{b.RedLightLevel, b.GreenLightLevel, b.BlueLightLevel} {
			if lvl > 15 {
				return nil, fmt.Errorf("block %q: light level %d out of range", b.Name, lvl)
			}
		}
		seen[b.ID] = true
		r.blocks = append(r.blocks, b)
	}
	if !seen[voxel.Air] {
		r.blocks = append(r.blocks, AirBlock())
	}
	sort.Slice(r.blocks, func(i, j int) bool { return r.blocks[i].ID < r.blocks[j].ID })

	maxID := r.blocks[len(r.blocks)-1].ID
	r.dense = make([]int32, maxID+1)
	for i := range r.dense {
		r.dense[i] = -1
	}
	for i := range r.blocks {
		b := &r.blocks[i]
		b.recompute()
		r.dense[b.ID] = int32(i)
		if b.ID == voxel.Air {
			r.air = i
		}
		if b.Name != "" {
			if _, dup := r.byName[b.Name]; dup {
				return nil, fmt.Errorf("duplicate block name %q", b.Name)
			}
			r.byName[b.Name] = i
		}
	}

	raw, _ := json.Marshal(r.blocks)
	sum := sha256.Sum256(raw)
	r.Digest = hex.EncodeToString(sum[:])
	return r, nil
}

// Load reads a JSON array of blocks.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var blocks []Block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	r, err := New(blocks)
	if err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	return r, nil
}

// ByID reports whether id is defined.
func (r *Registry) ByID(id uint32) (*Block, bool) {
	if int(id) >= len(r.dense) || r.dense[id] < 0 {
		return nil, false
	}
	return &r.blocks[r.dense[id]], true
}

// Lookup never fails: undefined ids resolve to air.
func (r *Registry) Lookup(id uint32) *Block {
	if b, ok := r.ByID(id); ok {
		return b
	}
	return &r.blocks[r.air]
}

func (r *Registry) ByName(name string) (*Block, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return &r.blocks[i], true
}

// Blocks returns a copy of every definition ordered by id.
func (r *Registry) Blocks() []Block {
	out := make([]Block, len(r.blocks))
	copy(out, r.blocks)
	return out
}

func (r *Registry) Len() int { return len(r.blocks) }
