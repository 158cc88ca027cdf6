package registry

import (
	"encoding/json"
	"fmt"

	"voxelclient.ai/internal/voxel"
)

// VoxelQuery is the read-only view rules evaluate against.
type VoxelQuery interface {
	RawVoxel(vx, vy, vz int) uint32
}

type RuleType string

const (
	RuleNone        RuleType = "none"
	RuleSimple      RuleType = "simple"
	RuleCombination RuleType = "combination"
)

type RuleLogic string

const (
	LogicAnd RuleLogic = "and"
	LogicOr  RuleLogic = "or"
	LogicNot RuleLogic = "not"
)

// Rule is a tagged variant. Simple rules test the voxel at Offset from the
// evaluated position; nil fields match anything.
type Rule struct {
	Type RuleType `json:"type,omitempty"`

	Offset   [3]int          `json:"offset,omitempty"`
	ID       *uint32         `json:"id,omitempty"`
	Rotation *voxel.Rotation `json:"rotation,omitempty"`
	Stage    *uint32         `json:"stage,omitempty"`

	Logic RuleLogic `json:"logic,omitempty"`
	Rules []Rule    `json:"rules,omitempty"`
}

type DynamicPart struct {
	Rule            Rule    `json:"rule"`
	RedLightLevel   *uint32 `json:"red_light_level,omitempty"`
	GreenLightLevel *uint32 `json:"green_light_level,omitempty"`
	BlueLightLevel  *uint32 `json:"blue_light_level,omitempty"`
}

type DynamicPattern struct {
	Parts []DynamicPart `json:"parts"`
}

func (r *Rule) UnmarshalJSON(b []byte) error {
	type plain Rule
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	switch p.Type {
	case "":
		p.Type = RuleNone
	case RuleNone, RuleSimple:
	case RuleCombination:
		switch p.Logic {
		case LogicAnd, LogicOr, LogicNot:
		default:
			return fmt.Errorf("rule: unknown logic %q", p.Logic)
		}
	default:
		return fmt.Errorf("rule: unknown type %q", p.Type)
	}
	*r = Rule(p)
	return nil
}

// Evaluate reports whether the rule holds at pos.
func (r *Rule) Evaluate(pos [3]int, q VoxelQuery) bool {
	switch r.Type {
	case RuleSimple:
		raw := q.RawVoxel(pos[0]+r.Offset[0], pos[1]+r.Offset[1], pos[2]+r.Offset[2])
		if r.ID != nil && voxel.ID(raw) != *r.ID {
			return false
		}
		if r.Rotation != nil && voxel.RotationOf(raw) != *r.Rotation {
			return false
		}
		if r.Stage != nil && voxel.Stage(raw) != *r.Stage {
			return false
		}
		return true
	case RuleCombination:
		switch r.Logic {
		case LogicAnd:
			for i := range r.Rules {
				if !r.Rules[i].Evaluate(pos, q) {
					return false
				}
			}
			return true
		case LogicOr:
			for i := range r.Rules {
				if r.Rules[i].Evaluate(pos, q) {
					return true
				}
			}
			return false
		case LogicNot:
			if len(r.Rules) == 0 {
				return true
			}
			return !r.Rules[0].Evaluate(pos, q)
		}
		return false
	default:
		return true
	}
}

func (p *DynamicPart) level(c voxel.Color) (uint32, bool) {
	var v *uint32
	switch c {
	case voxel.Red:
		v = p.RedLightLevel
	case voxel.Green:
		v = p.GreenLightLevel
	case voxel.Blue:
		v = p.BlueLightLevel
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// TorchLevelAt resolves emission for a block placed at pos, taking dynamic
// patterns into account. The first matching part that defines c wins.
func (b *Block) TorchLevelAt(pos [3]int, q VoxelQuery, c voxel.Color) uint32 {
	if c == voxel.Sunlight {
		return 0
	}
	for i := range b.DynamicPatterns {
		parts := b.DynamicPatterns[i].Parts
		for j := range parts {
			if !parts[j].Rule.Evaluate(pos, q) {
				continue
			}
			if lvl, ok := parts[j].level(c); ok {
				return lvl
			}
		}
	}
	return b.TorchLevel(c)
}
