package voxel

// Packed voxel layout (low to high):
//
//	bits  0-15 block id
//	bits 16-19 rotation axis
//	bits 20-23 y rotation segment
//	bits 24-27 stage
const (
	idMask        = 0xFFFF
	rotationMask  = 0xFFF0FFFF
	yRotationMask = 0xFF0FFFFF
	stageMask     = 0xF0FFFFFF

	MaxStage = 15
)

// Air is block id 0. An empty voxel is always air.
const Air = 0

func ID(v uint32) uint32 { return v & idMask }

func InsertID(v, id uint32) uint32 {
	return (v &^ idMask) | (id & idMask)
}

func RotationOf(v uint32) Rotation {
	return Rotation{
		Axis:      Axis((v >> 16) & 0xF),
		YRotation: (v >> 20) & 0xF,
	}
}

func InsertRotation(v uint32, r Rotation) uint32 {
	v = (v & rotationMask) | ((uint32(r.Axis) & 0xF) << 16)
	return (v & yRotationMask) | ((r.YRotation & 0xF) << 20)
}

func Stage(v uint32) uint32 { return (v >> 24) & 0xF }

// InsertStage writes stage into v. Callers validate stage <= MaxStage.
func InsertStage(v, stage uint32) uint32 {
	return (v & stageMask) | ((stage & 0xF) << 24)
}

// Pack builds a voxel word from its fields.
func Pack(id uint32, r Rotation, stage uint32) uint32 {
	return InsertStage(InsertRotation(InsertID(0, id), r), stage)
}
