package voxel

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Axis is the major axis a rotatable block's top face points along.
type Axis uint32

const (
	PY Axis = iota
	NY
	PX
	NX
	PZ
	NZ
)

// YRotSegments is the number of discrete y rotations around the major axis.
const YRotSegments = 16

type Rotation struct {
	Axis      Axis   `json:"axis"`
	YRotation uint32 `json:"y_rotation"`
}

// Face indices into a transparency mask.
const (
	FacePX = iota
	FacePY
	FacePZ
	FaceNX
	FaceNY
	FaceNZ
)

var faceNormals = [6]mgl64.Vec3{
	{1, 0, 0},
	{0, 1, 0},
	{0, 0, 1},
	{-1, 0, 0},
	{0, -1, 0},
	{0, 0, -1},
}

// Matrix returns the rotation taking an upright block into this orientation.
// The y rotation is applied first, around the block's own up axis.
func (r Rotation) Matrix() mgl64.Mat3 {
	var axis mgl64.Mat3
	switch r.Axis {
	case NY:
		axis = mgl64.Rotate3DX(math.Pi)
	case PX:
		axis = mgl64.Rotate3DZ(-math.Pi / 2)
	case NX:
		axis = mgl64.Rotate3DZ(math.Pi / 2)
	case PZ:
		axis = mgl64.Rotate3DX(math.Pi / 2)
	case NZ:
		axis = mgl64.Rotate3DX(-math.Pi / 2)
	default:
		axis = mgl64.Ident3()
	}
	if q := r.quarterTurns(); q != 0 {
		axis = axis.Mul3(mgl64.Rotate3DY(float64(q) * math.Pi / 2))
	}
	return axis
}

// quarterTurns snaps the y rotation to the nearest multiple of 90 degrees,
// which is all face transparency can express.
func (r Rotation) quarterTurns() int {
	seg := int(r.YRotation % YRotSegments)
	return ((seg + 2) / 4) % 4
}

// RotateTransparency maps an upright [px,py,pz,nx,ny,nz] mask onto the
// faces the block occupies after rotation.
func (r Rotation) RotateTransparency(t [6]bool) [6]bool {
	if r.Axis == PY && r.quarterTurns() == 0 {
		return t
	}
	m := r.Matrix()
	var out [6]bool
	for i, n := range faceNormals {
		out[faceOf(m.Mul3x1(n))] = t[i]
	}
	return out
}

func faceOf(v mgl64.Vec3) int {
	x, y, z := math.Round(v[0]), math.Round(v[1]), math.Round(v[2])
	switch {
	case x > 0:
		return FacePX
	case x < 0:
		return FaceNX
	case y > 0:
		return FacePY
	case y < 0:
		return FaceNY
	case z > 0:
		return FacePZ
	default:
		return FaceNZ
	}
}
