package voxel

import "testing"

func TestPack_RoundTrip(t *testing.T) {
	r := Rotation{Axis: NZ, YRotation: 9}
	v := Pack(1234, r, 7)
	if got := ID(v); got != 1234 {
		t.Fatalf("ID=%d want=1234", got)
	}
	if got := RotationOf(v); got != r {
		t.Fatalf("rotation=%+v want=%+v", got, r)
	}
	if got := Stage(v); got != 7 {
		t.Fatalf("stage=%d want=7", got)
	}

	v = InsertID(v, 5)
	if ID(v) != 5 || Stage(v) != 7 || RotationOf(v) != r {
		t.Fatalf("InsertID clobbered other fields: %#x", v)
	}
	v = InsertStage(v, 0)
	if Stage(v) != 0 || ID(v) != 5 {
		t.Fatalf("InsertStage: %#x", v)
	}
}

func TestLight_Channels(t *testing.T) {
	l := PackLight(15, 3, 9, 1)
	if SunlightOf(l) != 15 || RedOf(l) != 3 || GreenOf(l) != 9 || BlueOf(l) != 1 {
		t.Fatalf("unpack mismatch: %#x", l)
	}
	l = InsertLevel(l, Green, 0)
	if GreenOf(l) != 0 || RedOf(l) != 3 || BlueOf(l) != 1 || SunlightOf(l) != 15 {
		t.Fatalf("InsertLevel touched other channels: %#x", l)
	}
	if l != 0xF301 {
		t.Fatalf("layout: got=%#x want=0xf301", l)
	}
}

func TestRotateTransparency_Axes(t *testing.T) {
	// Only the top face is open.
	top := [6]bool{false, true, false, false, false, false}

	cases := []struct {
		axis Axis
		face int
	}{
		{PY, FacePY},
		{NY, FaceNY},
		{PX, FacePX},
		{NX, FaceNX},
		{PZ, FacePZ},
		{NZ, FaceNZ},
	}
	for _, c := range cases {
		got := Rotation{Axis: c.axis}.RotateTransparency(top)
		for i := range got {
			if got[i] != (i == c.face) {
				t.Fatalf("axis=%d: got=%v want only face %d", c.axis, got, c.face)
			}
		}
	}
}

func TestRotateTransparency_YRotation(t *testing.T) {
	// Open on +x only; a quarter turn around +y moves it to -z.
	px := [6]bool{true, false, false, false, false, false}
	got := Rotation{Axis: PY, YRotation: 4}.RotateTransparency(px)
	if !got[FaceNZ] {
		t.Fatalf("quarter turn: got=%v want -z open", got)
	}
	count := 0
	for _, b := range got {
		if b {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("rotation must be a permutation: %v", got)
	}

	// Segment 1 snaps back to no rotation.
	if got := (Rotation{Axis: PY, YRotation: 1}).RotateTransparency(px); got != px {
		t.Fatalf("snap: got=%v want=%v", got, px)
	}
}
