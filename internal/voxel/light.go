package voxel

import "fmt"

// Color selects one of the four light channels packed into a light word.
type Color uint8

const (
	Sunlight Color = iota
	Red
	Green
	Blue
)

// Colors lists every channel in propagation order.
var Colors = [4]Color{Sunlight, Red, Green, Blue}

// TorchColors lists the block-emitted channels.
var TorchColors = [3]Color{Red, Green, Blue}

func (c Color) String() string {
	switch c {
	case Sunlight:
		return "SUNLIGHT"
	case Red:
		return "RED"
	case Green:
		return "GREEN"
	case Blue:
		return "BLUE"
	default:
		return fmt.Sprintf("Color(%d)", uint8(c))
	}
}

func ParseColor(s string) (Color, error) {
	switch s {
	case "SUNLIGHT":
		return Sunlight, nil
	case "RED":
		return Red, nil
	case "GREEN":
		return Green, nil
	case "BLUE":
		return Blue, nil
	}
	return 0, fmt.Errorf("unknown light color %q", s)
}

func (c Color) shift() uint32 {
	switch c {
	case Sunlight:
		return 12
	case Red:
		return 8
	case Green:
		return 4
	default:
		return 0
	}
}

// Level extracts the 4-bit level of channel c from a light word.
func Level(l uint32, c Color) uint32 {
	return (l >> c.shift()) & 0xF
}

// InsertLevel writes a 4-bit level for channel c into a light word.
func InsertLevel(l uint32, c Color, level uint32) uint32 {
	s := c.shift()
	return (l &^ (0xF << s)) | ((level & 0xF) << s)
}

func SunlightOf(l uint32) uint32 { return Level(l, Sunlight) }
func RedOf(l uint32) uint32      { return Level(l, Red) }
func GreenOf(l uint32) uint32    { return Level(l, Green) }
func BlueOf(l uint32) uint32     { return Level(l, Blue) }

// PackLight builds a light word from its four channels.
func PackLight(sun, red, green, blue uint32) uint32 {
	return (sun&0xF)<<12 | (red&0xF)<<8 | (green&0xF)<<4 | blue&0xF
}
