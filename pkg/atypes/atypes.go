// Package atypes holds the value types shared across the engine and backend
// packages: channel layouts, sample formats, distance models and the small
// math types a Source needs. These mirror the enum class declarations in
// AL/alure2.h, translated to Go int-based enums with String() methods.
package atypes

import (
	"fmt"
	"math"
)

// ChannelConfig identifies the speaker layout of a decoded Buffer or Source.
type ChannelConfig int

const (
	Mono ChannelConfig = iota
	Stereo
	Rear
	Quad
	X51
	X61
	X71
	BFormat2D
	BFormat3D
)

func (c ChannelConfig) String() string {
	switch c {
	case Mono:
		return "Mono"
	case Stereo:
		return "Stereo"
	case Rear:
		return "Rear"
	case Quad:
		return "Quad"
	case X51:
		return "5.1"
	case X61:
		return "6.1"
	case X71:
		return "7.1"
	case BFormat2D:
		return "BFormat2D"
	case BFormat3D:
		return "BFormat3D"
	default:
		return fmt.Sprintf("ChannelConfig(%d)", int(c))
	}
}

// Channels returns the channel count backing this layout, used by
// FramesToBytes and the backend format lookup.
func (c ChannelConfig) Channels() int {
	switch c {
	case Mono:
		return 1
	case Stereo, BFormat2D:
		return 2
	case Rear, Quad:
		return 4
	case X51, BFormat3D:
		return 6
	case X61:
		return 7
	case X71:
		return 8
	default:
		return 0
	}
}

// SampleType identifies the per-sample encoding of a decoded Buffer.
type SampleType int

const (
	UInt8 SampleType = iota
	Int16
	Float32
	Mulaw
)

func (s SampleType) String() string {
	switch s {
	case UInt8:
		return "UInt8"
	case Int16:
		return "Int16"
	case Float32:
		return "Float32"
	case Mulaw:
		return "Mulaw"
	default:
		return fmt.Sprintf("SampleType(%d)", int(s))
	}
}

// Size returns the byte width of one sample of this type. Mulaw is a
// byte-per-sample encoding, matching alure2's FramesToBytes table.
func (s SampleType) Size() int {
	switch s {
	case UInt8, Mulaw:
		return 1
	case Int16:
		return 2
	case Float32:
		return 4
	default:
		return 0
	}
}

// FramesToBytes converts a frame count to a byte count for the given layout
// and sample encoding, grounded on ALBuffer::FramesToBytes in buffer.cpp.
func FramesToBytes(frames int, chans ChannelConfig, samples SampleType) int {
	return frames * chans.Channels() * samples.Size()
}

// BytesToFrames is the inverse of FramesToBytes.
func BytesToFrames(bytes int, chans ChannelConfig, samples SampleType) int {
	stride := chans.Channels() * samples.Size()
	if stride == 0 {
		return 0
	}
	return bytes / stride
}

// DistanceModel controls how the backend attenuates a Source's gain by
// distance from the Listener.
type DistanceModel int

const (
	InverseDistance DistanceModel = iota
	InverseDistanceClamped
	LinearDistance
	LinearDistanceClamped
	ExponentDistance
	ExponentDistanceClamped
	DistanceModelNone
)

func (d DistanceModel) String() string {
	switch d {
	case InverseDistance:
		return "InverseDistance"
	case InverseDistanceClamped:
		return "InverseDistanceClamped"
	case LinearDistance:
		return "LinearDistance"
	case LinearDistanceClamped:
		return "LinearDistanceClamped"
	case ExponentDistance:
		return "ExponentDistance"
	case ExponentDistanceClamped:
		return "ExponentDistanceClamped"
	case DistanceModelNone:
		return "None"
	default:
		return fmt.Sprintf("DistanceModel(%d)", int(d))
	}
}

// Spatialize controls whether a Source is treated as 3D-positioned.
type Spatialize int

const (
	SpatializeOff Spatialize = iota
	SpatializeOn
	SpatializeAuto
)

func (s Spatialize) String() string {
	switch s {
	case SpatializeOff:
		return "Off"
	case SpatializeOn:
		return "On"
	case SpatializeAuto:
		return "Auto"
	default:
		return fmt.Sprintf("Spatialize(%d)", int(s))
	}
}

// Vector3 is a plain 3-component vector used for position, velocity,
// direction and orientation. The core never does positional math on it
// beyond passing components to the backend; see spec Non-goals.
type Vector3 struct {
	X, Y, Z float32
}

// FilterParams mirrors alure2's low/high-pass filter gain triple, applied to
// a Source's direct path or one of its auxiliary sends.
type FilterParams struct {
	Gain   float32
	GainHF float32
	GainLF float32
}

// DBToLinear and LinearToDB match the free functions in alure2.h.
func DBToLinear(db float64) float64 {
	return math.Pow(10.0, db/20.0)
}

func LinearToDB(linear float64) float64 {
	return math.Log10(linear) * 20.0
}
