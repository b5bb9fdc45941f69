// Package backend defines the low-level positional audio backend interface
// the engine package drives. This is alure2's "OpenAL" boundary: spec.md
// treats the backend itself as an opaque external collaborator and only
// specifies its interface (spec.md §6). Two implementations are provided:
// backend/portaudio (a real adapter, one backend voice per PortAudio output
// stream, grounded on the teacher's pkg/audioplayer/player.go) and
// backend/software (an in-memory fake for unit tests).
package backend

import (
	"errors"

	"github.com/drgolem/spatialaudio/pkg/atypes"
)

// ErrNotSupported is returned by backend calls the implementation doesn't
// back with real functionality (e.g. EFX reverb on a backend with no DSP
// effects bus, like plain PortAudio output).
var ErrNotSupported = errors.New("backend: not supported")

// BufferID and SourceID (voice ID) are opaque backend handles. 0 is never a
// valid allocated ID, matching OpenAL's convention that object ID 0 means
// "none".
type BufferID uint32
type SourceID uint32
type EffectSlotID uint32
type EffectID uint32

// DeviceInfo describes one enumerable playback device.
type DeviceInfo struct {
	Index             int
	Name              string
	MaxOutputChannels int
	DefaultSampleRate float64
}

// SourceState mirrors the subset of backend voice states the engine polls
// (AL_PLAYING/AL_PAUSED/AL_STOPPED).
type SourceState int

const (
	StateInitial SourceState = iota
	StatePlaying
	StatePaused
	StateStopped
)

// Backend is the interface the engine package drives. It groups the
// spec.md §6 bullet list: device/context lifecycle, buffer generate/
// delete/upload/loop-points, source generate/delete/play/pause/stop/queue/
// unqueue/offset, listener setters, effect/filter/slot generate/delete/
// parametrize, and extension/capability queries.
type Backend interface {
	// Device/context lifecycle.
	Devices() ([]DeviceInfo, error)
	OpenDevice(name string) error
	CloseDevice() error
	Suspend() error // alcSuspendContext via startBatch
	Process() error // alcProcessContext via endBatch
	IsConnected() bool

	// Extension/capability queries.
	IsSupported(extension string) bool
	Resamplers() []string
	DefaultResamplerIndex() int
	HRTFNames() []string
	IsHRTFEnabled() bool
	CurrentHRTF() string
	ResetDevice() error

	// Buffer lifecycle.
	GenBuffer() (BufferID, error)
	DeleteBuffer(id BufferID) error
	BufferData(id BufferID, chans atypes.ChannelConfig, stype atypes.SampleType, data []byte, freq int) error
	SetBufferLoopPoints(id BufferID, start, end int) error
	BufferLength(id BufferID) (int, error)

	// Source (voice) lifecycle.
	GenSource() (SourceID, error)
	DeleteSource(id SourceID) error
	SourceState(id SourceID) (SourceState, error)
	SourcePlayBuffer(id SourceID, buf BufferID) error
	SourceQueueBuffers(id SourceID, bufs []BufferID) error
	SourceUnqueueBuffers(id SourceID, maxCount int) ([]BufferID, error)
	SourceStop(id SourceID) error
	SourcePause(id SourceID) error
	SourceResume(id SourceID) error
	SourceOffsetFrames(id SourceID) (int, error)

	// Per-source parameters (gain/pitch commit lazily batched between
	// Suspend/Process).
	SetSourceGain(id SourceID, gain float32) error
	SetSourcePitch(id SourceID, pitch float32) error
	SetSourcePosition(id SourceID, pos atypes.Vector3) error
	SetSourceVelocity(id SourceID, vel atypes.Vector3) error
	SetSourceDirectFilter(id SourceID, params atypes.FilterParams) error
	SetSourceAuxiliarySend(id SourceID, sendIndex int, slot EffectSlotID, params atypes.FilterParams) error

	// Listener.
	SetListenerGain(gain float32) error
	SetListenerPosition(pos atypes.Vector3) error
	SetListenerVelocity(vel atypes.Vector3) error
	SetListenerOrientation(at, up atypes.Vector3) error
	SetDopplerFactor(factor float32) error
	SetSpeedOfSound(speed float32) error
	SetDistanceModel(model atypes.DistanceModel) error

	// Effect slot / effect lifecycle. Backends without an EFX-equivalent
	// bus (e.g. backend/portaudio) return ErrNotSupported; the engine's
	// reverb downgrade path (spec.md §4.5) treats that the same as a
	// capability probe miss.
	GenEffectSlot() (EffectSlotID, error)
	DeleteEffectSlot(id EffectSlotID) error
	GenEffect() (EffectID, error)
	DeleteEffect(id EffectID) error
	ApplyReverb(id EffectID, params atypes.FilterParams) error
	SetEffectSlotEffect(slot EffectSlotID, effect EffectID) error
}
