// Package software provides an in-memory fake implementing backend.Backend,
// used by the engine package's unit tests in place of a real audio device.
// It tracks just enough state (allocated IDs, queued buffers, per-source
// parameters) for the engine's pool/cache/group logic to be exercised
// without touching real hardware.
package software

import (
	"sync"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/backend"
)

// Backend is a deterministic in-memory fake. GenSource fails with
// backend.ErrNotSupported once MaxVoices voices exist (when MaxVoices is
// non-zero), which simulates voice exhaustion.
type Backend struct {
	mu sync.Mutex

	nextBuffer backend.BufferID
	nextSource backend.SourceID
	nextSlot   backend.EffectSlotID
	nextEffect backend.EffectID

	buffers map[backend.BufferID]bufferState
	sources map[backend.SourceID]*sourceState

	connected    bool
	MaxVoices    int // 0 = unlimited
	liveVoices   int
	doppler      float32
	speedOfSound float32
	distModel    atypes.DistanceModel
}

type bufferState struct {
	chans      atypes.ChannelConfig
	stype      atypes.SampleType
	data       []byte
	freq       int
	loopStart  int
	loopEnd    int
}

type sourceState struct {
	state   backend.SourceState
	queue   []backend.BufferID
	gain    float32
	pitch   float32
	pos     atypes.Vector3
	vel     atypes.Vector3
	offset  int
}

// New returns a ready-to-use software backend with no voice limit.
func New() *Backend {
	return &Backend{
		buffers:   make(map[backend.BufferID]bufferState),
		sources:   make(map[backend.SourceID]*sourceState),
		connected: true,
		distModel: atypes.InverseDistanceClamped,
	}
}

func (b *Backend) Devices() ([]backend.DeviceInfo, error) {
	return []backend.DeviceInfo{{Index: 0, Name: "software", MaxOutputChannels: 2, DefaultSampleRate: 44100}}, nil
}

func (b *Backend) OpenDevice(name string) error { return nil }
func (b *Backend) CloseDevice() error           { return nil }
func (b *Backend) Suspend() error               { return nil }
func (b *Backend) Process() error               { return nil }
func (b *Backend) IsConnected() bool            { b.mu.Lock(); defer b.mu.Unlock(); return b.connected }

// SetConnected lets tests simulate a backend disconnect (spec.md's
// ALC_CONNECTED falling-edge detection).
func (b *Backend) SetConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = v
}

func (b *Backend) IsSupported(extension string) bool { return false }
func (b *Backend) Resamplers() []string              { return []string{"linear"} }
func (b *Backend) DefaultResamplerIndex() int         { return 0 }
func (b *Backend) HRTFNames() []string                { return nil }
func (b *Backend) IsHRTFEnabled() bool                { return false }
func (b *Backend) CurrentHRTF() string                { return "" }
func (b *Backend) ResetDevice() error                 { return nil }

func (b *Backend) GenBuffer() (backend.BufferID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextBuffer++
	b.buffers[b.nextBuffer] = bufferState{}
	return b.nextBuffer, nil
}

func (b *Backend) DeleteBuffer(id backend.BufferID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, id)
	return nil
}

func (b *Backend) BufferData(id backend.BufferID, chans atypes.ChannelConfig, stype atypes.SampleType, data []byte, freq int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.buffers[id]
	st.chans, st.stype, st.data, st.freq = chans, stype, data, freq
	b.buffers[id] = st
	return nil
}

func (b *Backend) SetBufferLoopPoints(id backend.BufferID, start, end int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.buffers[id]
	st.loopStart, st.loopEnd = start, end
	b.buffers[id] = st
	return nil
}

func (b *Backend) BufferLength(id backend.BufferID) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.buffers[id]
	return atypes.BytesToFrames(len(st.data), st.chans, st.stype), nil
}

func (b *Backend) GenSource() (backend.SourceID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.MaxVoices > 0 && b.liveVoices >= b.MaxVoices {
		return 0, backend.ErrNotSupported
	}
	b.nextSource++
	b.sources[b.nextSource] = &sourceState{gain: 1, pitch: 1}
	b.liveVoices++
	return b.nextSource, nil
}

func (b *Backend) DeleteSource(id backend.SourceID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sources[id]; ok {
		b.liveVoices--
		delete(b.sources, id)
	}
	return nil
}

func (b *Backend) SourceState(id backend.SourceID) (backend.SourceState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sources[id]
	if !ok {
		return backend.StateInitial, backend.ErrNotSupported
	}
	return s.state, nil
}

func (b *Backend) SourcePlayBuffer(id backend.SourceID, buf backend.BufferID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sources[id]
	if !ok {
		return backend.ErrNotSupported
	}
	s.queue = []backend.BufferID{buf}
	s.state = backend.StatePlaying
	s.offset = 0
	return nil
}

func (b *Backend) SourceQueueBuffers(id backend.SourceID, bufs []backend.BufferID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sources[id]
	if !ok {
		return backend.ErrNotSupported
	}
	s.queue = append(s.queue, bufs...)
	if s.state == backend.StateInitial || s.state == backend.StateStopped {
		s.state = backend.StatePlaying
	}
	return nil
}

func (b *Backend) SourceUnqueueBuffers(id backend.SourceID, maxCount int) ([]backend.BufferID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sources[id]
	if !ok {
		return nil, backend.ErrNotSupported
	}
	n := min(maxCount, len(s.queue))
	out := append([]backend.BufferID{}, s.queue[:n]...)
	s.queue = s.queue[n:]
	return out, nil
}

func (b *Backend) SourceStop(id backend.SourceID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sources[id]; ok {
		s.state = backend.StateStopped
		s.queue = nil
	}
	return nil
}

func (b *Backend) SourcePause(id backend.SourceID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sources[id]; ok {
		s.state = backend.StatePaused
	}
	return nil
}

func (b *Backend) SourceResume(id backend.SourceID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sources[id]; ok {
		s.state = backend.StatePlaying
	}
	return nil
}

// SourceGain is a test-introspection hook exposing a voice's current gain,
// letting engine package tests observe fade interpolation without the real
// backend's opaque mix graph.
func (b *Backend) SourceGain(id backend.SourceID) (float32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sources[id]
	if !ok {
		return 0, false
	}
	return s.gain, true
}

func (b *Backend) SourceOffsetFrames(id backend.SourceID) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sources[id]
	if !ok {
		return 0, backend.ErrNotSupported
	}
	return s.offset, nil
}

func (b *Backend) SetSourceGain(id backend.SourceID, gain float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sources[id]; ok {
		s.gain = gain
	}
	return nil
}

func (b *Backend) SetSourcePitch(id backend.SourceID, pitch float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sources[id]; ok {
		s.pitch = pitch
	}
	return nil
}

func (b *Backend) SetSourcePosition(id backend.SourceID, pos atypes.Vector3) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sources[id]; ok {
		s.pos = pos
	}
	return nil
}

func (b *Backend) SetSourceVelocity(id backend.SourceID, vel atypes.Vector3) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sources[id]; ok {
		s.vel = vel
	}
	return nil
}

func (b *Backend) SetSourceDirectFilter(id backend.SourceID, params atypes.FilterParams) error {
	return nil
}

func (b *Backend) SetSourceAuxiliarySend(id backend.SourceID, sendIndex int, slot backend.EffectSlotID, params atypes.FilterParams) error {
	return nil
}

func (b *Backend) SetListenerGain(gain float32) error                        { return nil }
func (b *Backend) SetListenerPosition(pos atypes.Vector3) error              { return nil }
func (b *Backend) SetListenerVelocity(vel atypes.Vector3) error              { return nil }
func (b *Backend) SetListenerOrientation(at, up atypes.Vector3) error        { return nil }
func (b *Backend) SetDopplerFactor(factor float32) error                     { b.doppler = factor; return nil }
func (b *Backend) SetSpeedOfSound(speed float32) error                       { b.speedOfSound = speed; return nil }
func (b *Backend) SetDistanceModel(model atypes.DistanceModel) error         { b.distModel = model; return nil }

func (b *Backend) GenEffectSlot() (backend.EffectSlotID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSlot++
	return b.nextSlot, nil
}

func (b *Backend) DeleteEffectSlot(id backend.EffectSlotID) error { return nil }

func (b *Backend) GenEffect() (backend.EffectID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextEffect++
	return b.nextEffect, nil
}

func (b *Backend) DeleteEffect(id backend.EffectID) error                         { return nil }
func (b *Backend) ApplyReverb(id backend.EffectID, params atypes.FilterParams) error { return nil }
func (b *Backend) SetEffectSlotEffect(slot backend.EffectSlotID, effect backend.EffectID) error {
	return nil
}

var _ backend.Backend = (*Backend)(nil)
