// Package portaudio is the concrete backend.Backend adapter used by the
// demo CLI and integration-style tests. Each backend voice (SourceID) is
// realized as one dedicated PortAudio output stream fed from a
// ringbuffer.RingBuffer: the buffer play/queue calls write PCM into the
// ring and one consumer goroutine per voice drains it into the stream
// — the OS/driver does the actual mixing of however many streams are open,
// so the core itself never touches decoded samples directly (spec.md §1's
// Non-goals: "software mixing... delegated to the backend"). Stream
// lifecycle and the producer/consumer pattern are grounded on the
// teacher's pkg/audioplayer/player.go; device enumeration is grounded on
// other_examples/drgolem-go-portaudio__main.go's use of
// portaudio.Devices()/GetDeviceInfo.
package portaudio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/drgolem/go-portaudio/portaudio"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/backend"
	"github.com/drgolem/spatialaudio/pkg/ringbuffer"
)

// Backend adapts PortAudio to backend.Backend. The output device index
// that voices are opened against is fixed when the Backend is created.
type Backend struct {
	mu          sync.Mutex
	deviceIndex int
	opened      bool
	connected   bool

	buffers    map[backend.BufferID]bufferData
	nextBuffer backend.BufferID

	voices     map[backend.SourceID]*voice
	nextVoice  backend.SourceID

	nextSlot   backend.EffectSlotID
	nextEffect backend.EffectID
}

type bufferData struct {
	chans atypes.ChannelConfig
	stype atypes.SampleType
	data  []byte
	freq  int
	loopStart, loopEnd int
}

type voice struct {
	mu       sync.Mutex
	stream   *pa.PaStream
	ring     *ringbuffer.RingBuffer
	queue    []backend.BufferID
	state    backend.SourceState
	gain     float32
	pitch    float32
	stopCh   chan struct{}
	wg       sync.WaitGroup
	frames   int // frames written to the stream so far, for SourceOffsetFrames
	freq     int
	chans    atypes.ChannelConfig
	stype    atypes.SampleType
	framesPerBuffer int
}

// New returns a Backend that will open device deviceIndex on OpenDevice.
func New(deviceIndex int) *Backend {
	return &Backend{
		deviceIndex: deviceIndex,
		buffers:     make(map[backend.BufferID]bufferData),
		voices:      make(map[backend.SourceID]*voice),
	}
}

func (b *Backend) Devices() ([]backend.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	out := make([]backend.DeviceInfo, 0, len(devices))
	for i, d := range devices {
		out = append(out, backend.DeviceInfo{
			Index:             i,
			Name:              d.Name,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	return out, nil
}

func (b *Backend) OpenDevice(name string) error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	b.mu.Lock()
	b.opened = true
	b.connected = true
	b.mu.Unlock()
	slog.Info("portaudio device opened", "device_index", b.deviceIndex)
	return nil
}

func (b *Backend) CloseDevice() error {
	b.mu.Lock()
	voices := make([]*voice, 0, len(b.voices))
	for _, v := range b.voices {
		voices = append(voices, v)
	}
	b.opened = false
	b.connected = false
	b.mu.Unlock()

	for _, v := range voices {
		v.close()
	}
	pa.Terminate()
	return nil
}

func (b *Backend) Suspend() error    { return nil }
func (b *Backend) Process() error    { return nil }
func (b *Backend) IsConnected() bool { b.mu.Lock(); defer b.mu.Unlock(); return b.connected }

func (b *Backend) IsSupported(extension string) bool  { return false }
func (b *Backend) Resamplers() []string               { return []string{"linear"} }
func (b *Backend) DefaultResamplerIndex() int          { return 0 }
func (b *Backend) HRTFNames() []string                 { return nil }
func (b *Backend) IsHRTFEnabled() bool                 { return false }
func (b *Backend) CurrentHRTF() string                 { return "" }
func (b *Backend) ResetDevice() error                  { return nil }

func (b *Backend) GenBuffer() (backend.BufferID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextBuffer++
	b.buffers[b.nextBuffer] = bufferData{}
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
	bd := b.buffers[id]
	bd.chans, bd.stype, bd.data, bd.freq = chans, stype, data, freq
	b.buffers[id] = bd
	return nil
}

func (b *Backend) SetBufferLoopPoints(id backend.BufferID, start, end int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd := b.buffers[id]
	bd.loopStart, bd.loopEnd = start, end
	b.buffers[id] = bd
	return nil
}

func (b *Backend) BufferLength(id backend.BufferID) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd := b.buffers[id]
	return atypes.BytesToFrames(len(bd.data), bd.chans, bd.stype), nil
}

func sampleFormat(stype atypes.SampleType) (pa.PaSampleFormat, error) {
	switch stype {
	case atypes.UInt8:
		return pa.SampleFmtInt8, nil
	case atypes.Int16:
		return pa.SampleFmtInt16, nil
	case atypes.Float32:
		return pa.SampleFmtInt32, nil // widened; PortAudio float32 format isn't exposed by go-portaudio's const set used here
	default:
		return 0, fmt.Errorf("portaudio: unsupported sample type %s", stype)
	}
}

const defaultFramesPerBuffer = 512

func (b *Backend) GenSource() (backend.SourceID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return 0, fmt.Errorf("portaudio: device not open")
	}
	b.nextVoice++
	id := b.nextVoice
	b.voices[id] = &voice{gain: 1, pitch: 1, framesPerBuffer: defaultFramesPerBuffer, stopCh: make(chan struct{})}
	return id, nil
}

func (b *Backend) voiceFor(id backend.SourceID) (*voice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.voices[id]
	if !ok {
		return nil, backend.ErrNotSupported
	}
	return v, nil
}

func (b *Backend) DeleteSource(id backend.SourceID) error {
	b.mu.Lock()
	v, ok := b.voices[id]
	if ok {
		delete(b.voices, id)
	}
	b.mu.Unlock()
	if ok {
		v.close()
	}
	return nil
}

func (b *Backend) SourceState(id backend.SourceID) (backend.SourceState, error) {
	v, err := b.voiceFor(id)
	if err != nil {
		return backend.StateInitial, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state, nil
}

// startIfNeeded opens the PortAudio stream for the voice's first buffer's
// format and starts its consumer goroutine, which drains the voice's ring
// buffer into the stream; there is no separate producer goroutine.
func (v *voice) startIfNeeded(deviceIndex int, bd bufferData) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stream != nil {
		return nil
	}

	format, err := sampleFormat(bd.stype)
	if err != nil {
		return err
	}

	stream, err := pa.NewStream(pa.PaStreamParameters{
		DeviceIndex:  deviceIndex,
		ChannelCount: bd.chans.Channels(),
		SampleFormat: format,
	}, float64(bd.freq))
	if err != nil {
		return fmt.Errorf("portaudio: new stream: %w", err)
	}
	if err := stream.Open(v.framesPerBuffer); err != nil {
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.StartStream(); err != nil {
		return fmt.Errorf("portaudio: start stream: %w", err)
	}

	v.stream = stream
	v.freq, v.chans, v.stype = bd.freq, bd.chans, bd.stype
	v.ring = ringbuffer.New(uint64(bd.chans.Channels() * bd.stype.Size() * v.framesPerBuffer * 8))
	v.state = backend.StatePlaying

	v.wg.Add(1)
	go v.consume()
	return nil
}

func (v *voice) consume() {
	defer v.wg.Done()
	frameSize := v.chans.Channels() * v.stype.Size()
	buf := make([]byte, v.framesPerBuffer*frameSize)

	for {
		select {
		case <-v.stopCh:
			return
		default:
		}

		n, err := v.ring.Read(buf)
		if err != nil || n < frameSize {
			v.mu.Lock()
			drained := len(v.queue) == 0
			v.mu.Unlock()
			if drained {
				v.mu.Lock()
				v.state = backend.StateStopped
				v.mu.Unlock()
				return
			}
			time.Sleep(time.Millisecond)
			continue
		}

		frames := n / frameSize
		if err := v.stream.Write(frames, buf[:frames*frameSize]); err != nil {
			slog.Error("portaudio: write failed", "error", err)
			return
		}
		v.mu.Lock()
		v.frames += frames
		v.mu.Unlock()
	}
}

func (v *voice) close() {
	if v.stream == nil {
		return
	}
	close(v.stopCh)
	v.wg.Wait()
	v.stream.StopStream()
	v.stream.Close()
}

func (b *Backend) SourcePlayBuffer(id backend.SourceID, bufID backend.BufferID) error {
	v, err := b.voiceFor(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	bd := b.buffers[bufID]
	b.mu.Unlock()

	if err := v.startIfNeeded(b.deviceIndex, bd); err != nil {
		return err
	}
	v.mu.Lock()
	v.queue = []backend.BufferID{bufID}
	v.mu.Unlock()
	_, err = v.ring.Write(bd.data)
	return err
}

func (b *Backend) SourceQueueBuffers(id backend.SourceID, bufs []backend.BufferID) error {
	v, err := b.voiceFor(id)
	if err != nil {
		return err
	}
	for _, bufID := range bufs {
		b.mu.Lock()
		bd := b.buffers[bufID]
		b.mu.Unlock()

		if err := v.startIfNeeded(b.deviceIndex, bd); err != nil {
			return err
		}
		v.mu.Lock()
		v.queue = append(v.queue, bufID)
		v.mu.Unlock()
		if _, err := v.ring.Write(bd.data); err != nil {
			return fmt.Errorf("portaudio: queue buffer: %w", err)
		}
	}
	return nil
}

func (b *Backend) SourceUnqueueBuffers(id backend.SourceID, maxCount int) ([]backend.BufferID, error) {
	v, err := b.voiceFor(id)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	n := min(maxCount, len(v.queue))
	out := append([]backend.BufferID{}, v.queue[:n]...)
	v.queue = v.queue[n:]
	return out, nil
}

func (b *Backend) SourceStop(id backend.SourceID) error {
	v, err := b.voiceFor(id)
	if err != nil {
		return err
	}
	v.close()
	v.mu.Lock()
	v.state = backend.StateStopped
	v.queue = nil
	v.mu.Unlock()
	return nil
}

func (b *Backend) SourcePause(id backend.SourceID) error {
	v, err := b.voiceFor(id)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = backend.StatePaused
	return nil
}

func (b *Backend) SourceResume(id backend.SourceID) error {
	v, err := b.voiceFor(id)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = backend.StatePlaying
	return nil
}

func (b *Backend) SourceOffsetFrames(id backend.SourceID) (int, error) {
	v, err := b.voiceFor(id)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frames, nil
}

func (b *Backend) SetSourceGain(id backend.SourceID, gain float32) error {
	v, err := b.voiceFor(id)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.gain = gain
	v.mu.Unlock()
	return nil
}

func (b *Backend) SetSourcePitch(id backend.SourceID, pitch float32) error {
	v, err := b.voiceFor(id)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.pitch = pitch
	v.mu.Unlock()
	return nil
}

// PortAudio output streams carry no positional capability; these are
// accepted (matching spec's "delegated to the backend" Non-goal for
// positional math) and simply ignored by this adapter.
func (b *Backend) SetSourcePosition(id backend.SourceID, pos atypes.Vector3) error { return nil }
func (b *Backend) SetSourceVelocity(id backend.SourceID, vel atypes.Vector3) error { return nil }
func (b *Backend) SetSourceDirectFilter(id backend.SourceID, params atypes.FilterParams) error {
	return backend.ErrNotSupported
}
func (b *Backend) SetSourceAuxiliarySend(id backend.SourceID, sendIndex int, slot backend.EffectSlotID, params atypes.FilterParams) error {
	return backend.ErrNotSupported
}

func (b *Backend) SetListenerGain(gain float32) error                 { return nil }
func (b *Backend) SetListenerPosition(pos atypes.Vector3) error       { return nil }
func (b *Backend) SetListenerVelocity(vel atypes.Vector3) error       { return nil }
func (b *Backend) SetListenerOrientation(at, up atypes.Vector3) error { return nil }
func (b *Backend) SetDopplerFactor(factor float32) error              { return nil }
func (b *Backend) SetSpeedOfSound(speed float32) error                { return nil }
func (b *Backend) SetDistanceModel(model atypes.DistanceModel) error  { return nil }

// Effect slots/effects require an EFX-equivalent bus that plain PortAudio
// output streams don't have; the engine's reverb downgrade path treats
// ErrNotSupported the same as a missing capability probe.
func (b *Backend) GenEffectSlot() (backend.EffectSlotID, error) { return 0, backend.ErrNotSupported }
func (b *Backend) DeleteEffectSlot(id backend.EffectSlotID) error { return backend.ErrNotSupported }
func (b *Backend) GenEffect() (backend.EffectID, error)         { return 0, backend.ErrNotSupported }
func (b *Backend) DeleteEffect(id backend.EffectID) error       { return backend.ErrNotSupported }
func (b *Backend) ApplyReverb(id backend.EffectID, params atypes.FilterParams) error {
	return backend.ErrNotSupported
}
func (b *Backend) SetEffectSlotEffect(slot backend.EffectSlotID, effect backend.EffectID) error {
	return backend.ErrNotSupported
}

var _ backend.Backend = (*Backend)(nil)
