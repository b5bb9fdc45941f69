package engine

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/backend"
	"github.com/drgolem/spatialaudio/pkg/decoder"
)

// MaxAuxiliarySends is the fixed per-source send count, grounded on
// alure2's mAuxSendSlots array (ALContext::mAuxSlots default of 1, capped
// at a small constant across implementations; kept generous here since the
// backend interface enforces no upper bound of its own).
const MaxAuxiliarySends = 4

type playbackKind int

const (
	psDetached playbackKind = iota
	psBufferPlaying
	psStreaming
	psPendingFuture
	psFadeOut
	psPaused
)

// playbackState is the Source state machine of spec.md §4.3: Detached,
// BufferPlaying, Streaming, Pending (future buffer), Paused and FadeOut,
// grounded on ALSource::mState plus the extra bookkeeping the original
// keeps alongside it (queued decoder, fade timer, pending future).
type playbackState struct {
	kind playbackKind

	buffer *Buffer // held while psBufferPlaying

	dec           decoder.Decoder // held while psStreaming
	chunkFrames   int
	queueLen      int
	queuedBuffers []backend.BufferID
	streamDone    bool // decoder hit EOF, draining remaining queue

	future *Future // held while psPendingFuture

	fadeFrom     float32
	fadeStart    time.Time
	fadeDuration time.Duration

	pausedFrom playbackKind // kind to restore to on Resume
}

// Source is a logical playback voice: an entry in a Context's sourcePool
// that may or may not currently hold a finite backend voice. Attribute
// setters are stored unconditionally and forwarded to the backend only
// where the Backend interface models the parameter (gain, pitch, position,
// velocity, direct filter, auxiliary sends); the remaining alure2 knobs
// (cone angles, rolloff, air absorption, ...) are recorded for retrieval
// and future backend growth but have no numerical effect on the two
// backends this repo ships, matching the "the backend does all positional
// math" Non-goal.
type Source struct {
	ctx    *Context
	handle SourceHandle

	mu    sync.Mutex
	voice backend.SourceID // 0 while detached
	state playbackState

	priority int
	group    *SourceGroup

	position, velocity, direction atypes.Vector3
	orientAt, orientUp            atypes.Vector3
	relative                      bool

	coneInnerAngle, coneOuterAngle float32
	coneOuterGain, coneOuterGainHF float32

	gain, minGain, maxGain float32
	pitch                  float32

	refDistance, maxDistance                float32
	rolloffFactor, roomRolloffFactor         float32
	dopplerFactor                            float32
	radius                                   float32
	stereoAngles                             [2]float32
	spatialize                               atypes.Spatialize
	resamplerIndex                           int
	airAbsorptionFactor                      float32
	directGainHFAuto, sendGainAuto, sendHFAuto bool

	directFilter atypes.FilterParams
	sends        [MaxAuxiliarySends]sourceSend
}

type sourceSend struct {
	filter atypes.FilterParams
	slot   *AuxiliaryEffectSlot
}

// CreateSource allocates a new logical Source in ctx's pool, per
// spec.md §4.3.
func (ctx *Context) CreateSource() (SourceHandle, error) {
	if err := ctx.requireCurrent("CreateSource"); err != nil {
		return SourceHandle{}, err
	}
	h, _ := ctx.pool.create(ctx)
	return h, nil
}

// Source resolves a handle to its live *Source, or ErrNotFound if the
// handle is stale or was never allocated by this Context.
func (ctx *Context) Source(h SourceHandle) (*Source, error) {
	return ctx.pool.resolve(h)
}

// Destroy detaches s (stopping any playback and reclaiming its voice) and
// returns its slot to the pool's free list.
func (s *Source) Destroy() error {
	s.Stop()
	s.ctx.pool.free(s.handle)
	return nil
}

func (s *Source) Handle() SourceHandle { return s.handle }

// Play begins buffer playback, acquiring a voice (possibly by evicting a
// lower-priority source) per acquireVoice.
func (s *Source) Play(buf *Buffer) error {
	if buf.Status() != StatusReady {
		return newErr(KindInvalidArgument, "Source.Play", fmt.Errorf("buffer %q not ready", buf.Name()))
	}

	s.mu.Lock()
	priority := s.priority
	s.mu.Unlock()

	voice, err := s.ctx.pool.acquireVoice(s, priority)
	if err != nil {
		return err
	}

	if err := s.ctx.backend.SourcePlayBuffer(voice, buf.backendID); err != nil {
		s.ctx.pool.releaseVoice(voice)
		return newErr(KindBackendError, "Source.Play", err)
	}

	s.mu.Lock()
	s.releaseCurrentLocked()
	s.voice = voice
	buf.retain()
	s.state = playbackState{kind: psBufferPlaying, buffer: buf}
	s.mu.Unlock()

	s.applyAttributes()
	return nil
}

// PlayAsync begins playback once future resolves, transitioning through
// psPendingFuture in the interim (spec.md §4.3's Pending state).
func (s *Source) PlayAsync(future *Future) error {
	s.mu.Lock()
	s.releaseCurrentLocked()
	s.state = playbackState{kind: psPendingFuture, future: future}
	s.mu.Unlock()

	go func() {
		buf, err := future.Get()
		s.mu.Lock()
		stillPending := s.state.kind == psPendingFuture && s.state.future == future
		s.mu.Unlock()
		if !stillPending {
			return
		}
		if err != nil {
			if h := s.ctx.handler; h != nil {
				h.BufferLoadFailed("<async>", err)
			}
			s.mu.Lock()
			s.state = playbackState{kind: psDetached}
			s.mu.Unlock()
			return
		}
		s.Play(buf)
	}()
	return nil
}

// PlayStreaming begins decoding dec incrementally, chunkFrames at a time,
// keeping queueLen buffers queued ahead of the backend at once. The
// Context's background worker refills the queue via updateAsync.
func (s *Source) PlayStreaming(dec decoder.Decoder, chunkFrames, queueLen int) error {
	if chunkFrames <= 0 {
		chunkFrames = 4096
	}
	if queueLen <= 0 {
		queueLen = 4
	}

	s.mu.Lock()
	priority := s.priority
	s.mu.Unlock()

	voice, err := s.ctx.pool.acquireVoice(s, priority)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.releaseCurrentLocked()
	s.voice = voice
	s.state = playbackState{kind: psStreaming, dec: dec, chunkFrames: chunkFrames, queueLen: queueLen}
	s.mu.Unlock()

	s.applyAttributes()

	if err := s.fillStreamQueue(); err != nil {
		return err
	}

	s.mu.Lock()
	bufs := append([]backend.BufferID(nil), s.state.queuedBuffers...)
	s.mu.Unlock()
	if len(bufs) == 0 {
		return newErr(KindDecodeError, "Source.PlayStreaming", fmt.Errorf("decoder produced no data"))
	}
	// SourcePlayBuffer starts the voice on a single buffer and resets its
	// backend queue; the remaining chunks must be appended afterward via
	// SourceQueueBuffers, not before, or they'd be dropped by the reset.
	if err := s.ctx.backend.SourcePlayBuffer(voice, bufs[0]); err != nil {
		return newErr(KindBackendError, "Source.PlayStreaming", err)
	}
	if len(bufs) > 1 {
		if err := s.ctx.backend.SourceQueueBuffers(voice, bufs[1:]); err != nil {
			return newErr(KindBackendError, "Source.PlayStreaming", err)
		}
	}

	s.ctx.addStream(s)
	return nil
}

// fillStreamQueue decodes up to queueLen fresh chunks and uploads them as
// scratch backend buffers, per the streaming refill logic in
// ALSource::updateNoCtxCheck.
func (s *Source) fillStreamQueue() error {
	s.mu.Lock()
	dec := s.state.dec
	chunkFrames := s.state.chunkFrames
	need := s.state.queueLen - len(s.state.queuedBuffers)
	s.mu.Unlock()
	if dec == nil || need <= 0 {
		return nil
	}

	frameSize := dec.Channels().Channels() * dec.SampleType().Size()
	chunk := make([]byte, chunkFrames*frameSize)

	for i := 0; i < need; i++ {
		n, err := dec.Read(chunk)
		if n > 0 {
			id, genErr := s.ctx.backend.GenBuffer()
			if genErr != nil {
				return newErr(KindBackendError, "Source.fillStreamQueue", genErr)
			}
			if upErr := s.ctx.backend.BufferData(id, dec.Channels(), dec.SampleType(), chunk[:n*frameSize], dec.Frequency()); upErr != nil {
				return newErr(KindBackendError, "Source.fillStreamQueue", upErr)
			}
			s.mu.Lock()
			s.state.queuedBuffers = append(s.state.queuedBuffers, id)
			s.mu.Unlock()
		}
		if err != nil {
			if err == io.EOF {
				s.mu.Lock()
				s.state.streamDone = true
				s.mu.Unlock()
				break
			}
			return newErr(KindDecodeError, "Source.fillStreamQueue", err)
		}
	}
	return nil
}

// updateAsync is invoked by the Context's background worker for every
// streaming source once per tick: it unqueues fully-consumed buffers,
// releases them, refills the queue, and detects underrun/end-of-stream.
func (s *Source) updateAsync(ctx *Context) {
	s.mu.Lock()
	if s.state.kind != psStreaming {
		s.mu.Unlock()
		return
	}
	voice := s.voice
	s.mu.Unlock()

	processed, err := ctx.backend.SourceUnqueueBuffers(voice, MaxAuxiliarySends+len(s.state.queuedBuffers))
	if err == nil && len(processed) > 0 {
		for _, id := range processed {
			ctx.backend.DeleteBuffer(id)
		}
		s.mu.Lock()
		s.state.queuedBuffers = removeBufferIDs(s.state.queuedBuffers, processed)
		remaining := len(s.state.queuedBuffers)
		done := s.state.streamDone
		s.mu.Unlock()

		if remaining == 0 && done {
			s.Stop()
			if h := ctx.handler; h != nil {
				h.SourceStopped(s)
			}
			return
		}
		if remaining == 0 && !done {
			if h := ctx.handler; h != nil {
				h.SourceStreamUnderrun(s)
			}
		}
	}

	if fillErr := s.fillStreamQueue(); fillErr != nil {
		if h := ctx.handler; h != nil {
			h.BufferLoadFailed("<stream>", fillErr)
		}
		return
	}

	s.mu.Lock()
	fresh := s.state.queuedBuffers
	s.mu.Unlock()
	if len(fresh) > 0 {
		ctx.backend.SourceQueueBuffers(voice, fresh)
	}
}

func removeBufferIDs(all, remove []backend.BufferID) []backend.BufferID {
	removeSet := make(map[backend.BufferID]struct{}, len(remove))
	for _, id := range remove {
		removeSet[id] = struct{}{}
	}
	out := all[:0]
	for _, id := range all {
		if _, dead := removeSet[id]; !dead {
			out = append(out, id)
		}
	}
	return out
}

// Stop halts playback immediately, releases the voice back to the pool and
// transitions to Detached.
func (s *Source) Stop() error {
	s.mu.Lock()
	voice := s.voice
	s.mu.Unlock()
	if voice == 0 {
		return nil
	}

	s.ctx.backend.SourceStop(voice)
	s.ctx.removeStream(s)

	s.mu.Lock()
	s.releaseCurrentLocked()
	s.voice = 0
	s.state = playbackState{kind: psDetached}
	s.mu.Unlock()

	s.ctx.pool.releaseVoice(voice)
	return nil
}

// FadeOutToStop begins a linear gain fade to silence over duration, after
// which the Source stops itself. Interpolation is driven by Context.Update.
func (s *Source) FadeOutToStop(duration time.Duration) error {
	s.mu.Lock()
	if s.voice == 0 {
		s.mu.Unlock()
		return newErr(KindInvalidArgument, "Source.FadeOutToStop", fmt.Errorf("source not playing"))
	}
	s.state.kind = psFadeOut
	s.state.fadeFrom = effectiveGain(s.gain, s.group)
	s.state.fadeStart = ctxNow()
	s.state.fadeDuration = duration
	s.mu.Unlock()
	return nil
}

// Pause suspends playback without releasing the voice; Resume continues
// from the same position.
func (s *Source) Pause() error {
	s.mu.Lock()
	voice := s.voice
	kind := s.state.kind
	s.mu.Unlock()
	if voice == 0 || kind == psPaused {
		return nil
	}
	if err := s.ctx.backend.SourcePause(voice); err != nil {
		return newErr(KindBackendError, "Source.Pause", err)
	}
	s.mu.Lock()
	s.state.pausedFrom = kind
	s.state.kind = psPaused
	s.mu.Unlock()
	return nil
}

func (s *Source) Resume() error {
	s.mu.Lock()
	voice := s.voice
	kind := s.state.kind
	restore := s.state.pausedFrom
	s.mu.Unlock()
	if voice == 0 || kind != psPaused {
		return nil
	}
	if err := s.ctx.backend.SourceResume(voice); err != nil {
		return newErr(KindBackendError, "Source.Resume", err)
	}
	s.mu.Lock()
	s.state.kind = restore
	s.mu.Unlock()
	return nil
}

// releaseCurrentLocked drops any strong reference the current state holds
// (buffer refcount, decoder close) before switching to a new state. Caller
// must hold s.mu.
func (s *Source) releaseCurrentLocked() {
	if s.state.buffer != nil {
		s.state.buffer.release()
	}
	for _, id := range s.state.queuedBuffers {
		s.ctx.backend.DeleteBuffer(id)
	}
	if s.state.dec != nil {
		s.state.dec.Close()
	}
}

// update is invoked by Context.Update for every live source: it advances
// any in-flight fade and polls the backend state for natural end-of-buffer
// completion (the backend has no callback for this, per spec.md §6, so the
// core must poll SourceState on the maintenance tick, grounded on
// ALSource::updateNoCtxCheck checking alGetSourcei(AL_SOURCE_STATE)).
func (s *Source) update(ctx *Context) {
	s.mu.Lock()
	kind := s.state.kind
	voice := s.voice
	s.mu.Unlock()

	switch kind {
	case psFadeOut:
		s.advanceFade(ctx)
	case psBufferPlaying:
		if voice == 0 {
			return
		}
		if st, err := ctx.backend.SourceState(voice); err == nil && st == backend.StateStopped {
			s.Stop()
			if h := ctx.handler; h != nil {
				h.SourceStopped(s)
			}
		}
	}
}

func (s *Source) advanceFade(ctx *Context) {
	s.mu.Lock()
	elapsed := ctxNow().Sub(s.state.fadeStart)
	frac := float32(0)
	if s.state.fadeDuration > 0 {
		frac = float32(elapsed) / float32(s.state.fadeDuration)
	}
	done := frac >= 1
	if done {
		frac = 1
	}
	newGain := s.state.fadeFrom * (1 - frac)
	voice := s.voice
	s.mu.Unlock()

	if voice != 0 {
		ctx.backend.SetSourceGain(voice, newGain)
	}
	if done {
		s.Stop()
	}
}

// ctxNow exists so the fade timer reads the clock through one indirection
// point.
func ctxNow() time.Time { return time.Now() }

func (s *Source) applyAttributes() {
	s.mu.Lock()
	voice := s.voice
	gain := effectiveGain(s.gain, s.group)
	pitch := effectivePitch(s.pitch, s.group)
	pos := s.position
	vel := s.velocity
	filter := s.directFilter
	s.mu.Unlock()
	if voice == 0 {
		return
	}
	ctx := s.ctx
	ctx.backend.SetSourceGain(voice, gain)
	ctx.backend.SetSourcePitch(voice, pitch)
	ctx.backend.SetSourcePosition(voice, pos)
	ctx.backend.SetSourceVelocity(voice, vel)
	ctx.backend.SetSourceDirectFilter(voice, filter)
}

// effectiveGain multiplies gain by group's accumulated gain (if any), per
// spec.md §4.4's commit-time multiplicative accumulation rule: "when the
// context commits a Source's effective gain... it multiplies through the
// chain of enclosing groups."
func effectiveGain(gain float32, group *SourceGroup) float32 {
	if group == nil {
		return gain
	}
	return gain * group.EffectiveGain()
}

func effectivePitch(pitch float32, group *SourceGroup) float32 {
	if group == nil {
		return pitch
	}
	return pitch * group.EffectivePitch()
}

// isDetached reports whether s is in the Detached playback state.
func (s *Source) isDetached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.kind == psDetached
}

// recommitGroupAttrs re-pushes s's effective gain/pitch to its backend voice
// (a no-op if s holds none). Called whenever s's group membership changes or
// an enclosing group's gain/pitch changes, so a played Source's committed
// gain stays in sync with its group chain without waiting for the next
// SetGain/SetPitch call.
func (s *Source) recommitGroupAttrs() {
	s.mu.Lock()
	voice := s.voice
	gain := effectiveGain(s.gain, s.group)
	pitch := effectivePitch(s.pitch, s.group)
	s.mu.Unlock()
	if voice == 0 {
		return
	}
	s.ctx.backend.SetSourceGain(voice, gain)
	s.ctx.backend.SetSourcePitch(voice, pitch)
}

func (s *Source) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.kind == psBufferPlaying || s.state.kind == psStreaming
}

func (s *Source) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.kind == psPaused
}

func (s *Source) IsPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.kind == psPendingFuture
}

func (s *Source) SetPriority(p int) {
	s.mu.Lock()
	s.priority = p
	s.mu.Unlock()
}

func (s *Source) Priority() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priority
}

func (s *Source) SetGain(gain float32) error {
	s.mu.Lock()
	s.gain = gain
	voice := s.voice
	effective := effectiveGain(gain, s.group)
	s.mu.Unlock()
	if voice == 0 {
		return nil
	}
	return wrapBackendErr("Source.SetGain", s.ctx.backend.SetSourceGain(voice, effective))
}

func (s *Source) Gain() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

func (s *Source) SetGainRange(min, max float32) {
	s.mu.Lock()
	s.minGain, s.maxGain = min, max
	s.mu.Unlock()
}

func (s *Source) SetPitch(pitch float32) error {
	s.mu.Lock()
	s.pitch = pitch
	voice := s.voice
	effective := effectivePitch(pitch, s.group)
	s.mu.Unlock()
	if voice == 0 {
		return nil
	}
	return wrapBackendErr("Source.SetPitch", s.ctx.backend.SetSourcePitch(voice, effective))
}

func (s *Source) Pitch() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pitch
}

func (s *Source) SetPosition(pos atypes.Vector3) error {
	s.mu.Lock()
	s.position = pos
	voice := s.voice
	s.mu.Unlock()
	if voice == 0 {
		return nil
	}
	return wrapBackendErr("Source.SetPosition", s.ctx.backend.SetSourcePosition(voice, pos))
}

func (s *Source) Position() atypes.Vector3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *Source) SetVelocity(vel atypes.Vector3) error {
	s.mu.Lock()
	s.velocity = vel
	voice := s.voice
	s.mu.Unlock()
	if voice == 0 {
		return nil
	}
	return wrapBackendErr("Source.SetVelocity", s.ctx.backend.SetSourceVelocity(voice, vel))
}

func (s *Source) SetDirection(dir atypes.Vector3) {
	s.mu.Lock()
	s.direction = dir
	s.mu.Unlock()
}

func (s *Source) SetOrientation(at, up atypes.Vector3) {
	s.mu.Lock()
	s.orientAt, s.orientUp = at, up
	s.mu.Unlock()
}

func (s *Source) SetRelative(rel bool) {
	s.mu.Lock()
	s.relative = rel
	s.mu.Unlock()
}

func (s *Source) SetConeAngles(inner, outer float32) {
	s.mu.Lock()
	s.coneInnerAngle, s.coneOuterAngle = inner, outer
	s.mu.Unlock()
}

func (s *Source) SetOuterConeGains(gain, gainHF float32) {
	s.mu.Lock()
	s.coneOuterGain, s.coneOuterGainHF = gain, gainHF
	s.mu.Unlock()
}

func (s *Source) SetDistanceRange(ref, max float32) {
	s.mu.Lock()
	s.refDistance, s.maxDistance = ref, max
	s.mu.Unlock()
}

func (s *Source) SetRolloffFactors(direct, room float32) {
	s.mu.Lock()
	s.rolloffFactor, s.roomRolloffFactor = direct, room
	s.mu.Unlock()
}

func (s *Source) SetDopplerFactor(f float32) {
	s.mu.Lock()
	s.dopplerFactor = f
	s.mu.Unlock()
}

func (s *Source) SetRadius(r float32) {
	s.mu.Lock()
	s.radius = r
	s.mu.Unlock()
}

func (s *Source) SetStereoAngles(left, right float32) {
	s.mu.Lock()
	s.stereoAngles = [2]float32{left, right}
	s.mu.Unlock()
}

func (s *Source) SetSpatialize(mode atypes.Spatialize) {
	s.mu.Lock()
	s.spatialize = mode
	s.mu.Unlock()
}

func (s *Source) SetResamplerIndex(i int) {
	s.mu.Lock()
	s.resamplerIndex = i
	s.mu.Unlock()
}

func (s *Source) SetAirAbsorptionFactor(f float32) {
	s.mu.Lock()
	s.airAbsorptionFactor = f
	s.mu.Unlock()
}

func (s *Source) SetGainAuto(directHF, send, sendHF bool) {
	s.mu.Lock()
	s.directGainHFAuto, s.sendGainAuto, s.sendHFAuto = directHF, send, sendHF
	s.mu.Unlock()
}

func (s *Source) SetDirectFilter(params atypes.FilterParams) error {
	s.mu.Lock()
	s.directFilter = params
	voice := s.voice
	s.mu.Unlock()
	if voice == 0 {
		return nil
	}
	return wrapBackendErr("Source.SetDirectFilter", s.ctx.backend.SetSourceDirectFilter(voice, params))
}

// SetAuxiliarySend routes send index to slot with the given filter, or
// clears it if slot is nil. index must be in [0, MaxAuxiliarySends).
func (s *Source) SetAuxiliarySend(index int, slot *AuxiliaryEffectSlot, params atypes.FilterParams) error {
	if index < 0 || index >= MaxAuxiliarySends {
		return newErr(KindInvalidArgument, "Source.SetAuxiliarySend", fmt.Errorf("send index %d out of range", index))
	}
	s.mu.Lock()
	old := s.sends[index].slot
	s.sends[index] = sourceSend{filter: params, slot: slot}
	voice := s.voice
	s.mu.Unlock()

	if old != nil {
		old.release()
	}
	if slot != nil {
		slot.retain()
	}

	if voice == 0 {
		return nil
	}
	var slotID backend.EffectSlotID
	if slot != nil {
		slotID = slot.backendID
	}
	return wrapBackendErr("Source.SetAuxiliarySend", s.ctx.backend.SetSourceAuxiliarySend(voice, index, slotID, params))
}

// SetGroup reparents s under group (nil to detach), applying group's
// accumulated gain/pitch immediately.
func (s *Source) SetGroup(group *SourceGroup) {
	s.mu.Lock()
	if s.group != nil {
		s.group.removeSource(s)
	}
	s.group = group
	s.mu.Unlock()
	if group != nil {
		group.addSource(s)
	}
	s.recommitGroupAttrs()
}

func (s *Source) Group() *SourceGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group
}
