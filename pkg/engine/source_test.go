package engine

import (
	"testing"
	"time"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/backend/software"
	"github.com/drgolem/spatialaudio/pkg/decoder"
)

// forceStoppedRecorder is a MessageHandler double that only records
// SourceForceStopped calls, used to assert eviction actually fires the
// notification spec.md §6 promises instead of silently reclaiming the voice.
type forceStoppedRecorder struct {
	DefaultMessageHandler
	stopped []*Source
}

func (r *forceStoppedRecorder) SourceForceStopped(src *Source) {
	r.stopped = append(r.stopped, src)
}

// stoppedRecorder is a MessageHandler double recording SourceStopped calls,
// used to distinguish natural-stop notification from forced stop.
type stoppedRecorder struct {
	DefaultMessageHandler
	stopped []*Source
}

func (r *stoppedRecorder) SourceStopped(src *Source) {
	r.stopped = append(r.stopped, src)
}

// underrunRecorder is a MessageHandler double recording SourceStreamUnderrun
// calls, used by the synthetic slow-decoder test below.
type underrunRecorder struct {
	DefaultMessageHandler
	underruns []*Source
}

func (r *underrunRecorder) SourceStreamUnderrun(src *Source) {
	r.underruns = append(r.underruns, src)
}

// pacedDecoder is a synthetic decoder.Decoder double that produces a full
// chunk (every byte set to 1) for its first stallAfter reads, then stalls indefinitely
// (zero frames, no error) — standing in for a decoder that cannot keep up
// with playback, to exercise the streaming under-run notification path
// without timing-dependent real I/O.
type pacedDecoder struct {
	calls      int
	stallAfter int
}

func (d *pacedDecoder) Frequency() int                 { return 44100 }
func (d *pacedDecoder) Channels() atypes.ChannelConfig  { return atypes.Mono }
func (d *pacedDecoder) SampleType() atypes.SampleType   { return atypes.UInt8 }
func (d *pacedDecoder) Length() int                     { return 0 }
func (d *pacedDecoder) LoopPoints() (int, int)          { return 0, 0 }
func (d *pacedDecoder) Seek(frame int) error            { return nil }
func (d *pacedDecoder) Close() error                    { return nil }

func (d *pacedDecoder) Read(buf []byte) (int, error) {
	d.calls++
	if d.calls > d.stallAfter {
		return 0, nil
	}
	for i := range buf {
		buf[i] = 1
	}
	return len(buf), nil
}

var _ decoder.Decoder = (*pacedDecoder)(nil)

// TestSourceStreamingUnderrunFiresWhenDecoderStalls proves updateAsync
// reports SourceStreamUnderrun once the backend queue fully drains while the
// decoder keeps producing zero frames without signaling EOF.
func TestSourceStreamingUnderrunFiresWhenDecoderStalls(t *testing.T) {
	rec := &underrunRecorder{}
	ctx, _ := newLimitedTestContext(t, 0, rec)

	h, err := ctx.CreateSource()
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	src, err := ctx.Source(h)
	if err != nil {
		t.Fatalf("Source: %v", err)
	}

	dec := &pacedDecoder{stallAfter: 2}
	if err := src.PlayStreaming(dec, 64, 2); err != nil {
		t.Fatalf("PlayStreaming: %v", err)
	}
	if !src.IsPlaying() {
		t.Fatalf("expected streaming source to report playing")
	}

	src.updateAsync(ctx)

	if len(rec.underruns) != 1 || rec.underruns[0] != src {
		t.Fatalf("expected SourceStreamUnderrun(src) exactly once, got %v", rec.underruns)
	}
}

func newLimitedTestContext(t *testing.T, maxSources int, handler MessageHandler) (*Context, *software.Backend) {
	t.Helper()
	be := software.New()
	dev, err := OpenDevice(be, "")
	if err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	cfg := DefaultContextConfig()
	cfg.MaxSources = maxSources
	cfg.Handler = handler
	ctx := dev.CreateContext(cfg)
	if err := MakeCurrent(ctx); err != nil {
		t.Fatalf("MakeCurrent: %v", err)
	}
	t.Cleanup(func() { MakeCurrent(nil) })
	return ctx, be
}

func mustPlayBuffer(t *testing.T, ctx *Context, name string) (*Source, *Buffer) {
	t.Helper()
	dir := t.TempDir()
	path := writeTestWAV(t, dir, name)
	buf, err := ctx.GetBuffer(path)
	if err != nil {
		t.Fatalf("GetBuffer: %v", err)
	}
	h, err := ctx.CreateSource()
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	src, err := ctx.Source(h)
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	return src, buf
}

// TestSourcePriorityEvictionStopsLowerPriority proves a low-priority playing
// Source loses its voice to a higher-priority request once the pool's voice
// budget is exhausted, and that the eviction fires SourceForceStopped.
func TestSourcePriorityEvictionStopsLowerPriority(t *testing.T) {
	rec := &forceStoppedRecorder{}
	ctx, _ := newLimitedTestContext(t, 1, rec)

	low, buf := mustPlayBuffer(t, ctx, "low.wav")
	low.SetPriority(1)
	if err := low.Play(buf); err != nil {
		t.Fatalf("low.Play: %v", err)
	}
	if !low.IsPlaying() {
		t.Fatalf("expected low to be playing")
	}

	high, buf2 := mustPlayBuffer(t, ctx, "high.wav")
	high.SetPriority(10)
	if err := high.Play(buf2); err != nil {
		t.Fatalf("high.Play should evict low, got error: %v", err)
	}
	if !high.IsPlaying() {
		t.Fatalf("expected high to be playing")
	}
	if low.IsPlaying() {
		t.Fatalf("expected low to have been evicted")
	}
	if len(rec.stopped) != 1 || rec.stopped[0] != low {
		t.Fatalf("expected SourceForceStopped(low) exactly once, got %v", rec.stopped)
	}
}

// TestSourceEvictionRefusesWhenNoVictimBelowPriority proves a request at or
// below every currently-playing Source's priority fails with ErrCapacity
// instead of evicting an equal-or-higher priority voice.
func TestSourceEvictionRefusesWhenNoVictimBelowPriority(t *testing.T) {
	ctx, _ := newLimitedTestContext(t, 1, nil)

	high, buf := mustPlayBuffer(t, ctx, "high.wav")
	high.SetPriority(10)
	if err := high.Play(buf); err != nil {
		t.Fatalf("high.Play: %v", err)
	}

	low, buf2 := mustPlayBuffer(t, ctx, "low.wav")
	low.SetPriority(1)
	if err := low.Play(buf2); err == nil {
		t.Fatalf("expected low.Play to fail with no evictable victim")
	}
	if !high.IsPlaying() {
		t.Fatalf("expected high to remain playing")
	}
}

// TestSourceFadeOutIsMonotonicDecreasing proves gain strictly decreases (or
// holds, never rises) across successive advanceFade ticks and that the
// Source stops itself once the fade completes.
func TestSourceFadeOutIsMonotonicDecreasing(t *testing.T) {
	ctx, be := newLimitedTestContext(t, 0, nil)
	src, buf := mustPlayBuffer(t, ctx, "fade.wav")
	src.SetGain(1)
	if err := src.Play(buf); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if err := src.FadeOutToStop(30 * time.Millisecond); err != nil {
		t.Fatalf("FadeOutToStop: %v", err)
	}

	src.mu.Lock()
	voice := src.voice
	src.mu.Unlock()

	var last float32 = 2 // above the max possible gain of 1
	for i := 0; i < 6; i++ {
		time.Sleep(8 * time.Millisecond)
		src.advanceFade(ctx)
		gain, ok := be.SourceGain(voice)
		if !ok {
			break // backend no longer knows the voice
		}
		if gain > last {
			t.Fatalf("fade gain rose from %v to %v", last, gain)
		}
		last = gain
	}
	if !src.isDetached() {
		t.Fatalf("expected fade to have stopped the source")
	}
}

// TestSourceBufferPlayingTransitionsToDetachedOnNaturalCompletion proves
// Context.Update polls the backend for end-of-buffer playback and advances
// the state machine from BufferPlaying back to Detached.
func TestSourceBufferPlayingTransitionsToDetachedOnNaturalCompletion(t *testing.T) {
	ctx, be := newLimitedTestContext(t, 0, nil)
	src, buf := mustPlayBuffer(t, ctx, "complete.wav")
	if err := src.Play(buf); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !src.IsPlaying() {
		t.Fatalf("expected source to be playing")
	}

	src.mu.Lock()
	voice := src.voice
	src.mu.Unlock()
	if err := be.SourceStop(voice); err != nil {
		t.Fatalf("simulate natural completion: %v", err)
	}

	ctx.Update()

	if src.IsPlaying() {
		t.Fatalf("expected source to have transitioned to Detached")
	}
}

// TestSourcePauseResumeRoundTrip proves Pause/Resume preserves the prior
// playback kind and IsPaused() reflects each half of the round trip.
func TestSourcePauseResumeRoundTrip(t *testing.T) {
	ctx, _ := newLimitedTestContext(t, 0, nil)
	src, buf := mustPlayBuffer(t, ctx, "pause.wav")
	if err := src.Play(buf); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if err := src.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !src.IsPaused() {
		t.Fatalf("expected IsPaused after Pause")
	}
	if src.IsPlaying() {
		t.Fatalf("expected IsPlaying false while paused")
	}

	if err := src.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if src.IsPaused() {
		t.Fatalf("expected IsPaused false after Resume")
	}
	if !src.IsPlaying() {
		t.Fatalf("expected IsPlaying true after Resume restored BufferPlaying")
	}
}

// TestSourceDestroyReleasesHandleToFreeList proves a destroyed Source's
// handle index is reused by the next CreateSource, with a bumped
// generation — exercising the arena+free-list allocator directly.
func TestSourceDestroyReleasesHandleToFreeList(t *testing.T) {
	ctx, _ := newLimitedTestContext(t, 0, nil)

	h1, err := ctx.CreateSource()
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	src1, _ := ctx.Source(h1)
	if err := src1.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, err := ctx.Source(h1); err == nil {
		t.Fatalf("expected stale handle lookup to fail after Destroy")
	}

	h2, err := ctx.CreateSource()
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	if h2.Index != h1.Index {
		t.Fatalf("expected freed index %d to be reused, got %d", h1.Index, h2.Index)
	}
	if h2.Generation == h1.Generation {
		t.Fatalf("expected reused slot to bump generation past %d", h1.Generation)
	}
}

// TestSourceNaturalCompletionDispatchesSourceStopped proves update()'s
// natural-stop branch notifies the handler via SourceStopped, distinct from
// SourceForceStopped which is reserved for eviction and group StopAll.
func TestSourceNaturalCompletionDispatchesSourceStopped(t *testing.T) {
	rec := &stoppedRecorder{}
	ctx, be := newLimitedTestContext(t, 0, rec)
	src, buf := mustPlayBuffer(t, ctx, "naturalstop.wav")
	if err := src.Play(buf); err != nil {
		t.Fatalf("Play: %v", err)
	}

	src.mu.Lock()
	voice := src.voice
	src.mu.Unlock()
	if err := be.SourceStop(voice); err != nil {
		t.Fatalf("simulate natural completion: %v", err)
	}

	ctx.Update()

	if len(rec.stopped) != 1 || rec.stopped[0] != src {
		t.Fatalf("expected SourceStopped(src) exactly once, got %v", rec.stopped)
	}
}
