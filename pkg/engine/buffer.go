package engine

import (
	"sync/atomic"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/backend"
)

// LoadStatus is a Buffer's decode/upload progress, transitioned with
// atomic release-store/acquire-load per spec.md §5's ordering guarantee.
type LoadStatus uint32

const (
	StatusPending LoadStatus = iota
	StatusReady
	StatusFailed
)

// Buffer is an immutable-after-load decoded audio resource keyed by name,
// per spec.md §3. It is never removed while refCount is non-zero.
type Buffer struct {
	name       string
	nameHash   uint64
	backendID  backend.BufferID
	freq       int
	chans      atypes.ChannelConfig
	sampleType atypes.SampleType
	length     int // frames
	loopStart  int
	loopEnd    int
	status     atomic.Uint32
	refCount   atomic.Int32

	// loadFuture is assigned once, at claim time, before the Buffer is ever
	// published into the cache, so reading it needs no further
	// synchronization: every concurrent GetBuffer/GetBufferAsync caller for
	// the same name attaches to this same Future instead of triggering a
	// second decode, per spec.md §8's "Async isolation" property.
	loadFuture *Future
}

func (b *Buffer) Name() string                    { return b.name }
func (b *Buffer) Frequency() int                  { return b.freq }
func (b *Buffer) ChannelConfig() atypes.ChannelConfig { return b.chans }
func (b *Buffer) SampleType() atypes.SampleType   { return b.sampleType }
func (b *Buffer) Length() int                     { return b.length }
func (b *Buffer) LoopPoints() (int, int)          { return b.loopStart, b.loopEnd }
func (b *Buffer) Status() LoadStatus              { return LoadStatus(b.status.Load()) }
func (b *Buffer) IsInUse() bool                   { return b.refCount.Load() > 0 }

func (b *Buffer) setStatus(s LoadStatus) { b.status.Store(uint32(s)) }
func (b *Buffer) retain()                { b.refCount.Add(1) }
func (b *Buffer) release()               { b.refCount.Add(-1) }

// normalizeLoopPoints applies the alure2 loop-point rule from
// ALContext::doCreateBuffer: if start >= end, the whole buffer loops
// ([0, frameCount)); otherwise end is clamped to frameCount and start to
// [0, end-1].
func normalizeLoopPoints(start, end, frameCount int) (int, int) {
	if start >= end {
		return 0, frameCount
	}
	if start < 0 {
		start = 0
	}
	if end > frameCount {
		end = frameCount
	}
	if start >= end && end > 0 {
		start = end - 1
	}
	return start, end
}
