// Package engine implements the core audio orchestration engine: Context
// lifecycle, the buffer cache, the source pool, source groups and effects.
// It is the Go realization of spec.md's four core subsystems, grounded on
// original_source/src/context.cpp (ALContext) for exact state-machine
// semantics and on the teacher's pkg/audioplayer/player.go for the Go
// producer/consumer/slog idiom.
package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/backend"
	"github.com/drgolem/spatialaudio/pkg/decoder"
	"github.com/drgolem/spatialaudio/pkg/pendingqueue"
)

// ContextConfig configures a new Context, matching the teacher's
// audioplayer.Config/DefaultConfig() pattern.
type ContextConfig struct {
	// MaxSources bounds the backend voice pool (spec.md §4.3's finite
	// pool). 0 means "ask the backend for as many as it will grant".
	MaxSources int
	// PendingQueueSize sizes the async buffer-load ring; alure2 uses 16.
	PendingQueueSize uint64
	// AsyncWakeInterval is the worker's timeout wake period.
	AsyncWakeInterval time.Duration
	Handler           MessageHandler
}

// DefaultContextConfig mirrors ALContext's constructor defaults.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxSources:        256,
		PendingQueueSize:  16,
		AsyncWakeInterval: 50 * time.Millisecond,
	}
}

// Context is the root of a self-contained audio world, per spec.md §3.
type Context struct {
	id      string
	device  *Device
	backend backend.Backend
	handler MessageHandler

	mu sync.Mutex // context-mutex

	listener Listener
	cache    bufferCache
	pool     sourcePool
	groups   groupIndex
	effects  effectIndex

	pending *pendingqueue.Queue

	streamMu sync.Mutex // streaming-set mutex, deliberately separate from mu
	streams  map[*Source]struct{}

	wakeMu        sync.Mutex
	wakeCond      *sync.Cond
	wakeInterval  time.Duration
	workerOnce    sync.Once
	workerStarted atomic.Bool
	workerQuit    chan struct{}
	workerDone    chan struct{}

	batchDepth int

	refCount   int
	extensions sync.Once
	capTable   map[string]bool

	dopplerFactor float32
	speedOfSound  float32
	distModel     atypes.DistanceModel

	connected bool
}

// currentState is the process-wide / thread-local current-context slot
// described in spec.md §4.1. Go has no native thread-local storage, so the
// thread-local slot is only meaningful to a caller that has pinned itself
// with runtime.LockOSThread — mirroring the original's requirement that
// MakeThreadCurrent needs ALC_EXT_thread_local_context.
var currentState = struct {
	mu             sync.Mutex
	processCurrent *Context
	threadCurrent  map[int64]*Context // keyed by a caller-supplied thread token
}{threadCurrent: make(map[int64]*Context)}

// NewContext constructs a Context owned by dev, per Device.CreateContext.
func NewContext(dev *Device, be backend.Backend, cfg ContextConfig) *Context {
	if cfg.PendingQueueSize == 0 {
		cfg.PendingQueueSize = 16
	}
	if cfg.AsyncWakeInterval == 0 {
		cfg.AsyncWakeInterval = 50 * time.Millisecond
	}
	ctx := &Context{
		id:           uuid.NewString(),
		device:       dev,
		backend:      be,
		handler:      cfg.Handler,
		pending:      pendingqueue.New(cfg.PendingQueueSize),
		streams:      make(map[*Source]struct{}),
		wakeInterval: cfg.AsyncWakeInterval,
		workerQuit:   make(chan struct{}),
		workerDone:   make(chan struct{}),
		distModel:    atypes.InverseDistanceClamped,
		speedOfSound: 343.3,
		dopplerFactor: 1,
		connected:    true,
	}
	ctx.wakeCond = sync.NewCond(&ctx.wakeMu)
	ctx.listener.bind(ctx)
	ctx.pool.init(be, cfg.MaxSources)
	ctx.groups.init()
	ctx.effects.init(be)
	if ctx.handler == nil {
		ctx.handler = DefaultMessageHandler{}
	}
	return ctx
}

// ID returns a unique instance identifier, used for log correlation.
func (ctx *Context) ID() string { return ctx.id }

func (ctx *Context) isCurrent() bool {
	currentState.mu.Lock()
	defer currentState.mu.Unlock()
	return currentState.processCurrent == ctx
}

// requireCurrent enforces the precondition spec.md §4.1 states for most
// context operations: succeeds only if ctx is the (thread- or process-)
// current context.
func (ctx *Context) requireCurrent(op string) error {
	currentState.mu.Lock()
	defer currentState.mu.Unlock()
	if currentState.processCurrent == ctx {
		return nil
	}
	for _, tc := range currentState.threadCurrent {
		if tc == ctx {
			return nil
		}
	}
	return newErr(KindContextMismatch, op, fmt.Errorf("context %s is not current", ctx.id))
}

// MakeCurrent implements the state transition in spec.md §4.1: lock
// old-current and new in a stable order, ask the backend to switch, probe
// extensions once, swap the process-current slot, clear thread-current,
// and wake the former current's worker.
func MakeCurrent(ctx *Context) error {
	currentState.mu.Lock()
	old := currentState.processCurrent
	currentState.mu.Unlock()

	lockPairInOrder(old, ctx)
	defer unlockPairInOrder(old, ctx)

	if ctx != nil {
		if err := ctx.backend.Process(); err != nil {
			return newErr(KindBackendError, "MakeCurrent", err)
		}
		ctx.probeExtensionsOnce()
		ctx.refCount++
	}

	currentState.mu.Lock()
	currentState.processCurrent = ctx
	for k, tc := range currentState.threadCurrent {
		if tc == old {
			delete(currentState.threadCurrent, k)
		}
	}
	currentState.mu.Unlock()

	if old != nil {
		old.refCount--
		old.wakeCond.Broadcast()
	}
	return nil
}

// GetCurrent returns the process-wide current context, or nil.
func GetCurrent() *Context {
	currentState.mu.Lock()
	defer currentState.mu.Unlock()
	return currentState.processCurrent
}

// MakeThreadCurrent sets the calling "thread"'s current-context slot,
// keyed by threadToken (the caller's OS-thread identity, obtained after
// runtime.LockOSThread — the engine has no way to verify this itself, so
// it trusts the caller per the capability's documented precondition).
func MakeThreadCurrent(threadToken int64, ctx *Context) error {
	currentState.mu.Lock()
	defer currentState.mu.Unlock()
	if ctx == nil {
		delete(currentState.threadCurrent, threadToken)
		return nil
	}
	currentState.threadCurrent[threadToken] = ctx
	ctx.probeExtensionsOnce()
	return nil
}

// GetThreadCurrent returns threadToken's thread-local current context, or
// nil.
func GetThreadCurrent(threadToken int64) *Context {
	currentState.mu.Lock()
	defer currentState.mu.Unlock()
	return currentState.threadCurrent[threadToken]
}

func lockPairInOrder(a, b *Context) {
	first, second := orderPair(a, b)
	if first != nil {
		first.mu.Lock()
	}
	if second != nil && second != first {
		second.mu.Lock()
	}
}

func unlockPairInOrder(a, b *Context) {
	first, second := orderPair(a, b)
	if second != nil && second != first {
		second.mu.Unlock()
	}
	if first != nil {
		first.mu.Unlock()
	}
}

// orderPair returns (a, b) in a stable order so two goroutines racing to
// MakeCurrent on the same pair of contexts always acquire locks in the same
// sequence. The original orders by pointer value; Go pointers aren't
// comparable across GC moves in the way C++ addresses are treated, so this
// orders by the (stable, assigned-once) instance ID string instead.
func orderPair(a, b *Context) (*Context, *Context) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	if a == b {
		return a, nil
	}
	if a.id <= b.id {
		return a, b
	}
	return b, a
}

// probeExtensionsOnce runs the capability table exactly once per context,
// per the SUPPLEMENTED FEATURES "extension probing table" grounded on
// ALExtensionList in context.cpp.
func (ctx *Context) probeExtensionsOnce() {
	ctx.extensions.Do(func() {
		ctx.capTable = map[string]bool{
			"EFX":                    ctx.backend.IsSupported("EFX"),
			"THREAD_LOCAL_CONTEXT":   ctx.backend.IsSupported("THREAD_LOCAL_CONTEXT"),
			"HRTF":                   ctx.backend.IsSupported("HRTF"),
			"MCFORMATS":              ctx.backend.IsSupported("MCFORMATS"),
			"BFORMAT":                ctx.backend.IsSupported("BFORMAT"),
			"FLOAT32":                ctx.backend.IsSupported("FLOAT32"),
		}
	})
}

// IsSupported reports whether the named capability was detected during the
// one-shot extension probe.
func (ctx *Context) IsSupported(name string) bool {
	ctx.probeExtensionsOnce()
	return ctx.capTable[name]
}

// StartBatch defers backend property commits; EndBatch flushes them.
// Nested start/end pairs collapse to a single commit, per spec.md §4.1.
func (ctx *Context) StartBatch() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.batchDepth == 0 {
		if err := ctx.backend.Suspend(); err != nil {
			return newErr(KindBackendError, "StartBatch", err)
		}
	}
	ctx.batchDepth++
	return nil
}

func (ctx *Context) EndBatch() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.batchDepth == 0 {
		return nil
	}
	ctx.batchDepth--
	if ctx.batchDepth == 0 {
		if err := ctx.backend.Process(); err != nil {
			return newErr(KindBackendError, "EndBatch", err)
		}
	}
	return nil
}

// SetAsyncWakeInterval changes the worker's wake period and immediately
// broadcasts, matching ALContext::setAsyncWakeInterval's
// lock(mWakeMutex)/broadcast(mWakeThread).
func (ctx *Context) SetAsyncWakeInterval(d time.Duration) {
	ctx.wakeMu.Lock()
	ctx.wakeInterval = d
	ctx.wakeMu.Unlock()
	ctx.wakeCond.Broadcast()
}

func (ctx *Context) AsyncWakeInterval() time.Duration {
	ctx.wakeMu.Lock()
	defer ctx.wakeMu.Unlock()
	return ctx.wakeInterval
}

// ensureWorker starts the background worker goroutine lazily, on first
// async buffer load or first streaming play, matching
// ALContext::backgroundProc/mThread being started lazily in
// doCreateBufferAsync/addStream.
func (ctx *Context) ensureWorker() {
	ctx.workerOnce.Do(func() {
		ctx.workerStarted.Store(true)
		go ctx.backgroundProc()
	})
}

func (ctx *Context) wakeWorker() {
	ctx.wakeCond.Broadcast()
}

// backgroundProc is the worker loop: service streaming sources, drain one
// pending-decode record, then sleep until woken or the interval elapses.
// Grounded on ALContext::backgroundProc in original_source/src/context.cpp.
func (ctx *Context) backgroundProc() {
	defer close(ctx.workerDone)
	slog.Debug("context worker started", "context", ctx.id)

	for {
		select {
		case <-ctx.workerQuit:
			slog.Debug("context worker stopping", "context", ctx.id)
			return
		default:
		}

		ctx.serviceStreams()
		ctx.serviceOnePending()

		ctx.wakeMu.Lock()
		interval := ctx.wakeInterval
		done := make(chan struct{})
		go func() {
			select {
			case <-time.After(interval):
			case <-done:
			}
			ctx.wakeMu.Lock()
			ctx.wakeCond.Broadcast()
			ctx.wakeMu.Unlock()
		}()
		ctx.wakeCond.Wait()
		close(done)
		ctx.wakeMu.Unlock()

		select {
		case <-ctx.workerQuit:
			return
		default:
		}
	}
}

// serviceOnePending drains one record from the pending-decode ring and
// finishes the load against the Pending Buffer that GetBufferAsync (or
// CreateBufferAsyncFrom) already claimed and inserted, per spec.md §4.2. A
// record carrying a caller-supplied Decoder (from CreateBufferAsyncFrom)
// uses it directly instead of the registered decoder chain.
func (ctx *Context) serviceOnePending() {
	rec, err := ctx.pending.Pop()
	if err != nil {
		return
	}
	buf := ctx.cache.find(rec.Name)
	if buf == nil {
		slog.Warn("async buffer load: claimed entry missing from cache", "name", rec.Name)
		return
	}

	if dec, ok := rec.Decoder.(decoder.Decoder); ok && dec != nil {
		defer dec.Close()
		if _, loadErr := ctx.finishLoadFrom(buf, rec.Name, dec); loadErr != nil {
			slog.Warn("async buffer load failed", "name", rec.Name, "error", loadErr)
		}
		return
	}

	if _, loadErr := ctx.finishLoad(buf, rec.Name); loadErr != nil {
		slog.Warn("async buffer load failed", "name", rec.Name, "error", loadErr)
	}
}

func (ctx *Context) serviceStreams() {
	ctx.streamMu.Lock()
	srcs := make([]*Source, 0, len(ctx.streams))
	for s := range ctx.streams {
		srcs = append(srcs, s)
	}
	ctx.streamMu.Unlock()

	for _, s := range srcs {
		s.updateAsync(ctx)
	}
}

func (ctx *Context) addStream(s *Source) {
	ctx.streamMu.Lock()
	ctx.streams[s] = struct{}{}
	ctx.streamMu.Unlock()
	ctx.ensureWorker()
}

func (ctx *Context) removeStream(s *Source) {
	ctx.streamMu.Lock()
	delete(ctx.streams, s)
	ctx.streamMu.Unlock()
}

// Destroy is valid only when no outer references are held and all buffers
// have been removed, per spec.md §4.1. It signals the worker to quit,
// joins it, and unregisters the Context from its Device.
func (ctx *Context) Destroy() error {
	ctx.mu.Lock()
	refs := ctx.refCount
	bufCount := len(ctx.cache.entries)
	ctx.mu.Unlock()

	if refs != 0 {
		return newErr(KindInUse, "Destroy", fmt.Errorf("context still referenced (refcount %d)", refs))
	}
	if bufCount != 0 {
		return newErr(KindInUse, "Destroy", fmt.Errorf("%d buffers still present", bufCount))
	}

	close(ctx.workerQuit)
	ctx.wakeCond.Broadcast()
	if ctx.workerStarted.Load() {
		<-ctx.workerDone
	}

	ctx.device.removeContext(ctx)
	return nil
}

// Update runs the per-tick maintenance spec.md §4.1 requires: per-source
// update and disconnect detection, per the SUPPLEMENTED FEATURES section
// (ALContext::update checking ALC_CONNECTED).
func (ctx *Context) Update() {
	wasConnected := ctx.connected
	ctx.connected = ctx.backend.IsConnected()
	if wasConnected && !ctx.connected {
		ctx.handler.DeviceDisconnected()
	}

	ctx.pool.forEachUsed(func(s *Source) { s.update(ctx) })
}

// SetDopplerFactor/SetSpeedOfSound/SetDistanceModel are thin proxies onto
// the backend's listener-scoped globals, per the SUPPLEMENTED FEATURES
// section (ALContext::setDopplerFactor/setSpeedOfSound/setDistanceModel).
func (ctx *Context) SetDopplerFactor(f float32) error {
	ctx.dopplerFactor = f
	if err := ctx.backend.SetDopplerFactor(f); err != nil {
		return newErr(KindBackendError, "SetDopplerFactor", err)
	}
	return nil
}

func (ctx *Context) SetSpeedOfSound(speed float32) error {
	ctx.speedOfSound = speed
	if err := ctx.backend.SetSpeedOfSound(speed); err != nil {
		return newErr(KindBackendError, "SetSpeedOfSound", err)
	}
	return nil
}

func (ctx *Context) SetDistanceModel(m atypes.DistanceModel) error {
	ctx.distModel = m
	if err := ctx.backend.SetDistanceModel(m); err != nil {
		return newErr(KindBackendError, "SetDistanceModel", err)
	}
	return nil
}

// Listener returns the context's single Listener value.
func (ctx *Context) Listener() *Listener { return &ctx.listener }

// SetMessageHandler swaps the context's handler, returning the previous
// one.
func (ctx *Context) SetMessageHandler(h MessageHandler) MessageHandler {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	prev := ctx.handler
	if h == nil {
		h = DefaultMessageHandler{}
	}
	ctx.handler = h
	return prev
}

func (ctx *Context) MessageHandler() MessageHandler {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.handler
}

// sortedBufferNames is a small test/debug helper exposing cache contents in
// name order.
func (ctx *Context) sortedBufferNames() []string {
	ctx.cache.mu.Lock()
	defer ctx.cache.mu.Unlock()
	names := make([]string, len(ctx.cache.entries))
	for i, e := range ctx.cache.entries {
		names[i] = e.name
	}
	sort.Strings(names)
	return names
}
