package engine

import (
	"fmt"
	"hash/fnv"
	"io"
	"sort"
	"sync"

	"github.com/drgolem/spatialaudio/pkg/backend"
	"github.com/drgolem/spatialaudio/pkg/decoder"
	"github.com/drgolem/spatialaudio/pkg/fileio"
	"github.com/drgolem/spatialaudio/pkg/pendingqueue"
)

// bufferCache is a name-keyed ordered map of decoded Buffers, per spec.md
// §4.2. Entries are sorted by (hash(name), name) so that two names which
// happen to hash identically are still both storable and both retrievable
// by binary search — the hash-collision bug in getBuffer/getBufferAsync
// (original_source/src/context.cpp, which compares on hash alone) is fixed
// here per spec.md §9's open question, resolved in favor of the
// spec-recommended fix.
type bufferCache struct {
	mu      sync.Mutex
	entries []*Buffer
}

func hashName(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// search returns the index where an entry keyed (hash, name) belongs, and
// whether an exact match already exists there.
func (c *bufferCache) search(hash uint64, name string) (int, bool) {
	i := sort.Search(len(c.entries), func(i int) bool {
		e := c.entries[i]
		if e.nameHash != hash {
			return e.nameHash >= hash
		}
		return e.name >= name
	})
	if i < len(c.entries) && c.entries[i].nameHash == hash && c.entries[i].name == name {
		return i, true
	}
	return i, false
}

func (c *bufferCache) find(name string) *Buffer {
	hash := hashName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.search(hash, name); ok {
		return c.entries[i]
	}
	return nil
}

// insertLocked inserts buf at its sorted position, assuming c.mu is already
// held. It is a no-op, reporting false, if an entry for buf.name already
// exists — the caller decides what that means (silent merge for insert,
// "lost the race" for claim/claimNew).
func (c *bufferCache) insertLocked(buf *Buffer) bool {
	i, ok := c.search(buf.nameHash, buf.name)
	if ok {
		return false
	}
	c.entries = append(c.entries, nil)
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = buf
	return true
}

func (c *bufferCache) insert(buf *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(buf)
}

// claim reserves name's cache slot: if name is already cached (Pending or
// Ready), it returns that entry with created=false so the caller attaches to
// its loadFuture instead of loading again. Otherwise it allocates a backend
// buffer via genBackend, inserts a Pending placeholder, and returns
// created=true so the caller performs the load and calls
// finishLoad/finishLoadFrom (or failLoad on error). The cache lock is held
// across the search, the backend allocation, and the insert as one atomic
// step — without that, two callers could both observe a cache miss and both
// allocate a backend buffer before either inserts, leaking one. Reserving
// the slot this way before any decode or queue hand-off is what guarantees
// spec.md §8's "Async isolation" property: concurrent GetBufferAsync calls
// for the same missing name converge on exactly one decode.
func (c *bufferCache) claim(name string, genBackend func() (backend.BufferID, error)) (*Buffer, bool, error) {
	hash := hashName(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.search(hash, name); ok {
		return c.entries[i], false, nil
	}

	backendID, err := genBackend()
	if err != nil {
		return nil, false, err
	}

	buf := &Buffer{
		name:       name,
		nameHash:   hash,
		backendID:  backendID,
		loadFuture: newFuture(),
	}
	buf.setStatus(StatusPending)
	c.insertLocked(buf)
	return buf, true, nil
}

// claimNew behaves like claim, but fails with ErrDuplicate instead of
// attaching to an existing entry, per createBufferFrom's "fails if a cache
// entry with that name already exists" contract in spec.md §4.2.
func (c *bufferCache) claimNew(name string, genBackend func() (backend.BufferID, error)) (*Buffer, error) {
	hash := hashName(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.search(hash, name); ok {
		return nil, newErr(KindDuplicate, "CreateBufferFrom", fmt.Errorf("buffer %q already cached", name))
	}

	backendID, err := genBackend()
	if err != nil {
		return nil, err
	}

	buf := &Buffer{
		name:       name,
		nameHash:   hash,
		backendID:  backendID,
		loadFuture: newFuture(),
	}
	buf.setStatus(StatusPending)
	c.insertLocked(buf)
	return buf, nil
}

// remove drops the named entry. A miss is a silent no-op, per the
// removeBuffer open question in spec.md §9 resolved to match the original's
// documented (if surprising) behavior.
func (c *bufferCache) remove(name string) error {
	hash := hashName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.search(hash, name)
	if !ok {
		return nil
	}
	if c.entries[i].IsInUse() {
		return newErr(KindInUse, "removeBuffer", fmt.Errorf("buffer %q still referenced", name))
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return nil
}

// GetBuffer synchronously loads (or returns the cached) Buffer for name,
// per the getBuffer data flow in spec.md §2: cache lookup, then file I/O,
// decoder chain, full decode, backend upload, cache insert.
func (ctx *Context) GetBuffer(name string) (*Buffer, error) {
	if err := ctx.requireCurrent("GetBuffer"); err != nil {
		return nil, err
	}
	buf, created, err := ctx.cache.claim(name, ctx.backend.GenBuffer)
	if err != nil {
		return nil, newErr(KindBackendError, "GetBuffer", err)
	}
	if !created {
		return buf.loadFuture.Get()
	}
	return ctx.finishLoad(buf, name)
}

// GetBufferAsync claims name's cache slot synchronously (allocating the
// backend buffer and inserting a Pending Buffer before returning), then
// detours the actual decode through the pending-decode ring queue to the
// background worker; if the queue is full it falls back to loading on the
// calling goroutine. Concurrent calls for the same uncached name all
// observe the first call's claim and share its one Future, per spec.md §8.
func (ctx *Context) GetBufferAsync(name string) *Future {
	buf, created, err := ctx.cache.claim(name, ctx.backend.GenBuffer)
	if err != nil {
		f := newFuture()
		f.complete(nil, newErr(KindBackendError, "GetBufferAsync", err))
		return f
	}
	if !created {
		return buf.loadFuture
	}

	ctx.ensureWorker()
	rec := pendingqueue.Record{Name: name, BufferID: uint32(buf.backendID)}
	if err := ctx.pending.Push(rec); err != nil {
		// Ring full: service inline instead of blocking the caller.
		ctx.finishLoad(buf, name)
	} else {
		ctx.wakeWorker()
	}
	return buf.loadFuture
}

// CreateBufferFrom decodes name synchronously using the caller-supplied
// decoder instead of the registered decoder chain, failing with ErrDuplicate
// if name is already cached, per spec.md §4.2. dec is closed once decoding
// finishes.
func (ctx *Context) CreateBufferFrom(name string, dec decoder.Decoder) (*Buffer, error) {
	if err := ctx.requireCurrent("CreateBufferFrom"); err != nil {
		return nil, err
	}
	buf, err := ctx.cache.claimNew(name, ctx.backend.GenBuffer)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return ctx.finishLoadFrom(buf, name, dec)
}

// CreateBufferAsyncFrom is CreateBufferFrom's async counterpart: the decode
// runs on the background worker (dec is handed across the pending-decode
// ring via its Decoder field), falling back to an inline decode if the ring
// is full.
func (ctx *Context) CreateBufferAsyncFrom(name string, dec decoder.Decoder) (*Future, error) {
	if err := ctx.requireCurrent("CreateBufferAsyncFrom"); err != nil {
		return nil, err
	}
	buf, err := ctx.cache.claimNew(name, ctx.backend.GenBuffer)
	if err != nil {
		return nil, err
	}

	ctx.ensureWorker()
	rec := pendingqueue.Record{Name: name, Decoder: dec}
	if pushErr := ctx.pending.Push(rec); pushErr != nil {
		defer dec.Close()
		ctx.finishLoadFrom(buf, name, dec)
	} else {
		ctx.wakeWorker()
	}
	return buf.loadFuture, nil
}

// PrecacheBuffersAsync enqueues an async load for every name not already
// cached. Per-name failures are swallowed here — they resurface the next
// time that name is requested through GetBuffer/GetBufferAsync, because a
// failed load removes its entry from the cache rather than leaving it
// permanently Failed.
func (ctx *Context) PrecacheBuffersAsync(names []string) {
	for _, name := range names {
		ctx.GetBufferAsync(name)
	}
}

// FindBuffer returns the cached Buffer for name without triggering a load,
// or nil.
func (ctx *Context) FindBuffer(name string) *Buffer {
	return ctx.cache.find(name)
}

// FindBufferAsync returns name's in-flight or completed Future without
// triggering a load, or nil if name isn't cached at all.
func (ctx *Context) FindBufferAsync(name string) *Future {
	if buf := ctx.cache.find(name); buf != nil {
		return buf.loadFuture
	}
	return nil
}

// RemoveBuffer evicts name from the cache. Fails with ErrInUse while any
// Source still references it (spec.md §3's invariant).
func (ctx *Context) RemoveBuffer(name string) error {
	return ctx.cache.remove(name)
}

// Precache loads name and discards the result, warming the cache ahead of
// first use.
func (ctx *Context) Precache(name string) error {
	_, err := ctx.GetBuffer(name)
	return err
}

// finishLoad opens name through the registered decoder chain (substituting
// on resourceNotFound) and completes buf's load, per spec.md §4.2.
func (ctx *Context) finishLoad(buf *Buffer, name string) (*Buffer, error) {
	dec, stream, err := ctx.openWithSubstitution(name)
	if err != nil {
		return nil, ctx.failLoad(buf, name, newErr(KindNotFound, "GetBuffer", err))
	}
	defer stream.Close()
	defer dec.Close()
	return ctx.finishLoadFrom(buf, name, dec)
}

// openWithSubstitution opens name's stream and decoder chain, consulting the
// message handler's ResourceNotFound callback to substitute a new name
// whenever the current one can't be opened or no factory recognizes it, per
// spec.md §4.2's decoder-chain fallback and the "missing.ogg" ->
// "fallback.ogg" end-to-end scenario in spec.md §8. The cache key (name, as
// held by the caller) never changes regardless of how many substitutions
// occur; a seen-set guards against a substitution cycle.
func (ctx *Context) openWithSubstitution(name string) (decoder.Decoder, fileio.ByteStream, error) {
	seen := map[string]bool{}
	current := name
	var lastErr error
	for {
		if seen[current] {
			return nil, nil, fmt.Errorf("resourceNotFound: substitution cycle at %q", current)
		}
		seen[current] = true

		stream, err := fileio.Open(current)
		if err == nil {
			dec, decErr := decoder.Open(stream)
			if decErr == nil {
				return dec, stream, nil
			}
			stream.Close()
			err = decErr
		}
		lastErr = err

		next := ctx.resourceNotFound(current)
		if next == "" {
			return nil, nil, lastErr
		}
		current = next
	}
}

func (ctx *Context) resourceNotFound(name string) string {
	if ctx.handler == nil {
		return ""
	}
	return ctx.handler.ResourceNotFound(name)
}

// finishLoadFrom drains dec, uploads the result into buf's already-allocated
// backend buffer, and transitions buf to Ready. It does not close dec —
// callers that own dec's lifecycle do that.
func (ctx *Context) finishLoadFrom(buf *Buffer, name string, dec decoder.Decoder) (*Buffer, error) {
	data, frames, err := decodeAll(dec)
	if err != nil && err != io.EOF {
		return nil, ctx.failLoad(buf, name, newErr(KindDecodeError, "GetBuffer", err))
	}

	loopStart, loopEnd := dec.LoopPoints()
	loopStart, loopEnd = normalizeLoopPoints(loopStart, loopEnd, frames)

	if ctx.handler != nil {
		ctx.handler.BufferLoading(name, dec.Channels().Channels(), int(dec.SampleType()), dec.Frequency(), data)
	}

	if err := ctx.backend.BufferData(buf.backendID, dec.Channels(), dec.SampleType(), data, dec.Frequency()); err != nil {
		return nil, ctx.failLoad(buf, name, newErr(KindBackendError, "GetBuffer", err))
	}
	if loopEnd > loopStart {
		ctx.backend.SetBufferLoopPoints(buf.backendID, loopStart, loopEnd)
	}

	buf.freq = dec.Frequency()
	buf.chans = dec.Channels()
	buf.sampleType = dec.SampleType()
	buf.length = frames
	buf.loopStart = loopStart
	buf.loopEnd = loopEnd
	buf.setStatus(StatusReady)
	buf.loadFuture.complete(buf, nil)
	return buf, nil
}

// failLoad unwinds a claimed-but-unloadable buf: it drops the cache entry
// (so a later GetBuffer/GetBufferAsync call for the same name retries
// rather than being stuck behind a permanently Failed placeholder), frees
// its backend allocation, notifies the handler, and fails the future.
func (ctx *Context) failLoad(buf *Buffer, name string, loadErr error) error {
	buf.setStatus(StatusFailed)
	_ = ctx.cache.remove(name)
	ctx.backend.DeleteBuffer(buf.backendID)
	if ctx.handler != nil {
		ctx.handler.BufferLoadFailed(name, loadErr)
	}
	buf.loadFuture.complete(nil, loadErr)
	return loadErr
}

// decodeAll drains a decoder.Decoder into memory in fixed-size chunks,
// returning the concatenated PCM bytes and total frame count.
func decodeAll(dec decoder.Decoder) ([]byte, int, error) {
	const chunkFrames = 4096
	frameSize := dec.Channels().Channels() * dec.SampleType().Size()
	if frameSize == 0 {
		return nil, 0, fmt.Errorf("engine: decoder reports zero frame size")
	}
	chunk := make([]byte, chunkFrames*frameSize)

	var out []byte
	totalFrames := 0
	for {
		n, err := dec.Read(chunk)
		if n > 0 {
			out = append(out, chunk[:n*frameSize]...)
			totalFrames += n
		}
		if err != nil {
			if err == io.EOF {
				return out, totalFrames, nil
			}
			return out, totalFrames, err
		}
		if n == 0 {
			return out, totalFrames, nil
		}
	}
}
