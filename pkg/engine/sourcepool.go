package engine

import (
	"fmt"
	"sync"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/backend"
)

// SourceHandle is an (index, generation) pair into the owning Context's
// source arena, replacing the original's pointer-identity handles per the
// REDESIGN note in spec.md §9. A stale handle (generation mismatch)
// surfaces ErrNotFound.
type SourceHandle struct {
	Index      int
	Generation uint32
}

type sourceSlot struct {
	source     Source
	generation uint32
	alive      bool
}

// sourcePool implements the two-level resource allocation spec.md §4.3 and
// §5 describe: a grow-only arena + free-index stack of logical Source
// slots (stable once allocated, so a SourceHandle's index always resolves
// to the same slot), plus a separate stack of available finite backend
// voice IDs, grounded on ALContext::mAllSources/mFreeSources/mUsedSources.
type sourcePool struct {
	mu        sync.Mutex
	be        backend.Backend
	maxVoices int

	arena   []*sourceSlot
	freeIdx []int

	voiceStack []backend.SourceID // freed voice IDs available for reuse
	liveVoices int                // voices currently allocated (reused or freshly gen'd)

	used map[int]struct{} // arena indices currently alive
}

func (p *sourcePool) init(be backend.Backend, maxVoices int) {
	p.be = be
	p.maxVoices = maxVoices
	p.used = make(map[int]struct{})
}

// Create allocates a new logical Source slot (not yet holding a voice),
// per createSource's arena+free-list allocation.
func (p *sourcePool) create(ctx *Context) (SourceHandle, *Source) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var idx int
	if n := len(p.freeIdx); n > 0 {
		idx = p.freeIdx[n-1]
		p.freeIdx = p.freeIdx[:n-1]
		slot := p.arena[idx]
		slot.generation++
		slot.alive = true
		slot.source = Source{}
	} else {
		idx = len(p.arena)
		p.arena = append(p.arena, &sourceSlot{alive: true})
	}

	slot := p.arena[idx]
	slot.source.ctx = ctx
	slot.source.gain = 1
	slot.source.minGain = 0
	slot.source.maxGain = 1
	slot.source.pitch = 1
	slot.source.refDistance = 1
	slot.source.maxDistance = 3.4e38
	slot.source.rolloffFactor = 1
	slot.source.dopplerFactor = 1
	slot.source.spatialize = atypes.SpatializeAuto
	slot.source.handle = SourceHandle{Index: idx, Generation: slot.generation}
	p.used[idx] = struct{}{}

	return slot.source.handle, &slot.source
}

// free returns a Source's arena slot to the free stack. The caller must
// have already released any held voice.
func (p *sourcePool) free(h SourceHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.Index < 0 || h.Index >= len(p.arena) {
		return
	}
	slot := p.arena[h.Index]
	if !slot.alive || slot.generation != h.Generation {
		return
	}
	slot.alive = false
	delete(p.used, h.Index)
	p.freeIdx = append(p.freeIdx, h.Index)
}

// resolve validates a handle and returns its live Source, or an error if
// the handle is stale (generation mismatch) or out of range.
func (p *sourcePool) resolve(h SourceHandle) (*Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.Index < 0 || h.Index >= len(p.arena) {
		return nil, newErr(KindNotFound, "resolve", fmt.Errorf("source handle %v out of range", h))
	}
	slot := p.arena[h.Index]
	if !slot.alive || slot.generation != h.Generation {
		return nil, newErr(KindNotFound, "resolve", fmt.Errorf("stale source handle %v", h))
	}
	return &slot.source, nil
}

func (p *sourcePool) forEachUsed(fn func(*Source)) {
	p.mu.Lock()
	srcs := make([]*Source, 0, len(p.used))
	for idx := range p.used {
		srcs = append(srcs, &p.arena[idx].source)
	}
	p.mu.Unlock()
	for _, s := range srcs {
		fn(s)
	}
}

// acquireVoice implements getSourceId(maxPriority) from
// original_source/src/context.cpp: pop a freed voice, else ask the backend
// to generate one, else evict the globally lowest-priority currently
// playing source below maxPriority and reclaim its voice.
func (p *sourcePool) acquireVoice(requester *Source, maxPriority int) (backend.SourceID, error) {
	p.mu.Lock()
	if n := len(p.voiceStack); n > 0 {
		id := p.voiceStack[n-1]
		p.voiceStack = p.voiceStack[:n-1]
		p.mu.Unlock()
		return id, nil
	}
	if p.maxVoices == 0 || p.liveVoices < p.maxVoices {
		p.mu.Unlock()
		id, err := p.be.GenSource()
		if err == nil {
			p.mu.Lock()
			p.liveVoices++
			p.mu.Unlock()
			return id, nil
		}
		// Backend couldn't generate one either; fall through to eviction.
	} else {
		p.mu.Unlock()
	}

	victim := p.findEvictionVictim(requester, maxPriority)
	if victim == nil {
		return 0, newErr(KindCapacity, "acquireVoice", fmt.Errorf("no voice available and no evictable source below priority %d", maxPriority))
	}

	victim.ctx.removeStream(victim)

	victim.mu.Lock()
	id := victim.voice
	victim.releaseCurrentLocked()
	victim.voice = 0
	victim.state = playbackState{kind: psDetached}
	victim.mu.Unlock()

	if h := victim.ctx.handler; h != nil {
		h.SourceForceStopped(victim)
	}
	return id, nil
}

// findEvictionVictim scans every live source with a voice for the globally
// lowest-priority one currently playing and strictly below maxPriority —
// carried as-is from the original's "scan mUsedSources", not scoped to any
// one group.
func (p *sourcePool) findEvictionVictim(requester *Source, maxPriority int) *Source {
	p.mu.Lock()
	candidates := make([]*Source, 0, len(p.used))
	for idx := range p.used {
		s := &p.arena[idx].source
		candidates = append(candidates, s)
	}
	p.mu.Unlock()

	var victim *Source
	lowest := maxPriority
	for _, s := range candidates {
		if s == requester {
			continue
		}
		s.mu.Lock()
		playing := s.voice != 0 && (s.state.kind == psBufferPlaying || s.state.kind == psStreaming)
		pr := s.priority
		s.mu.Unlock()
		if playing && pr < lowest {
			lowest = pr
			victim = s
		}
	}
	return victim
}

// releaseVoice returns a voice to the pool's stack for reuse rather than
// deleting it outright, matching the original's mAvailableSources stack.
func (p *sourcePool) releaseVoice(id backend.SourceID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voiceStack = append(p.voiceStack, id)
}
