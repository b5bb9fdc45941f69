package engine

import (
	"fmt"
	"sync"
)

// groupIndex owns every SourceGroup created by a Context, grounded on
// ALContext::mSourceGroups.
type groupIndex struct {
	mu     sync.Mutex
	byName map[string]*SourceGroup
}

func (g *groupIndex) init() {
	g.byName = make(map[string]*SourceGroup)
}

// SourceGroup is a named node in a tree of gain/pitch multipliers applied
// to its member Sources and sub-groups, per spec.md §4.4
// (ALSourceGroup::setGain/setPitch propagate multiplicatively down the
// tree, and ALSourceGroup::setParentGroup rejects a change that would
// create a cycle).
type SourceGroup struct {
	ctx    *Context
	name   string
	mu     sync.Mutex
	parent *SourceGroup
	subs   map[*SourceGroup]struct{}
	srcs   map[*Source]struct{}
	gain   float32
	pitch  float32
}

// CreateSourceGroup allocates a new named group, or returns the existing
// one for that name (ALContext::getSourceGroup dedups by name).
func (ctx *Context) CreateSourceGroup(name string) (*SourceGroup, error) {
	if err := ctx.requireCurrent("CreateSourceGroup"); err != nil {
		return nil, err
	}
	ctx.groups.mu.Lock()
	defer ctx.groups.mu.Unlock()
	if g, ok := ctx.groups.byName[name]; ok {
		return g, nil
	}
	g := &SourceGroup{
		ctx:   ctx,
		name:  name,
		subs:  make(map[*SourceGroup]struct{}),
		srcs:  make(map[*Source]struct{}),
		gain:  1,
		pitch: 1,
	}
	ctx.groups.byName[name] = g
	return g, nil
}

func (ctx *Context) FindSourceGroup(name string) *SourceGroup {
	ctx.groups.mu.Lock()
	defer ctx.groups.mu.Unlock()
	return ctx.groups.byName[name]
}

// Destroy detaches g from its parent, reparents its members to nil, and
// removes it from the Context's index. Per spec.md, destroying a group
// does not destroy its member Sources or sub-groups.
func (g *SourceGroup) Destroy() {
	g.SetParentGroup(nil)

	g.mu.Lock()
	subs := make([]*SourceGroup, 0, len(g.subs))
	for sub := range g.subs {
		subs = append(subs, sub)
	}
	srcs := make([]*Source, 0, len(g.srcs))
	for s := range g.srcs {
		srcs = append(srcs, s)
	}
	g.mu.Unlock()

	for _, sub := range subs {
		sub.SetParentGroup(nil)
	}
	for _, s := range srcs {
		s.SetGroup(nil)
	}

	g.ctx.groups.mu.Lock()
	delete(g.ctx.groups.byName, g.name)
	g.ctx.groups.mu.Unlock()
}

func (g *SourceGroup) Name() string { return g.name }

// SetParentGroup reparents g under parent, rejecting the change with
// ErrCycle if parent is g itself or already a descendant of g — the
// cycle check ALSourceGroup::setParentGroup performs by walking up from
// the proposed parent.
func (g *SourceGroup) SetParentGroup(parent *SourceGroup) error {
	if parent != nil {
		for p := parent; p != nil; p = p.parentSnapshot() {
			if p == g {
				return newErr(KindCycle, "SourceGroup.SetParentGroup", fmt.Errorf("group %q would become its own ancestor", g.name))
			}
		}
	}

	g.mu.Lock()
	old := g.parent
	g.parent = parent
	g.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		delete(old.subs, g)
		old.mu.Unlock()
	}
	if parent != nil {
		parent.mu.Lock()
		parent.subs[g] = struct{}{}
		parent.mu.Unlock()
	}
	g.propagateGain()
	return nil
}

func (g *SourceGroup) parentSnapshot() *SourceGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.parent
}

func (g *SourceGroup) addSource(s *Source)    { g.mu.Lock(); g.srcs[s] = struct{}{}; g.mu.Unlock() }
func (g *SourceGroup) removeSource(s *Source) { g.mu.Lock(); delete(g.srcs, s); g.mu.Unlock() }

// AddSubGroup is sugar for sub.SetParentGroup(g).
func (g *SourceGroup) AddSubGroup(sub *SourceGroup) error { return sub.SetParentGroup(g) }

// SetGain sets this group's own gain multiplier. EffectiveGain reports the
// accumulated product up the parent chain. Every descendant Source's
// committed backend gain is re-pushed immediately, per spec.md §4.4.
func (g *SourceGroup) SetGain(gain float32) {
	g.mu.Lock()
	g.gain = gain
	g.mu.Unlock()
	g.propagateGain()
}

func (g *SourceGroup) Gain() float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gain
}

// EffectiveGain multiplies this group's gain by every ancestor's gain, per
// the multiplicative accumulation rule in spec.md §4.4.
func (g *SourceGroup) EffectiveGain() float32 {
	acc := float32(1)
	for p := g; p != nil; p = p.parentSnapshot() {
		acc *= p.Gain()
	}
	return acc
}

// SetPitch sets this group's own pitch multiplier, re-pushing every
// descendant Source's committed backend pitch immediately.
func (g *SourceGroup) SetPitch(pitch float32) {
	g.mu.Lock()
	g.pitch = pitch
	g.mu.Unlock()
	g.propagateGain()
}

func (g *SourceGroup) Pitch() float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pitch
}

func (g *SourceGroup) EffectivePitch() float32 {
	acc := float32(1)
	for p := g; p != nil; p = p.parentSnapshot() {
		acc *= p.Pitch()
	}
	return acc
}

// members returns every Source transitively belonging to g, including
// sub-groups.
func (g *SourceGroup) members() []*Source {
	g.mu.Lock()
	srcs := make([]*Source, 0, len(g.srcs))
	for s := range g.srcs {
		srcs = append(srcs, s)
	}
	subs := make([]*SourceGroup, 0, len(g.subs))
	for sub := range g.subs {
		subs = append(subs, sub)
	}
	g.mu.Unlock()

	for _, sub := range subs {
		srcs = append(srcs, sub.members()...)
	}
	return srcs
}

// Sources returns a snapshot of g's direct member Sources, not including
// sub-groups' members, per spec.md §4.4: "Memberships are observable:
// getSources() and getSubGroups() return consistent snapshots."
func (g *SourceGroup) Sources() []*Source {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Source, 0, len(g.srcs))
	for s := range g.srcs {
		out = append(out, s)
	}
	return out
}

// SubGroups returns a snapshot of g's direct child groups.
func (g *SourceGroup) SubGroups() []*SourceGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*SourceGroup, 0, len(g.subs))
	for sub := range g.subs {
		out = append(out, sub)
	}
	return out
}

// propagateGain re-commits effective gain/pitch on every Source transitively
// under g, used whenever g's own gain/pitch changes or it is reparented.
// spec.md §4.4 describes this as a dirty-flag-and-lazy-recommit; this engine
// commits immediately instead of deferring to the next per-Source commit.
func (g *SourceGroup) propagateGain() {
	for _, s := range g.members() {
		s.recommitGroupAttrs()
	}
}

func (g *SourceGroup) PauseAll() {
	for _, s := range g.members() {
		s.Pause()
	}
}

func (g *SourceGroup) ResumeAll() {
	for _, s := range g.members() {
		s.Resume()
	}
}

// StopAll recurses depth-first through g and its sub-groups, stopping every
// still-playing member and dispatching sourceForceStopped for each one
// actually stopped, per spec.md §4.4.
func (g *SourceGroup) StopAll() {
	for _, s := range g.members() {
		if s.isDetached() {
			continue
		}
		s.Stop()
		if h := g.ctx.handler; h != nil {
			h.SourceForceStopped(s)
		}
	}
}
