package engine

import (
	"testing"
)

func TestSourceGroupCreateDedupsByName(t *testing.T) {
	ctx, _ := newTestContext(t)

	g1, err := ctx.CreateSourceGroup("music")
	if err != nil {
		t.Fatalf("CreateSourceGroup: %v", err)
	}
	g2, err := ctx.CreateSourceGroup("music")
	if err != nil {
		t.Fatalf("CreateSourceGroup (dup): %v", err)
	}
	if g1 != g2 {
		t.Fatalf("expected same *SourceGroup instance for duplicate name")
	}
	if ctx.FindSourceGroup("music") != g1 {
		t.Fatalf("FindSourceGroup did not return the created group")
	}
}

// TestSourceGroupSetParentGroupRejectsCycle proves SetParentGroup refuses to
// make a group its own ancestor, directly or transitively.
func TestSourceGroupSetParentGroupRejectsCycle(t *testing.T) {
	ctx, _ := newTestContext(t)

	root, _ := ctx.CreateSourceGroup("root")
	child, _ := ctx.CreateSourceGroup("child")
	grandchild, _ := ctx.CreateSourceGroup("grandchild")

	if err := child.SetParentGroup(root); err != nil {
		t.Fatalf("child->root: %v", err)
	}
	if err := grandchild.SetParentGroup(child); err != nil {
		t.Fatalf("grandchild->child: %v", err)
	}

	if err := root.SetParentGroup(root); !isCycleErr(err) {
		t.Fatalf("expected ErrCycle for self-parent, got %v", err)
	}
	if err := root.SetParentGroup(grandchild); !isCycleErr(err) {
		t.Fatalf("expected ErrCycle for root->grandchild (would create a cycle), got %v", err)
	}
}

func isCycleErr(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindCycle
}

// TestSourceGroupGainPitchAccumulateMultiplicatively proves EffectiveGain and
// EffectivePitch multiply up the full parent chain.
func TestSourceGroupGainPitchAccumulateMultiplicatively(t *testing.T) {
	ctx, _ := newTestContext(t)

	root, _ := ctx.CreateSourceGroup("root")
	mid, _ := ctx.CreateSourceGroup("mid")
	leaf, _ := ctx.CreateSourceGroup("leaf")

	if err := mid.SetParentGroup(root); err != nil {
		t.Fatalf("mid->root: %v", err)
	}
	if err := leaf.SetParentGroup(mid); err != nil {
		t.Fatalf("leaf->mid: %v", err)
	}

	root.SetGain(0.5)
	mid.SetGain(0.5)
	leaf.SetGain(0.5)
	if got, want := leaf.EffectiveGain(), float32(0.125); got != want {
		t.Fatalf("EffectiveGain() = %v, want %v", got, want)
	}

	root.SetPitch(2)
	mid.SetPitch(1.5)
	leaf.SetPitch(1)
	if got, want := leaf.EffectivePitch(), float32(3); got != want {
		t.Fatalf("EffectivePitch() = %v, want %v", got, want)
	}

	// An ancestor's EffectiveGain is unaffected by its descendants' gains.
	if got, want := root.EffectiveGain(), float32(0.5); got != want {
		t.Fatalf("root EffectiveGain() = %v, want %v", got, want)
	}
}

// TestSourceGroupMembersIncludesSubGroupsTransitively proves members()
// collects Sources from nested sub-groups, exercised by StopAll.
func TestSourceGroupMembersIncludesSubGroupsTransitively(t *testing.T) {
	ctx, _ := newTestContext(t)

	parent, _ := ctx.CreateSourceGroup("parent")
	child, _ := ctx.CreateSourceGroup("child")
	if err := child.SetParentGroup(parent); err != nil {
		t.Fatalf("child->parent: %v", err)
	}

	src, buf := mustPlayBuffer(t, ctx, "group.wav")
	src.SetGroup(child)
	if err := src.Play(buf); err != nil {
		t.Fatalf("Play: %v", err)
	}

	members := parent.members()
	if len(members) != 1 || members[0] != src {
		t.Fatalf("expected parent.members() to include src via child, got %v", members)
	}

	parent.StopAll()
	if src.IsPlaying() {
		t.Fatalf("expected StopAll to have stopped src through the sub-group")
	}
}

// TestSourceGroupGainCommitsToPlayingSourceBackendGain proves a group's gain
// multiplier reaches a played Source's actually-committed backend gain, not
// just EffectiveGain() in isolation, per spec.md §4.4's commit-time
// multiplicative accumulation rule.
func TestSourceGroupGainCommitsToPlayingSourceBackendGain(t *testing.T) {
	ctx, be := newTestContext(t)

	music, _ := ctx.CreateSourceGroup("music")
	src, buf := mustPlayBuffer(t, ctx, "groupgain.wav")
	src.SetGroup(music)
	src.SetGain(0.5)
	if err := src.Play(buf); err != nil {
		t.Fatalf("Play: %v", err)
	}

	src.mu.Lock()
	voice := src.voice
	src.mu.Unlock()

	gain, ok := be.SourceGain(voice)
	if !ok {
		t.Fatalf("expected voice to report a gain")
	}
	if got, want := gain, float32(0.5); got != want {
		t.Fatalf("backend gain = %v, want %v (group gain 1 * source gain 0.5)", got, want)
	}

	music.SetGain(0.4)
	gain, ok = be.SourceGain(voice)
	if !ok {
		t.Fatalf("expected voice to still report a gain")
	}
	if got, want := gain, float32(0.2); got != want {
		t.Fatalf("backend gain after group.SetGain(0.4) = %v, want %v (0.4*0.5)", got, want)
	}
}

// TestSourceGroupStopAllDispatchesForceStopped proves StopAll notifies the
// handler for each Source it actually stops — and only once per Source —
// matching spec.md §4.4's "stopAll dispatches sourceForceStopped for each
// stopped child."
func TestSourceGroupStopAllDispatchesForceStopped(t *testing.T) {
	rec := &forceStoppedRecorder{}
	ctx, _ := newLimitedTestContext(t, 0, rec)

	parent, _ := ctx.CreateSourceGroup("parent")
	child, _ := ctx.CreateSourceGroup("child")
	if err := child.SetParentGroup(parent); err != nil {
		t.Fatalf("child->parent: %v", err)
	}

	src, buf := mustPlayBuffer(t, ctx, "stopall.wav")
	src.SetGroup(child)
	if err := src.Play(buf); err != nil {
		t.Fatalf("Play: %v", err)
	}

	parent.StopAll()

	if src.IsPlaying() {
		t.Fatalf("expected src to be stopped")
	}
	if len(rec.stopped) != 1 || rec.stopped[0] != src {
		t.Fatalf("expected SourceForceStopped(src) exactly once, got %v", rec.stopped)
	}

	parent.StopAll()
	if len(rec.stopped) != 1 {
		t.Fatalf("expected no additional SourceForceStopped dispatch for an already-detached member, got %v", rec.stopped)
	}
}

// TestSourceGroupSourcesAndSubGroupsReturnDirectChildrenOnly proves
// Sources()/SubGroups() return only direct members, distinct from the
// private transitive members() the bulk operations use internally, per
// spec.md §4.4's "getSources()/getSubGroups() return consistent snapshots."
func TestSourceGroupSourcesAndSubGroupsReturnDirectChildrenOnly(t *testing.T) {
	ctx, _ := newTestContext(t)

	parent, _ := ctx.CreateSourceGroup("parent2")
	child, _ := ctx.CreateSourceGroup("child2")
	if err := child.SetParentGroup(parent); err != nil {
		t.Fatalf("child->parent: %v", err)
	}

	src, buf := mustPlayBuffer(t, ctx, "direct.wav")
	src.SetGroup(child)
	if err := src.Play(buf); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if got := parent.Sources(); len(got) != 0 {
		t.Fatalf("expected parent.Sources() to be empty (src belongs to child), got %v", got)
	}
	if got := child.Sources(); len(got) != 1 || got[0] != src {
		t.Fatalf("expected child.Sources() == [src], got %v", got)
	}
	if got := parent.SubGroups(); len(got) != 1 || got[0] != child {
		t.Fatalf("expected parent.SubGroups() == [child], got %v", got)
	}
	if got := child.SubGroups(); len(got) != 0 {
		t.Fatalf("expected child.SubGroups() to be empty, got %v", got)
	}
}

// TestSourceGroupDestroyDetachesMembersNotDestroysThem proves Destroy only
// severs the group relationship, leaving member Sources intact.
func TestSourceGroupDestroyDetachesMembersNotDestroysThem(t *testing.T) {
	ctx, _ := newTestContext(t)

	g, _ := ctx.CreateSourceGroup("transient")
	src, buf := mustPlayBuffer(t, ctx, "detach.wav")
	src.SetGroup(g)
	if err := src.Play(buf); err != nil {
		t.Fatalf("Play: %v", err)
	}

	g.Destroy()

	if src.Group() != nil {
		t.Fatalf("expected src to be detached from destroyed group")
	}
	if !src.IsPlaying() {
		t.Fatalf("expected src to still be playing after its group was destroyed")
	}
	if ctx.FindSourceGroup("transient") != nil {
		t.Fatalf("expected destroyed group to be removed from the context's index")
	}
}
