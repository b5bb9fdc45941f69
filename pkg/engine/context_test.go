package engine

import (
	"errors"
	"testing"

	"github.com/drgolem/spatialaudio/pkg/backend/software"
)

func newUncurrentContext(t *testing.T) *Context {
	t.Helper()
	be := software.New()
	dev, err := OpenDevice(be, "")
	if err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	return dev.CreateContext(DefaultContextConfig())
}

func TestRequireCurrentFailsWhenNotCurrent(t *testing.T) {
	ctx := newUncurrentContext(t)
	t.Cleanup(func() { MakeCurrent(nil) })

	_, err := ctx.CreateSource()
	if !errors.Is(err, ErrContextMismatch) {
		t.Fatalf("expected ErrContextMismatch, got %v", err)
	}
}

func TestMakeCurrentSwapsProcessCurrent(t *testing.T) {
	a := newUncurrentContext(t)
	b := newUncurrentContext(t)
	t.Cleanup(func() { MakeCurrent(nil) })

	if err := MakeCurrent(a); err != nil {
		t.Fatalf("MakeCurrent(a): %v", err)
	}
	if GetCurrent() != a {
		t.Fatalf("expected a to be current")
	}
	if _, err := a.CreateSource(); err != nil {
		t.Fatalf("a.CreateSource while current: %v", err)
	}

	if err := MakeCurrent(b); err != nil {
		t.Fatalf("MakeCurrent(b): %v", err)
	}
	if GetCurrent() != b {
		t.Fatalf("expected b to be current")
	}
	if _, err := a.CreateSource(); !errors.Is(err, ErrContextMismatch) {
		t.Fatalf("expected a to no longer be current, got %v", err)
	}
}

// TestThreadCurrentIsIndependentOfProcessCurrent proves a thread-pinned
// current context is honored by requireCurrent even while a different
// context holds the process-wide current slot, per spec.md §4.1's
// thread-local override.
func TestThreadCurrentIsIndependentOfProcessCurrent(t *testing.T) {
	a := newUncurrentContext(t)
	b := newUncurrentContext(t)
	t.Cleanup(func() {
		MakeThreadCurrent(99, nil)
		MakeCurrent(nil)
	})

	if err := MakeCurrent(a); err != nil {
		t.Fatalf("MakeCurrent(a): %v", err)
	}
	if err := MakeThreadCurrent(99, b); err != nil {
		t.Fatalf("MakeThreadCurrent(b): %v", err)
	}

	if _, err := b.CreateSource(); err != nil {
		t.Fatalf("b.CreateSource via thread-current: %v", err)
	}
	if GetThreadCurrent(99) != b {
		t.Fatalf("expected GetThreadCurrent(99) == b")
	}
	if GetCurrent() != a {
		t.Fatalf("expected process-current to remain a")
	}

	if err := MakeThreadCurrent(99, nil); err != nil {
		t.Fatalf("clear thread-current: %v", err)
	}
	if _, err := b.CreateSource(); !errors.Is(err, ErrContextMismatch) {
		t.Fatalf("expected b to no longer be current after clearing thread-current, got %v", err)
	}
}

// TestStartBatchEndBatchCollapseNesting proves nested StartBatch/EndBatch
// pairs only suspend/resume the backend once, per spec.md §4.1.
func TestStartBatchEndBatchCollapseNesting(t *testing.T) {
	ctx, _ := newTestContext(t)

	if err := ctx.StartBatch(); err != nil {
		t.Fatalf("StartBatch (outer): %v", err)
	}
	if err := ctx.StartBatch(); err != nil {
		t.Fatalf("StartBatch (inner): %v", err)
	}
	if ctx.batchDepth != 2 {
		t.Fatalf("expected batchDepth 2, got %d", ctx.batchDepth)
	}

	if err := ctx.EndBatch(); err != nil {
		t.Fatalf("EndBatch (inner): %v", err)
	}
	if ctx.batchDepth != 1 {
		t.Fatalf("expected batchDepth 1 after one EndBatch, got %d", ctx.batchDepth)
	}

	if err := ctx.EndBatch(); err != nil {
		t.Fatalf("EndBatch (outer): %v", err)
	}
	if ctx.batchDepth != 0 {
		t.Fatalf("expected batchDepth 0, got %d", ctx.batchDepth)
	}
}

// TestDestroyRefusesWhileBuffersPresent proves a Context with any cached
// Buffer still present refuses to Destroy, per spec.md §4.1's "no resources
// outstanding" precondition.
func TestDestroyRefusesWhileBuffersPresent(t *testing.T) {
	ctx, _ := newTestContext(t)
	dir := t.TempDir()
	path := writeTestWAV(t, dir, "pinned.wav")
	if _, err := ctx.GetBuffer(path); err != nil {
		t.Fatalf("GetBuffer: %v", err)
	}
	if err := MakeCurrent(nil); err != nil {
		t.Fatalf("MakeCurrent(nil): %v", err)
	}

	if err := ctx.Destroy(); !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse while a buffer is cached, got %v", err)
	}

	if err := ctx.RemoveBuffer(path); err != nil {
		t.Fatalf("RemoveBuffer: %v", err)
	}
	if err := ctx.Destroy(); err != nil {
		t.Fatalf("Destroy after cleanup: %v", err)
	}
}
