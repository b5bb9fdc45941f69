package pendingqueue

import "testing"

func TestQueuePushPopRoundTrip(t *testing.T) {
	q := New(4)
	rec := Record{Name: "explosion.wav", BufferID: 7, FrameCount: 4096}

	if err := q.Push(rec); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	got, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop failed: %v", err)
	}
	if got != rec {
		t.Errorf("Pop: got %+v, want %+v", got, rec)
	}
}

func TestQueuePopEmpty(t *testing.T) {
	q := New(4)
	if _, err := q.Pop(); err != ErrInsufficientData {
		t.Errorf("Pop: got %v, want ErrInsufficientData", err)
	}
}

func TestQueuePushFull(t *testing.T) {
	q := New(2) // rounds to 2
	if err := q.Push(Record{Name: "a"}); err != nil {
		t.Fatalf("Push 1 failed: %v", err)
	}
	if err := q.Push(Record{Name: "b"}); err != nil {
		t.Fatalf("Push 2 failed: %v", err)
	}
	if err := q.Push(Record{Name: "c"}); err != ErrInsufficientSpace {
		t.Errorf("Push 3: got %v, want ErrInsufficientSpace", err)
	}
}

func TestQueueSizeRoundedToPowerOf2(t *testing.T) {
	q := New(10)
	if q.Size() != 16 {
		t.Errorf("Size: got %d, want 16", q.Size())
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	q := New(8)
	names := []string{"a", "b", "c"}
	for _, n := range names {
		if err := q.Push(Record{Name: n}); err != nil {
			t.Fatalf("Push(%s) failed: %v", n, err)
		}
	}
	for _, want := range names {
		got, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop failed: %v", err)
		}
		if got.Name != want {
			t.Errorf("Pop order: got %q, want %q", got.Name, want)
		}
	}
}
