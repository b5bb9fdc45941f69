package ringbuffer

import (
	"bytes"
	"testing"
)

func TestRingBufferWriteReadRoundTrip(t *testing.T) {
	rb := New(16)

	data := []byte("hello world")
	n, err := rb.Write(data)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("Write n: got %d, want %d", n, len(data))
	}

	out := make([]byte, len(data))
	n, err = rb.Read(out)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("Read n: got %d, want %d", n, len(data))
	}
	if !bytes.Equal(out, data) {
		t.Errorf("Read data: got %q, want %q", out, data)
	}
}

func TestRingBufferSizeRoundedToPowerOf2(t *testing.T) {
	rb := New(10)
	if rb.Size() != 16 {
		t.Errorf("Size: got %d, want 16", rb.Size())
	}
}

func TestRingBufferWriteInsufficientSpace(t *testing.T) {
	rb := New(8)
	if _, err := rb.Write(make([]byte, 9)); err != ErrInsufficientSpace {
		t.Errorf("Write: got %v, want ErrInsufficientSpace", err)
	}
}

func TestRingBufferReadEmpty(t *testing.T) {
	rb := New(8)
	if _, err := rb.Read(make([]byte, 1)); err != ErrInsufficientData {
		t.Errorf("Read: got %v, want ErrInsufficientData", err)
	}
}

func TestRingBufferWrapAround(t *testing.T) {
	rb := New(8)
	rb.Write([]byte{1, 2, 3, 4, 5, 6})
	out := make([]byte, 6)
	rb.Read(out)

	rb.Write([]byte{7, 8, 9, 10, 11, 12})
	out2 := make([]byte, 6)
	n, err := rb.Read(out2)
	if err != nil {
		t.Fatalf("Read after wrap failed: %v", err)
	}
	want := []byte{7, 8, 9, 10, 11, 12}
	if !bytes.Equal(out2[:n], want) {
		t.Errorf("Read after wrap: got %v, want %v", out2[:n], want)
	}
}

func TestRingBufferReadSlicesAndConsume(t *testing.T) {
	rb := New(8)
	rb.Write([]byte{1, 2, 3, 4, 5, 6})
	out := make([]byte, 4)
	rb.Read(out)
	rb.Write([]byte{7, 8, 9, 10})

	first, second, total := rb.ReadSlices()
	if total != 6 {
		t.Fatalf("ReadSlices total: got %d, want 6", total)
	}
	combined := append(append([]byte{}, first...), second...)
	want := []byte{5, 6, 7, 8, 9, 10}
	if !bytes.Equal(combined, want) {
		t.Errorf("ReadSlices: got %v, want %v", combined, want)
	}

	if err := rb.Consume(total); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if rb.AvailableRead() != 0 {
		t.Errorf("AvailableRead after Consume: got %d, want 0", rb.AvailableRead())
	}
}
