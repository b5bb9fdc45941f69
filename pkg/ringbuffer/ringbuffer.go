// Package ringbuffer provides a lock-free single-producer single-consumer
// byte ring buffer, used as the read-ahead buffer in pkg/fileio and as the
// per-voice PCM buffer in pkg/backend/portaudio.
package ringbuffer

import (
	"errors"
	"sync/atomic"
)

// ErrInsufficientSpace indicates the ring buffer doesn't have enough space
// for the write operation.
var ErrInsufficientSpace = errors.New("ringbuffer: insufficient space")

// ErrInsufficientData indicates the ring buffer doesn't have enough data for
// the read operation.
var ErrInsufficientData = errors.New("ringbuffer: insufficient data")

// RingBuffer is a lock-free single-producer single-consumer ring buffer
// optimized for audio applications with byte data.
//
// RingBuffer implements io.Reader and io.Writer interfaces. Write() must only
// be called by the producer goroutine; Read() must only be called by the
// consumer goroutine.
type RingBuffer struct {
	buffer   []byte
	size     uint64 // must be power of 2
	mask     uint64
	writePos atomic.Uint64
	readPos  atomic.Uint64
}

// New creates a new ring buffer with the given size, rounded up to the next
// power of 2.
func New(size uint64) *RingBuffer {
	size = nextPowerOf2(size)
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
		mask:   size - 1,
	}
}

// Write writes data to the ring buffer, implementing io.Writer. It writes
// all of len(data) bytes or returns ErrInsufficientSpace without writing
// anything.
func (rb *RingBuffer) Write(data []byte) (int, error) {
	dataLen := uint64(len(data))
	if dataLen == 0 {
		return 0, nil
	}

	available := rb.AvailableWrite()
	if dataLen > available {
		return 0, ErrInsufficientSpace
	}

	writePos := rb.writePos.Load()
	start := writePos & rb.mask
	end := (writePos + dataLen) & rb.mask

	if end > start {
		copy(rb.buffer[start:end], data)
	} else {
		firstChunk := rb.size - start
		copy(rb.buffer[start:], data[:firstChunk])
		copy(rb.buffer[:end], data[firstChunk:])
	}

	rb.writePos.Store(writePos + dataLen)
	return int(dataLen), nil
}

// Read reads up to len(data) bytes from the ring buffer, implementing
// io.Reader. If the buffer is empty it returns (0, ErrInsufficientData).
func (rb *RingBuffer) Read(data []byte) (int, error) {
	dataLen := uint64(len(data))
	if dataLen == 0 {
		return 0, nil
	}

	available := rb.AvailableRead()
	if available == 0 {
		return 0, ErrInsufficientData
	}

	toRead := min(dataLen, available)
	readPos := rb.readPos.Load()
	start := readPos & rb.mask
	end := (readPos + toRead) & rb.mask

	if end > start {
		copy(data[:toRead], rb.buffer[start:end])
	} else {
		firstChunk := rb.size - start
		copy(data[:firstChunk], rb.buffer[start:])
		copy(data[firstChunk:toRead], rb.buffer[:end])
	}

	rb.readPos.Store(readPos + toRead)
	return int(toRead), nil
}

// AvailableWrite returns the number of bytes available for writing.
func (rb *RingBuffer) AvailableWrite() uint64 {
	return rb.size - (rb.writePos.Load() - rb.readPos.Load())
}

// AvailableRead returns the number of bytes available for reading.
func (rb *RingBuffer) AvailableRead() uint64 {
	return rb.writePos.Load() - rb.readPos.Load()
}

// Size returns the total size of the ring buffer.
func (rb *RingBuffer) Size() uint64 {
	return rb.size
}

// ReadSlices returns one or two slices giving zero-copy access to the
// available data; the data is split into two slices if it wraps around the
// buffer. Call Consume() after processing to advance the read position.
func (rb *RingBuffer) ReadSlices() (first, second []byte, total uint64) {
	available := rb.AvailableRead()
	if available == 0 {
		return nil, nil, 0
	}

	readPos := rb.readPos.Load()
	start := readPos & rb.mask
	end := (readPos + available) & rb.mask

	if end > start {
		return rb.buffer[start:end], nil, available
	}
	return rb.buffer[start:], rb.buffer[:end], available
}

// PeekContiguous returns the contiguous portion of available data, which may
// be less than the total available data if it wraps around the buffer.
func (rb *RingBuffer) PeekContiguous() []byte {
	available := rb.AvailableRead()
	if available == 0 {
		return nil
	}

	readPos := rb.readPos.Load()
	start := readPos & rb.mask
	end := (readPos + available) & rb.mask

	if end > start {
		return rb.buffer[start:end]
	}
	return rb.buffer[start:]
}

// Consume advances the read position by n bytes without copying data, for
// use after ReadSlices/PeekContiguous.
func (rb *RingBuffer) Consume(n uint64) error {
	if n == 0 {
		return nil
	}
	if n > rb.AvailableRead() {
		return ErrInsufficientData
	}
	rb.readPos.Store(rb.readPos.Load() + n)
	return nil
}

// Reset clears the ring buffer, resetting read and write positions.
func (rb *RingBuffer) Reset() {
	rb.readPos.Store(0)
	rb.writePos.Store(0)
}

func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
