// Package fileio provides the pluggable file-opening abstraction the buffer
// cache and decoder chain use to turn a name into bytes, grounded on
// alure2's FileIOFactory/DefaultFileIOFactory (context.cpp) and the
// teacher's read pattern in pkg/decoders/wav/wav.go (os.Open + io.Reader).
package fileio

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/drgolem/spatialaudio/pkg/ringbuffer"
)

// ByteStream is the abstract byte source a Decoder reads from. Most
// decoders (wav, mp3, vorbis) only need io.ReadSeeker; decoders backed by
// libraries with a filename-only API (flac, opus) use Name() to reopen the
// file directly.
type ByteStream interface {
	io.ReadSeeker
	io.Closer
	// Name returns the path this stream was opened from, or "" if the
	// stream has no backing file (e.g. an in-memory or network source).
	Name() string
}

// FileIOFactory opens a ByteStream by name. Implementations are swappable
// via SetFactory, matching Context::setDefaultIOFactory in original_source.
type FileIOFactory interface {
	OpenFile(name string) (ByteStream, error)
}

var (
	mu      sync.RWMutex
	current FileIOFactory = DefaultFileIOFactory{}
)

// SetFactory replaces the process-wide default file I/O factory, returning
// the previous one so callers can restore it.
func SetFactory(f FileIOFactory) FileIOFactory {
	mu.Lock()
	defer mu.Unlock()
	prev := current
	current = f
	return prev
}

// Factory returns the currently installed FileIOFactory.
func Factory() FileIOFactory {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Open is a convenience wrapper around Factory().OpenFile.
func Open(name string) (ByteStream, error) {
	return Factory().OpenFile(name)
}

// DefaultFileIOFactory wraps os.Open directly. It is a thin, zero-value
// implementation; the read-ahead buffering lives in readAheadStream below
// and is opt-in via NewReadAheadFactory, since most decoders (go-wav,
// go-mp3, oggvorbis) already do their own internal buffering over the
// io.Reader they're handed.
type DefaultFileIOFactory struct{}

func (DefaultFileIOFactory) OpenFile(name string) (ByteStream, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("fileio: open %s: %w", name, err)
	}
	return &osStream{File: f, name: name}, nil
}

type osStream struct {
	*os.File
	name string
}

func (s *osStream) Name() string { return s.name }

// ReadAheadFactory wraps another factory's streams with a read-ahead
// ringbuffer.RingBuffer, grounded on pkg/ringbuffer's zero-copy
// ReadSlices/Consume pair. Sequential reads are served from the ring;
// every Seek drops the ring's contents and repositions the underlying
// stream, so no Seek is served from the buffered window.
type ReadAheadFactory struct {
	Inner     FileIOFactory
	WindowLen uint64
}

// NewReadAheadFactory wraps inner with a read-ahead window of windowLen
// bytes (rounded up to a power of 2 by the ring buffer).
func NewReadAheadFactory(inner FileIOFactory, windowLen uint64) *ReadAheadFactory {
	return &ReadAheadFactory{Inner: inner, WindowLen: windowLen}
}

func (f *ReadAheadFactory) OpenFile(name string) (ByteStream, error) {
	inner, err := f.Inner.OpenFile(name)
	if err != nil {
		return nil, err
	}
	return &readAheadStream{inner: inner, ring: ringbuffer.New(f.WindowLen)}, nil
}

type readAheadStream struct {
	inner ByteStream
	ring  *ringbuffer.RingBuffer
}

func (s *readAheadStream) Name() string { return s.inner.Name() }
func (s *readAheadStream) Close() error { return s.inner.Close() }

func (s *readAheadStream) Seek(offset int64, whence int) (int64, error) {
	if whence == io.SeekCurrent {
		offset -= int64(s.ring.AvailableRead())
	}
	s.ring.Reset()
	return s.inner.Seek(offset, whence)
}

func (s *readAheadStream) Read(p []byte) (int, error) {
	if s.ring.AvailableRead() == 0 {
		s.refill()
	}
	n, err := s.ring.Read(p)
	if err == ringbuffer.ErrInsufficientData {
		return s.inner.Read(p)
	}
	return n, err
}

func (s *readAheadStream) refill() {
	buf := make([]byte, s.ring.AvailableWrite())
	if len(buf) == 0 {
		return
	}
	n, _ := s.inner.Read(buf)
	if n > 0 {
		s.ring.Write(buf[:n])
	}
}
