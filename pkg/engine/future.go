package engine

import "sync"

// Future is Go's answer to alure2's SharedFuture<Buffer>: a channel plus a
// cached result, so Get() can be called any number of times from any
// number of goroutines and always replay the same outcome. The buffer
// cache's async load path produces one of these per name.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result *Buffer
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(buf *Buffer, err error) {
	f.once.Do(func() {
		f.result, f.err = buf, err
		close(f.done)
	})
}

// Get blocks until the async load finishes and returns its outcome. Safe
// to call multiple times.
func (f *Future) Get() (*Buffer, error) {
	<-f.done
	return f.result, f.err
}

// Done reports whether the future has completed without blocking, mirroring
// SharedFuture::wait_for(0).
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
