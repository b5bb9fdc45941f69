package engine

// MessageHandler receives lifecycle notifications the core would otherwise
// swallow silently, per spec.md §6. DefaultMessageHandler gives every
// method a no-op body so partial implementers can embed it, the Go idiom
// standing in for C++ virtual default bodies.
type MessageHandler interface {
	// DeviceDisconnected fires on IsConnected's falling edge during
	// Context.Update, per the SUPPLEMENTED FEATURES section.
	DeviceDisconnected()
	// SourceStopped fires when a Source stops on its own without an
	// application-initiated Stop/Destroy/StopAll: from update(), which polls
	// the backend for natural end-of-buffer, and from the worker's
	// updateAsync when a stream has drained.
	SourceStopped(src *Source)
	// SourceForceStopped fires when the source pool evicts a lower
	// priority playing Source to satisfy a higher priority request, or
	// when a SourceGroup's StopAll stops a child on the application's
	// behalf.
	SourceForceStopped(src *Source)
	// BufferLoading fires with the fully decoded PCM bytes just before
	// backend upload, letting a handler inspect or mutate the data.
	BufferLoading(name string, chans int, sampleType int, freq int, data []byte)
	// BufferLoadFailed fires when a synchronous or asynchronous decode
	// fails.
	BufferLoadFailed(name string, err error)
	// SourceStreamUnderrun fires when a streaming Source's backend queue
	// starves — the decoder is producing frames slower than playback
	// consumes them.
	SourceStreamUnderrun(src *Source)
	// ResourceNotFound is consulted by the decoder chain whenever name
	// can't be opened or no factory recognizes it; returning a non-empty
	// name substitutes it and retries, returning "" terminates the load
	// with a not-found error. The cache key stays the originally requested
	// name regardless of how many substitutions occur.
	ResourceNotFound(name string) string
}

// DefaultMessageHandler implements MessageHandler with no-op bodies.
// Embed it and override only the callbacks you need.
type DefaultMessageHandler struct{}

func (DefaultMessageHandler) DeviceDisconnected()       {}
func (DefaultMessageHandler) SourceStopped(src *Source) {}
func (DefaultMessageHandler) SourceForceStopped(src *Source) {}
func (DefaultMessageHandler) BufferLoading(name string, chans int, sampleType int, freq int, data []byte) {
}
func (DefaultMessageHandler) BufferLoadFailed(name string, err error) {}
func (DefaultMessageHandler) SourceStreamUnderrun(src *Source)        {}
func (DefaultMessageHandler) ResourceNotFound(name string) string     { return "" }

var _ MessageHandler = DefaultMessageHandler{}
