// Package decoder defines the abstract lazy sample-frame producer contract
// every concrete audio format plugs into, and the ordered registry the
// buffer cache and streaming sources use to pick one for a given name.
// Grounded on Context::createDecoder/RegisterDecoder/UnregisterDecoder in
// original_source/src/context.cpp and generalized from the teacher's
// pkg/decoders/factory.go extension switch.
package decoder

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/fileio"
)

// Decoder is an abstract, lazy sample-frame producer with seek and
// loop-point metadata, per spec.md §6.
type Decoder interface {
	// Frequency returns the sample rate in Hz.
	Frequency() int
	// Channels returns the decoded channel layout.
	Channels() atypes.ChannelConfig
	// SampleType returns the decoded sample encoding.
	SampleType() atypes.SampleType
	// Length returns the total length in sample frames, or 0 if unknown
	// (streaming sources with no fixed length).
	Length() int
	// LoopPoints returns the [start, end) frame range to loop, or (0, 0)
	// if the format carries none.
	LoopPoints() (start, end int)
	// Seek repositions the decoder to the given frame offset.
	Seek(frame int) error
	// Read decodes into buf, returning the number of frames written.
	// Returns io.EOF once no more frames remain.
	Read(buf []byte) (frames int, err error)
	// Close releases any resources (open file handles, native decoder
	// state) held by the decoder.
	Close() error
}

// Factory probes a stream and, if it recognizes the format, returns an
// opened Decoder for it. A factory that doesn't recognize the stream
// returns ErrUnrecognized so the chain can try the next one.
type Factory interface {
	CreateDecoder(stream fileio.ByteStream) (Decoder, error)
}

// ErrUnrecognized is returned by a Factory when the stream doesn't match
// its format.
var ErrUnrecognized = fmt.Errorf("decoder: format not recognized")

type namedFactory struct {
	name string
	f    Factory
}

var (
	mu        sync.RWMutex
	userChain []namedFactory
	builtins  []namedFactory
)

// Register adds a user-supplied factory under name, tried before the
// built-ins in lexicographic order by name, per spec.md §4.2's "user-
// registered factories (lexicographic by registration name) first". It
// returns an unregister function.
func Register(name string, f Factory) (unregister func()) {
	mu.Lock()
	userChain = append(userChain, namedFactory{name: name, f: f})
	sort.Slice(userChain, func(i, j int) bool { return userChain[i].name < userChain[j].name })
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		for i, nf := range userChain {
			if nf.name == name && nf.f == f {
				userChain = append(userChain[:i], userChain[i+1:]...)
				return
			}
		}
	}
}

// RegisterBuiltin is called from each decoder subpackage's init() to join
// the fixed built-in sequence: WAV, FLAC, Vorbis, Opus, MP3, matching
// sDefaultDecoders in original_source/src/context.cpp (wave always first).
// It is exported for use by the decoder/* subpackages only; application
// code should use Register instead.
// builtinOrder fixes the built-in decoder chain order regardless of package
// init() ordering (which Go does not guarantee across independent imports).
var builtinOrder = map[string]int{
	"wav":    0,
	"flac":   1,
	"vorbis": 2,
	"opus":   3,
	"mp3":    4,
}

func RegisterBuiltin(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	builtins = append(builtins, namedFactory{name: name, f: f})
	sort.Slice(builtins, func(i, j int) bool {
		return builtinOrder[builtins[i].name] < builtinOrder[builtins[j].name]
	})
}

// Open tries the user-registered chain, then the built-in sequence, and
// returns the first Decoder to successfully recognize stream. If none do,
// it returns the last ErrUnrecognized (or a wrapped I/O error if a factory
// failed for a reason other than format mismatch).
func Open(stream fileio.ByteStream) (Decoder, error) {
	mu.RLock()
	chain := make([]namedFactory, 0, len(userChain)+len(builtins))
	chain = append(chain, userChain...)
	chain = append(chain, builtins...)
	mu.RUnlock()

	var lastErr error
	for _, nf := range chain {
		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("decoder: rewind stream: %w", err)
		}
		dec, err := nf.f.CreateDecoder(stream)
		if err == nil {
			return dec, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrUnrecognized
	}
	return nil, fmt.Errorf("decoder: no factory recognized stream: %w", lastErr)
}
