package decoder

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/fileio"
)

// memStream is a minimal fileio.ByteStream backed by an in-memory byte
// slice, standing in for a real file in decoder chain tests.
type memStream struct {
	*bytes.Reader
	name string
}

func newMemStream(name string, data []byte) *memStream {
	return &memStream{Reader: bytes.NewReader(data), name: name}
}

func (m *memStream) Close() error   { return nil }
func (m *memStream) Name() string   { return m.name }

var _ fileio.ByteStream = (*memStream)(nil)

// stubFactory recognizes a stream iff its first byte equals want, used to
// probe Open's try-in-order behavior without a real codec.
type stubFactory struct {
	want byte
	dec  Decoder
}

func (f stubFactory) CreateDecoder(stream fileio.ByteStream) (Decoder, error) {
	var hdr [1]byte
	if _, err := stream.Read(hdr[:]); err != nil {
		return nil, ErrUnrecognized
	}
	if hdr[0] != f.want {
		return nil, ErrUnrecognized
	}
	return f.dec, nil
}

func TestRegisterUserFactoryTriedBeforeBuiltins(t *testing.T) {
	matchDec := &fakeDecoder{}
	unregister := Register("zzz-user", stubFactory{want: 'X', dec: matchDec})
	defer unregister()

	stream := newMemStream("probe", []byte{'X', 0, 0})
	dec, err := Open(stream)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if dec != matchDec {
		t.Fatalf("expected the user-registered factory's decoder to win")
	}
}

func TestRegisterChainIsLexicographicByName(t *testing.T) {
	first := &fakeDecoder{tag: "a"}
	second := &fakeDecoder{tag: "b"}
	// Both factories recognize the same byte; registration order is
	// reversed from name order to prove sorting, not insertion order, wins.
	unregB := Register("user-b", stubFactory{want: 'Y', dec: second})
	unregA := Register("user-a", stubFactory{want: 'Y', dec: first})
	defer unregB()
	defer unregA()

	stream := newMemStream("probe", []byte{'Y', 0, 0})
	dec, err := Open(stream)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if dec != first {
		t.Fatalf("expected user-a (lexicographically first) to win, got %v", dec)
	}
}

func TestOpenReturnsErrUnrecognizedWhenNoFactoryMatches(t *testing.T) {
	unregister := Register("user-none", stubFactory{want: 'Z', dec: &fakeDecoder{}})
	defer unregister()

	stream := newMemStream("probe", []byte{'Q', 0, 0})
	_, err := Open(stream)
	if err == nil {
		t.Fatalf("expected an error when no factory recognizes the stream")
	}
	if !errors.Is(err, ErrUnrecognized) {
		t.Fatalf("expected error to wrap ErrUnrecognized, got %v", err)
	}
}

func TestRegisterUnregisterRemovesFactory(t *testing.T) {
	unregister := Register("transient", stubFactory{want: 'W', dec: &fakeDecoder{}})
	unregister()

	stream := newMemStream("probe", []byte{'W', 0, 0})
	_, err := Open(stream)
	if !errors.Is(err, ErrUnrecognized) {
		t.Fatalf("expected unregistered factory to no longer participate, got %v", err)
	}
}

// fakeDecoder satisfies Decoder minimally; only identity (pointer equality)
// matters to the tests above.
type fakeDecoder struct{ tag string }

func (*fakeDecoder) Frequency() int                     { return 44100 }
func (*fakeDecoder) Channels() atypes.ChannelConfig     { return atypes.Mono }
func (*fakeDecoder) SampleType() atypes.SampleType      { return atypes.Int16 }
func (*fakeDecoder) Length() int                        { return 0 }
func (*fakeDecoder) LoopPoints() (int, int)             { return 0, 0 }
func (*fakeDecoder) Seek(frame int) error               { return nil }
func (*fakeDecoder) Read(buf []byte) (int, error)       { return 0, io.EOF }
func (*fakeDecoder) Close() error                       { return nil }

var _ Decoder = (*fakeDecoder)(nil)
