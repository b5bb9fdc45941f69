// Package mp3 adapts github.com/imcarsen/go-mp3 into the decoder.Decoder
// contract. It replaces the teacher's pkg/decoders/mp3 package, which
// imported github.com/drgolem/go-mpg123/mpg123 — a module never declared in
// the teacher's go.mod. go-mp3 decodes to interleaved
// 16-bit PCM over an io.Reader, the same shape as hajimehoshi/go-mp3 (whose
// usage is grounded in other_examples/ik5-audpbx/formats/mp3/decoder.go).
package mp3

import (
	"fmt"
	"io"

	gomp3 "github.com/imcarsen/go-mp3"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/decoder"
	"github.com/drgolem/spatialaudio/pkg/fileio"
)

func init() {
	decoder.RegisterBuiltin("mp3", factory{})
}

type factory struct{}

func (factory) CreateDecoder(stream fileio.ByteStream) (decoder.Decoder, error) {
	dec, err := gomp3.NewDecoder(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", decoder.ErrUnrecognized, err)
	}
	return &Decoder{
		stream:  stream,
		decoder: dec,
		rate:    dec.SampleRate(),
	}, nil
}

// Decoder implements decoder.Decoder over a go-mp3 Decoder, which always
// produces 16-bit stereo PCM.
type Decoder struct {
	stream  fileio.ByteStream
	decoder *gomp3.Decoder
	rate    int
}

func (d *Decoder) Frequency() int                { return d.rate }
func (d *Decoder) Channels() atypes.ChannelConfig { return atypes.Stereo }
func (d *Decoder) SampleType() atypes.SampleType  { return atypes.Int16 }
func (d *Decoder) Length() int                    { return 0 }
func (d *Decoder) LoopPoints() (start, end int)   { return 0, 0 }

func (d *Decoder) Seek(frame int) error {
	byteOffset := int64(frame) * 4 // stereo, 16-bit
	_, err := d.decoder.Seek(byteOffset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("mp3: seek: %w", err)
	}
	return nil
}

func (d *Decoder) Read(buf []byte) (int, error) {
	n, err := io.ReadFull(d.decoder, buf)
	if n == 0 {
		return 0, err
	}
	frames := n / 4
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return frames, err
}

func (d *Decoder) Close() error {
	return d.stream.Close()
}
