// Package flac adapts github.com/drgolem/go-flac into the decoder.Decoder
// contract. go-flac's FlacDecoder only opens by filename, so this factory
// requires stream.Name() to be non-empty (it fails fileio.ByteStream.Name()
// over a filename-less source with ErrUnrecognized). Grounded on the
// teacher's pkg/decoders/flac/flac.go.
package flac

import (
	"fmt"

	goflac "github.com/drgolem/go-flac/flac"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/decoder"
	"github.com/drgolem/spatialaudio/pkg/fileio"
)

// outputBits is the bit depth go-flac decodes to; 16 matches the teacher's
// default and keeps sample handling uniform with the WAV/MP3 decoders.
const outputBits = 16

func init() {
	decoder.RegisterBuiltin("flac", factory{})
}

type factory struct{}

func (factory) CreateDecoder(stream fileio.ByteStream) (decoder.Decoder, error) {
	name := stream.Name()
	if name == "" {
		return nil, fmt.Errorf("%w: flac: requires a named file", decoder.ErrUnrecognized)
	}

	dec, err := goflac.NewFlacFrameDecoder(outputBits)
	if err != nil {
		return nil, fmt.Errorf("flac: create decoder: %w", err)
	}
	if err := dec.Open(name); err != nil {
		dec.Delete()
		return nil, fmt.Errorf("%w: flac: %v", decoder.ErrUnrecognized, err)
	}

	rate, channels, bps := dec.GetFormat()
	chans := atypes.Mono
	if channels >= 2 {
		chans = atypes.Stereo
	}

	return &Decoder{
		stream:   stream,
		decoder:  dec,
		rate:     rate,
		channels: chans,
		bps:      bps,
	}, nil
}

// Decoder implements decoder.Decoder over a go-flac FlacDecoder.
type Decoder struct {
	stream   fileio.ByteStream
	decoder  *goflac.FlacDecoder
	rate     int
	channels atypes.ChannelConfig
	bps      int
}

func (d *Decoder) Frequency() int                { return d.rate }
func (d *Decoder) Channels() atypes.ChannelConfig { return d.channels }
func (d *Decoder) SampleType() atypes.SampleType  { return atypes.Int16 }
func (d *Decoder) Length() int                    { return 0 }
func (d *Decoder) LoopPoints() (start, end int)   { return 0, 0 }

// Seek is not supported by go-flac's frame decoder; re-opening the file via
// a fresh Decoder is the only option FLAC streaming sources have today.
func (d *Decoder) Seek(frame int) error {
	return fmt.Errorf("flac: seek not supported")
}

func (d *Decoder) Read(buf []byte) (int, error) {
	bytesPerFrame := (d.bps / 8) * d.channels.Channels()
	frames := len(buf) / bytesPerFrame
	n, err := d.decoder.DecodeSamples(frames, buf)
	return n, err
}

func (d *Decoder) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder.Delete()
		d.decoder = nil
	}
	return d.stream.Close()
}
