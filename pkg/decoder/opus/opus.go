// Package opus adapts github.com/drgolem/go-opus into the decoder.Decoder
// contract. go-opus is not exercised anywhere in the retrieved example
// pack (it appears only as an indirect go.mod entry); its API is inferred
// from its sibling package by the same author, github.com/drgolem/go-flac
// (Open(fileName)/GetFormat()/DecodeSamples()/Close()/Delete()) — recorded
// as an inference, not a directly grounded call site, in DESIGN.md.
package opus

import (
	"fmt"

	goopus "github.com/drgolem/go-opus/opus"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/decoder"
	"github.com/drgolem/spatialaudio/pkg/fileio"
)

func init() {
	decoder.RegisterBuiltin("opus", factory{})
}

type factory struct{}

func (factory) CreateDecoder(stream fileio.ByteStream) (decoder.Decoder, error) {
	name := stream.Name()
	if name == "" {
		return nil, fmt.Errorf("%w: opus: requires a named file", decoder.ErrUnrecognized)
	}

	dec, err := goopus.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	if err := dec.Open(name); err != nil {
		dec.Delete()
		return nil, fmt.Errorf("%w: opus: %v", decoder.ErrUnrecognized, err)
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

// Decoder implements decoder.Decoder over a go-opus Decoder.
type Decoder struct {
	stream   fileio.ByteStream
	decoder  *goopus.Decoder
	rate     int
	channels atypes.ChannelConfig
	bps      int
}

func (d *Decoder) Frequency() int                { return d.rate }
func (d *Decoder) Channels() atypes.ChannelConfig { return d.channels }
func (d *Decoder) SampleType() atypes.SampleType  { return atypes.Int16 }
func (d *Decoder) Length() int                    { return 0 }
func (d *Decoder) LoopPoints() (start, end int)   { return 0, 0 }

func (d *Decoder) Seek(frame int) error {
	return fmt.Errorf("opus: seek not supported")
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
