// Package vorbis adapts github.com/jfreymuth/oggvorbis into the
// decoder.Decoder contract. oggvorbis decodes directly to interleaved
// float32 PCM, so this decoder's native SampleType is atypes.Float32 rather
// than widening to int16 like the other built-ins. API shape grounded on
// other_examples/ik5-audpbx/formats/vorbis/decoder.go.
package vorbis

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/jfreymuth/oggvorbis"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/decoder"
	"github.com/drgolem/spatialaudio/pkg/fileio"
)

func init() {
	decoder.RegisterBuiltin("vorbis", factory{})
}

type factory struct{}

func (factory) CreateDecoder(stream fileio.ByteStream) (decoder.Decoder, error) {
	r, err := oggvorbis.NewReader(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: vorbis: %v", decoder.ErrUnrecognized, err)
	}

	chans := atypes.Mono
	if r.Channels() >= 2 {
		chans = atypes.Stereo
	}

	return &Decoder{
		stream:   stream,
		reader:   r,
		rate:     r.SampleRate(),
		channels: chans,
		numChans: r.Channels(),
	}, nil
}

// Decoder implements decoder.Decoder over an oggvorbis.Reader.
type Decoder struct {
	stream   fileio.ByteStream
	reader   *oggvorbis.Reader
	rate     int
	channels atypes.ChannelConfig
	numChans int
	scratch  []float32
}

func (d *Decoder) Frequency() int                { return d.rate }
func (d *Decoder) Channels() atypes.ChannelConfig { return d.channels }
func (d *Decoder) SampleType() atypes.SampleType  { return atypes.Float32 }
func (d *Decoder) Length() int                    { return 0 }
func (d *Decoder) LoopPoints() (start, end int)   { return 0, 0 }

func (d *Decoder) Seek(frame int) error {
	if err := d.reader.SetPosition(int64(frame)); err != nil {
		return fmt.Errorf("vorbis: seek: %w", err)
	}
	return nil
}

func (d *Decoder) Read(buf []byte) (int, error) {
	frameSize := 4 * d.numChans
	maxFrames := len(buf) / frameSize
	if maxFrames == 0 {
		return 0, nil
	}

	needed := maxFrames * d.numChans
	if cap(d.scratch) < needed {
		d.scratch = make([]float32, needed)
	}
	scratch := d.scratch[:needed]

	n, err := d.reader.Read(scratch)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}

	frames := n / d.numChans
	for i := 0; i < frames*d.numChans; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(scratch[i]))
	}

	if err == io.EOF {
		return frames, nil
	}
	return frames, err
}

func (d *Decoder) Close() error {
	return d.stream.Close()
}
