// Package wav adapts github.com/youpy/go-wav into the decoder.Decoder
// contract, the built-in WAV factory tried first in the decoder chain.
// Grounded on the teacher's pkg/decoders/wav/wav.go.
package wav

import (
	"fmt"
	"io"

	"github.com/youpy/go-wav"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/decoder"
	"github.com/drgolem/spatialaudio/pkg/fileio"
)

func init() {
	decoder.RegisterBuiltin("wav", factory{})
}

type factory struct{}

func (factory) CreateDecoder(stream fileio.ByteStream) (decoder.Decoder, error) {
	reader := wav.NewReader(stream)
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", decoder.ErrUnrecognized, err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		return nil, fmt.Errorf("%w: wav: unsupported AudioFormat %d", decoder.ErrUnrecognized, format.AudioFormat)
	}

	chans := atypes.Mono
	if format.NumChannels >= 2 {
		chans = atypes.Stereo
	}
	sampleType := atypes.Int16
	switch format.BitsPerSample {
	case 8:
		sampleType = atypes.UInt8
	case 16:
		sampleType = atypes.Int16
	case 24, 32:
		sampleType = atypes.Int16 // reduced to 16 bits on decode, see Read
	}

	return &Decoder{
		stream:     stream,
		reader:     reader,
		rate:       int(format.SampleRate),
		channels:   chans,
		numChans:   int(format.NumChannels),
		bps:        int(format.BitsPerSample),
		sampleType: sampleType,
	}, nil
}

// Decoder implements decoder.Decoder over a go-wav reader.
type Decoder struct {
	stream     fileio.ByteStream
	reader     *wav.Reader
	rate       int
	channels   atypes.ChannelConfig
	numChans   int
	bps        int
	sampleType atypes.SampleType
}

func (d *Decoder) Frequency() int                   { return d.rate }
func (d *Decoder) Channels() atypes.ChannelConfig    { return d.channels }
func (d *Decoder) SampleType() atypes.SampleType     { return d.sampleType }
func (d *Decoder) Length() int                       { return 0 } // go-wav exposes no frame count up front
func (d *Decoder) LoopPoints() (start, end int)      { return 0, 0 }

func (d *Decoder) Seek(frame int) error {
	_, err := d.stream.Seek(0, io.SeekStart)
	if err != nil {
		return fmt.Errorf("wav: seek: %w", err)
	}
	d.reader = wav.NewReader(d.stream)
	if _, err := d.reader.Format(); err != nil {
		return fmt.Errorf("wav: reread format after seek: %w", err)
	}
	for i := 0; i < frame; i++ {
		if _, err := d.reader.ReadSamples(1); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) Read(buf []byte) (int, error) {
	bytesPerSample := d.sampleType.Size()
	frameSize := bytesPerSample * d.numChans
	maxFrames := len(buf) / frameSize
	total := 0

	for total < maxFrames {
		samples, err := d.reader.ReadSamples(1)
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
		if len(samples) == 0 {
			break
		}

		offset := total * frameSize
		for ch := 0; ch < d.numChans && ch < len(samples[0].Values); ch++ {
			value := samples[0].Values[ch]
			o := offset + ch*bytesPerSample
			switch d.bps {
			case 8:
				buf[o] = byte(value)
			case 16:
				buf[o] = byte(value & 0xFF)
				buf[o+1] = byte((value >> 8) & 0xFF)
			case 24:
				buf[o] = byte((value >> 8) & 0xFF)
				buf[o+1] = byte((value >> 16) & 0xFF)
			case 32:
				buf[o] = byte((value >> 16) & 0xFF)
				buf[o+1] = byte((value >> 24) & 0xFF)
			}
		}
		total++
	}

	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

func (d *Decoder) Close() error {
	return d.stream.Close()
}
