package esio

import (
	"fmt"

	"github.com/schahriar/mfx/utils/bits/pio"
)

type ObjectType uint8

// ISO/IEC 14496-1 7.2.6.6.2 Table 5
const ObjectTypeAudio = ObjectType(0x40)

type StreamType uint8

// ISO/IEC 14496-1 7.2.6.6.2 Table 6
const StreamTypeAudioStream = StreamType(0x05)

type DecoderConfig struct {
	ObjectType ObjectType
	StreamType StreamType
	BufferSize uint32
	MaxBitrate uint32
	AvgBitrate uint32

	// AudioSpecific is the raw AudioSpecificConfig.
	AudioSpecific []byte
}

// NewAudioStreamDescriptor returns the ES_Descriptor for an AAC track
// configured by asc.
func NewAudioStreamDescriptor(asc []byte) *StreamDescriptor {
	return &StreamDescriptor{
		DecoderConfig: &DecoderConfig{
			ObjectType:    ObjectTypeAudio,
			StreamType:    StreamTypeAudioStream,
			AudioSpecific: asc,
		},
	}
}

func parseDecoderConfig(d []byte) (*DecoderConfig, error) {
	if len(d) < 13 {
		return nil, fmt.Errorf("DecoderConfigDescriptor: %w", ErrShort)
	}
	conf := &DecoderConfig{
		ObjectType: ObjectType(d[0]),
		StreamType: StreamType(d[1] >> 2),
		BufferSize: pio.U24BE(d[2:]),
		MaxBitrate: pio.U32BE(d[5:]),
		AvgBitrate: pio.U32BE(d[9:]),
	}
	for d = d[13:]; len(d) > 0; {
		tag, contents, rest, err := readDescriptor(d)
		if err != nil {
			return nil, fmt.Errorf("DecoderConfigDescriptor: %w", err)
		}
		d = rest
		if tag == TagDecoderSpecificInfo && conf.ObjectType == ObjectTypeAudio {
			conf.AudioSpecific = contents
		}
	}
	return conf, nil
}

func (c *DecoderConfig) writeTo(w *writer) {
	done := w.open(TagDecoderConfigDescriptor)
	w.u8(uint8(c.ObjectType))
	w.u8(uint8(c.StreamType)<<2 | 1)
	w.u24(c.BufferSize)
	w.u32(c.MaxBitrate)
	w.u32(c.AvgBitrate)
	if c.AudioSpecific != nil {
		info := w.open(TagDecoderSpecificInfo)
		w.bytes(c.AudioSpecific)
		info()
	}
	done()
}

// sampleRates is the MPEG-4 sampling frequency index table.
var sampleRates = []int{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}

// AudioConfig is the part of an AudioSpecificConfig needed to describe a
// track.
type AudioConfig struct {
	ObjectType int
	SampleRate int
	Channels   int
}

// ParseAudioSpecificConfig reads the object type, sampling frequency and
// channel configuration from the first two bytes of asc.
func ParseAudioSpecificConfig(asc []byte) (AudioConfig, error) {
	if len(asc) < 2 {
		return AudioConfig{}, fmt.Errorf("AudioSpecificConfig: %w", ErrShort)
	}
	idx := int(asc[0]&7)<<1 | int(asc[1]>>7)
	if idx >= len(sampleRates) {
		return AudioConfig{}, fmt.Errorf("esio: sampling frequency index %d not supported", idx)
	}
	return AudioConfig{
		ObjectType: int(asc[0] >> 3),
		SampleRate: sampleRates[idx],
		Channels:   int(asc[1]&0x7f) >> 3,
	}, nil
}

// AudioSpecificConfig builds a two byte AAC-LC config for rate and channels.
func AudioSpecificConfig(rate, channels int) ([]byte, error) {
	for i, r := range sampleRates {
		if r == rate {
			return []byte{2<<3 | uint8(i>>1), uint8(i&1)<<7 | uint8(channels&0xf)<<3}, nil
		}
	}
	return nil, fmt.Errorf("esio: sample rate %d has no frequency index", rate)
}
