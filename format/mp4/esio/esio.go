// Package esio reads and writes the MPEG-4 elementary stream descriptors
// found in an esds box.
package esio

import (
	"errors"
	"fmt"

	"github.com/schahriar/mfx/utils/bits/pio"
)

// Tag identifies a descriptor. ISO/IEC 14496-1 7.2.2 Table 1.
type Tag uint8

const (
	TagESDescriptor            = Tag(0x03)
	TagDecoderConfigDescriptor = Tag(0x04)
	TagDecoderSpecificInfo     = Tag(0x05)
	TagSLConfigDescriptor      = Tag(0x06)
)

var ErrShort = errors.New("esio: short descriptor")

const (
	esFlagStreamDependence = 0x80
	esFlagURL              = 0x40
	esFlagOCR              = 0x20
)

// slConfigMP4 is the predefined SL config every mp4 file uses.
const slConfigMP4 = 0x02

// StreamDescriptor is an ES_Descriptor. Only the fields the muxer and
// demuxer need are kept.
type StreamDescriptor struct {
	ESID          uint16
	DecoderConfig *DecoderConfig
}

// ParseStreamDescriptor reads an ES_Descriptor, typically the esds payload
// after its version and flags.
func ParseStreamDescriptor(b []byte) (*StreamDescriptor, error) {
	tag, d, _, err := readDescriptor(b)
	if err != nil {
		return nil, fmt.Errorf("ES_Descriptor: %w", err)
	}
	if tag != TagESDescriptor {
		return nil, fmt.Errorf("esio: expected ES_Descriptor, got tag %02x", uint8(tag))
	}
	if len(d) < 3 {
		return nil, ErrShort
	}
	desc := &StreamDescriptor{ESID: pio.U16BE(d)}
	flags := d[2]
	d = d[3:]
	skip := 0
	if flags&esFlagStreamDependence != 0 {
		skip += 2
	}
	if flags&esFlagURL != 0 {
		if len(d) < skip+1 {
			return nil, ErrShort
		}
		skip += 1 + int(d[skip])
	}
	if flags&esFlagOCR != 0 {
		skip += 2
	}
	if len(d) < skip {
		return nil, ErrShort
	}
	d = d[skip:]
	for len(d) > 0 {
		var child []byte
		if tag, child, d, err = readDescriptor(d); err != nil {
			return nil, fmt.Errorf("ES_Descriptor: %w", err)
		}
		if tag == TagDecoderConfigDescriptor {
			if desc.DecoderConfig, err = parseDecoderConfig(child); err != nil {
				return nil, err
			}
		}
	}
	return desc, nil
}

// Marshal renders the descriptor with the predefined mp4 SL config.
func (s *StreamDescriptor) Marshal() []byte {
	var w writer
	done := w.open(TagESDescriptor)
	w.u16(s.ESID)
	w.u8(0)
	if s.DecoderConfig != nil {
		s.DecoderConfig.writeTo(&w)
	}
	sl := w.open(TagSLConfigDescriptor)
	w.u8(slConfigMP4)
	sl()
	done()
	return w.buf
}

// readDescriptor splits one descriptor off b. The length is encoded in up to
// four 7-bit groups (ISO/IEC 14496-1 8.3.3).
func readDescriptor(b []byte) (tag Tag, contents, rest []byte, err error) {
	if len(b) < 2 {
		return 0, nil, nil, ErrShort
	}
	tag = Tag(b[0])
	b = b[1:]
	length := 0
	for i := 0; i < 4; i++ {
		if len(b) == 0 {
			return 0, nil, nil, ErrShort
		}
		v := b[0]
		b = b[1:]
		length = length<<7 | int(v&0x7f)
		if v&0x80 == 0 {
			break
		}
	}
	if length > len(b) {
		return 0, nil, nil, fmt.Errorf("esio: tag %02x wants %d bytes, have %d: %w", uint8(tag), length, len(b), ErrShort)
	}
	return tag, b[:length], b[length:], nil
}
