// Package opus reads Opus packet TOC bytes and converts between the Ogg
// style OpusHead used by Matroska and the ISO-BMFF dOps box.
package opus

import (
	"encoding/binary"
	"errors"
	"time"
)

// SampleRate is the rate every Opus decoder outputs at.
const SampleRate = 48000

var (
	ErrEmptyPacket   = errors.New("opus: empty packet")
	ErrInvalidPacket = errors.New("opus: invalid packet")
	ErrInvalidHead   = errors.New("opus: invalid header")
)

// frameTimes maps the TOC config number to a frame length.
var frameTimes = [32]time.Duration{
	// SILK NB, MB, WB
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
	// Hybrid SWB, FB
	10 * time.Millisecond, 20 * time.Millisecond,
	10 * time.Millisecond, 20 * time.Millisecond,
	// CELT NB, WB, SWB, FB
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
	2500 * time.Microsecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
}

// PacketDuration returns the audio duration carried by one packet.
func PacketDuration(pkt []byte) (time.Duration, error) {
	if len(pkt) == 0 {
		return 0, ErrEmptyPacket
	}
	toc := pkt[0]
	frames := 1
	switch toc & 0x3 {
	case 1, 2:
		frames = 2
	case 3:
		if len(pkt) < 2 {
			return 0, ErrInvalidPacket
		}
		frames = int(pkt[1] & 0x3f)
	}
	return time.Duration(frames) * frameTimes[toc>>3], nil
}

// Channels reports the stereo flag of the TOC byte.
func Channels(pkt []byte) int {
	if len(pkt) > 0 && pkt[0]&0x4 == 0 {
		return 1
	}
	return 2
}

// Head is the identification header shared by both encodings.
type Head struct {
	Channels      int
	PreSkip       uint16
	InputRate     uint32
	OutputGain    int16
	MappingFamily uint8
	// Mapping holds stream count, coupled count and the channel mapping
	// table when MappingFamily is not zero.
	Mapping []byte
}

var magic = []byte("OpusHead")

// DefaultHead is the header used when an encoder did not provide one.
func DefaultHead(channels, rate int) Head {
	return Head{Channels: channels, PreSkip: 3840, InputRate: uint32(rate)}
}

// ParseHead reads an OpusHead (little endian, with magic).
func ParseHead(b []byte) (Head, error) {
	if len(b) < 19 || string(b[:8]) != string(magic) {
		return Head{}, ErrInvalidHead
	}
	h := Head{
		Channels:      int(b[9]),
		PreSkip:       binary.LittleEndian.Uint16(b[10:]),
		InputRate:     binary.LittleEndian.Uint32(b[12:]),
		OutputGain:    int16(binary.LittleEndian.Uint16(b[16:])),
		MappingFamily: b[18],
	}
	if h.MappingFamily != 0 {
		h.Mapping = b[19:]
	}
	return h, nil
}

// IsHead reports whether b starts with the OpusHead magic.
func IsHead(b []byte) bool {
	return len(b) >= 8 && string(b[:8]) == string(magic)
}

// Marshal renders an OpusHead.
func (h Head) Marshal() []byte {
	b := make([]byte, 19, 19+len(h.Mapping))
	copy(b, magic)
	b[8] = 1
	b[9] = uint8(h.Channels)
	binary.LittleEndian.PutUint16(b[10:], h.PreSkip)
	binary.LittleEndian.PutUint32(b[12:], h.InputRate)
	binary.LittleEndian.PutUint16(b[16:], uint16(h.OutputGain))
	b[18] = h.MappingFamily
	if h.MappingFamily != 0 {
		b = append(b, h.Mapping...)
	}
	return b
}

// ParseDOps reads the payload of a dOps box (big endian, no magic).
func ParseDOps(b []byte) (Head, error) {
	if len(b) < 11 {
		return Head{}, ErrInvalidHead
	}
	h := Head{
		Channels:      int(b[1]),
		PreSkip:       binary.BigEndian.Uint16(b[2:]),
		InputRate:     binary.BigEndian.Uint32(b[4:]),
		OutputGain:    int16(binary.BigEndian.Uint16(b[8:])),
		MappingFamily: b[10],
	}
	if h.MappingFamily != 0 {
		h.Mapping = b[11:]
	}
	return h, nil
}

// DOps renders the payload of a dOps box.
func (h Head) DOps() []byte {
	b := make([]byte, 11, 11+len(h.Mapping))
	b[1] = uint8(h.Channels)
	binary.BigEndian.PutUint16(b[2:], h.PreSkip)
	binary.BigEndian.PutUint32(b[4:], h.InputRate)
	binary.BigEndian.PutUint16(b[8:], uint16(h.OutputGain))
	b[10] = h.MappingFamily
	if h.MappingFamily != 0 {
		b = append(b, h.Mapping...)
	}
	return b
}

// HeadFrom interprets a decoder description in either encoding, falling
// back to DefaultHead when desc is empty or malformed.
func HeadFrom(desc []byte, channels, rate int) Head {
	if IsHead(desc) {
		if h, err := ParseHead(desc); err == nil {
			return h
		}
	} else if h, err := ParseDOps(desc); err == nil {
		return h
	}
	return DefaultHead(channels, rate)
}
