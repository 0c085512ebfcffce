// Package av1 converts between av01 codec strings and AV1CodecConfiguration
// records (av1C).
package av1

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidCodec = errors.New("av1: invalid codec string")

// Record holds the sequence header fields an av01 codec string carries.
type Record struct {
	Profile  int
	Level    int
	HighTier bool
	BitDepth int
}

// ParseRecord reads an av1C payload.
func ParseRecord(b []byte) (Record, error) {
	if len(b) < 3 || b[0] != 0x81 {
		return Record{}, errors.New("av1: invalid av1C record")
	}
	r := Record{
		Profile:  int(b[1] >> 5),
		Level:    int(b[1] & 0x1f),
		HighTier: b[2]&0x80 != 0,
		BitDepth: 8,
	}
	if b[2]&0x40 != 0 {
		r.BitDepth = 10
		if b[2]&0x20 != 0 {
			r.BitDepth = 12
		}
	}
	return r, nil
}

// Marshal returns a 4 byte av1C without configOBUs, 4:2:0 chroma.
func (r Record) Marshal() []byte {
	b := []byte{0x81, uint8(r.Profile&7)<<5 | uint8(r.Level&0x1f), 0x0c, 0}
	if r.HighTier {
		b[2] |= 0x80
	}
	switch r.BitDepth {
	case 10:
		b[2] |= 0x40
	case 12:
		b[2] |= 0x60
	}
	return b
}

func (r Record) Codec() string {
	tier := "M"
	if r.HighTier {
		tier = "H"
	}
	return fmt.Sprintf("av01.%d.%02d%s.%02d", r.Profile, r.Level, tier, r.BitDepth)
}

func CodecFromRecord(b []byte) (string, error) {
	r, err := ParseRecord(b)
	if err != nil {
		return "", err
	}
	return r.Codec(), nil
}

// ParseCodec reads av01.P.LLT.DD. A bare av01 or av1 yields main profile,
// level 4.0 (code 8), 8 bit.
func ParseCodec(s string) (Record, error) {
	parts := strings.Split(s, ".")
	if parts[0] != "av01" && parts[0] != "av1" {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidCodec, s)
	}
	r := Record{Level: 8, BitDepth: 8}
	if len(parts) == 1 {
		return r, nil
	}
	if len(parts) < 4 || len(parts[2]) != 3 {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidCodec, s)
	}
	var err error
	if r.Profile, err = strconv.Atoi(parts[1]); err != nil {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidCodec, s)
	}
	if r.Level, err = strconv.Atoi(parts[2][:2]); err != nil {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidCodec, s)
	}
	switch parts[2][2] {
	case 'M':
	case 'H':
		r.HighTier = true
	default:
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidCodec, s)
	}
	if r.BitDepth, err = strconv.Atoi(parts[3]); err != nil {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidCodec, s)
	}
	return r, nil
}
