// Package hevc reads HEVCDecoderConfigurationRecords (hvcC) and renders
// hvc1/hev1 codec strings from them.
package hevc

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"github.com/schahriar/mfx/utils/bits/pio"
)

var ErrRecordInvalid = errors.New("hevc: decoder configuration record invalid")

// NAL unit types carried in the record arrays.
const (
	NALUVPS = 32
	NALUSPS = 33
	NALUPPS = 34
)

// Record is a parsed hvcC payload.
type Record struct {
	ProfileSpace       uint8
	TierFlag           bool
	ProfileIdc         uint8
	CompatibilityFlags uint32
	ConstraintFlags    [6]byte
	LevelIdc           uint8
	LengthSize         int

	VPS [][]byte
	SPS [][]byte
	PPS [][]byte
}

func ParseRecord(b []byte) (r Record, err error) {
	if len(b) < 23 || b[0] != 1 {
		return r, ErrRecordInvalid
	}
	r.ProfileSpace = b[1] >> 6
	r.TierFlag = b[1]&0x20 != 0
	r.ProfileIdc = b[1] & 0x1f
	r.CompatibilityFlags = pio.U32BE(b[2:])
	copy(r.ConstraintFlags[:], b[6:12])
	r.LevelIdc = b[12]
	r.LengthSize = int(b[21]&3) + 1

	arrays := int(b[22])
	n := 23
	for i := 0; i < arrays; i++ {
		if len(b) < n+3 {
			return r, ErrRecordInvalid
		}
		typ := b[n] & 0x3f
		count := int(pio.U16BE(b[n+1:]))
		n += 3
		for j := 0; j < count; j++ {
			if len(b) < n+2 {
				return r, ErrRecordInvalid
			}
			size := int(pio.U16BE(b[n:]))
			n += 2
			if len(b) < n+size {
				return r, ErrRecordInvalid
			}
			nalu := b[n : n+size]
			n += size
			switch typ {
			case NALUVPS:
				r.VPS = append(r.VPS, nalu)
			case NALUSPS:
				r.SPS = append(r.SPS, nalu)
			case NALUPPS:
				r.PPS = append(r.PPS, nalu)
			}
		}
	}
	return r, nil
}

// Codec renders <format>.<space><profile>.<compat>.<tier><level>[.<constraint>...]
// with format being hvc1 or hev1.
func (r Record) Codec(format string) string {
	var sb strings.Builder
	sb.WriteString(format)
	sb.WriteByte('.')
	if r.ProfileSpace > 0 {
		sb.WriteByte('A' + r.ProfileSpace - 1)
	}
	tier := 'L'
	if r.TierFlag {
		tier = 'H'
	}
	fmt.Fprintf(&sb, "%d.%X.%c%d", r.ProfileIdc, bits.Reverse32(r.CompatibilityFlags), tier, r.LevelIdc)
	constraints := r.ConstraintFlags[:]
	for len(constraints) > 0 && constraints[len(constraints)-1] == 0 {
		constraints = constraints[:len(constraints)-1]
	}
	for _, c := range constraints {
		fmt.Fprintf(&sb, ".%X", c)
	}
	return sb.String()
}

// CodecFromRecord derives an hvc1 codec string from an hvcC payload.
func CodecFromRecord(b []byte) (string, error) {
	r, err := ParseRecord(b)
	if err != nil {
		return "", err
	}
	return r.Codec("hvc1"), nil
}
