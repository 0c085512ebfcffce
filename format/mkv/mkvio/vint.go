package mkvio

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// readID decodes an element ID with its length marker kept. n is 0 when b
// is too short.
func readID(b []byte) (id uint32, n int, err error) {
	if len(b) == 0 {
		return 0, 0, nil
	}
	n = bits.LeadingZeros8(b[0]) + 1
	if n > 4 {
		return 0, 0, errorf("invalid element id byte 0x%02x", b[0])
	}
	if len(b) < n {
		return 0, 0, nil
	}
	for _, c := range b[:n] {
		id = id<<8 | uint32(c)
	}
	return id, n, nil
}

// readVint decodes a variable size integer with its marker removed.
// unknown reports the reserved all-ones value.
func readVint(b []byte) (v uint64, n int, unknown bool, err error) {
	if len(b) == 0 {
		return 0, 0, false, nil
	}
	n = bits.LeadingZeros8(b[0]) + 1
	if n > 8 {
		return 0, 0, false, errorf("invalid vint byte 0x00")
	}
	if len(b) < n {
		return 0, 0, false, nil
	}
	v = uint64(b[0] & (0xff >> n))
	for _, c := range b[1:n] {
		v = v<<8 | uint64(c)
	}
	return v, n, v == 1<<(7*n)-1, nil
}

// readSignedVint decodes the signed variant used by EBML lacing.
func readSignedVint(b []byte) (int64, int, error) {
	v, n, _, err := readVint(b)
	if err != nil || n == 0 {
		return 0, n, err
	}
	return int64(v) - (1<<(7*n-1) - 1), n, nil
}

func readUint(b []byte) (v uint64) {
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return
}

func readInt(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	v := int64(int8(b[0]))
	for _, c := range b[1:] {
		v = v<<8 | int64(c)
	}
	return v
}

func readFloat(b []byte) float64 {
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	}
	return 0
}

// ReadHeader decodes the ID and data size at the start of b. n is the
// header length, 0 when b is too short.
func ReadHeader(b []byte) (id uint32, size uint64, n int, unknown bool, err error) {
	id, idLen, err := readID(b)
	if err != nil || idLen == 0 {
		return 0, 0, 0, false, err
	}
	size, sizeLen, unknown, err := readVint(b[idLen:])
	if err != nil || sizeLen == 0 {
		return 0, 0, 0, false, err
	}
	return id, size, idLen + sizeLen, unknown, nil
}
