package avc

import "github.com/schahriar/mfx/utils/bits/pio"

var startCode = []byte{0, 0, 0, 1}

// ParameterSets returns the SPS and PPS NAL units stored in an avcC payload.
func ParameterSets(b []byte) (sps, pps [][]byte, err error) {
	if _, err = ParseRecord(b); err != nil {
		return nil, nil, err
	}
	b = b[5:]
	read := func(count int) ([][]byte, error) {
		var nalus [][]byte
		for i := 0; i < count; i++ {
			if len(b) < 2 {
				return nil, ErrInvalidRecord
			}
			n := int(pio.U16BE(b))
			if len(b) < 2+n {
				return nil, ErrInvalidRecord
			}
			nalus = append(nalus, b[2:2+n])
			b = b[2+n:]
		}
		return nalus, nil
	}
	if len(b) < 1 {
		return nil, nil, ErrInvalidRecord
	}
	n := int(b[0] & 0x1f)
	b = b[1:]
	if sps, err = read(n); err != nil {
		return nil, nil, err
	}
	if len(b) < 1 {
		return sps, nil, nil
	}
	n = int(b[0])
	b = b[1:]
	if pps, err = read(n); err != nil {
		return nil, nil, err
	}
	return sps, pps, nil
}

// AnnexB rewrites length prefixed NAL units with start codes. prefix units
// such as parameter sets are written first.
func AnnexB(data []byte, lengthSize int, prefix ...[]byte) ([]byte, error) {
	out := make([]byte, 0, len(data)+len(prefix)*8+16)
	for _, p := range prefix {
		out = append(out, startCode...)
		out = append(out, p...)
	}
	for len(data) > 0 {
		if len(data) < lengthSize {
			return nil, ErrInvalidRecord
		}
		var n int
		switch lengthSize {
		case 1:
			n = int(pio.U8(data))
		case 2:
			n = int(pio.U16BE(data))
		case 3:
			n = int(pio.U24BE(data))
		default:
			n = int(pio.U32BE(data))
		}
		data = data[lengthSize:]
		if n > len(data) {
			return nil, ErrInvalidRecord
		}
		out = append(out, startCode...)
		out = append(out, data[:n]...)
		data = data[n:]
	}
	return out, nil
}
