package mp4io

import (
	"math"
	"time"

	"github.com/schahriar/mfx/utils/bits/pio"
)

var epoch = time.Date(1904, time.January, 1, 0, 0, 0, 0, time.UTC)

func fromEpoch(sec uint64) (t time.Time) {
	if sec != 0 {
		t = epoch.Add(time.Second * time.Duration(sec))
	}
	return
}

func toEpoch(t time.Time) uint64 {
	if t.IsZero() || t.Before(epoch) {
		return 0
	}
	return uint64(t.Sub(epoch) / time.Second)
}

func GetTime32(b []byte) time.Time { return fromEpoch(uint64(pio.U32BE(b))) }
func GetTime64(b []byte) time.Time { return fromEpoch(pio.U64BE(b)) }

func PutTime32(b []byte, t time.Time) { pio.PutU32BE(b, uint32(toEpoch(t))) }
func PutTime64(b []byte, t time.Time) { pio.PutU64BE(b, toEpoch(t)) }

func PutFixed16(b []byte, f float64) {
	intpart, fracpart := math.Modf(f)
	b[0] = uint8(intpart)
	b[1] = uint8(fracpart * 256.0)
}

func GetFixed16(b []byte) float64 {
	return float64(b[0]) + float64(b[1])/256.0
}

func PutFixed32(b []byte, f float64) {
	intpart, fracpart := math.Modf(f)
	pio.PutU16BE(b[0:2], uint16(intpart))
	pio.PutU16BE(b[2:4], uint16(fracpart*65536.0))
}

func GetFixed32(b []byte) float64 {
	return float64(pio.U16BE(b[0:2])) + float64(pio.U16BE(b[2:4]))/65536.0
}

// UnityMatrix is the identity transformation used by mvhd and tkhd.
var UnityMatrix = [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000}

// versioned reads a 32 or 64 bit field depending on the box version.
func versioned(b []byte, n int, version uint8) (uint64, int) {
	if version == 1 {
		return pio.U64BE(b[n:]), n + 8
	}
	return uint64(pio.U32BE(b[n:])), n + 4
}

func putVersioned(b []byte, n int, version uint8, v uint64) int {
	if version == 1 {
		pio.PutU64BE(b[n:], v)
		return n + 8
	}
	pio.PutU32BE(b[n:], uint32(v))
	return n + 4
}
