// Package timescale converts between microseconds and track timescale units.
package timescale

import (
	"math/bits"
	"time"
)

const micro = uint64(time.Second / time.Microsecond)

// mulDiv returns round(v*num/den) without intermediate overflow.
func mulDiv(v, num, den uint64) uint64 {
	hi, lo := bits.Mul64(v, num)
	if hi >= den {
		return ^uint64(0)
	}
	q, rem := bits.Div64(hi, lo, den)
	if rem >= (den+1)/2 {
		q++
	}
	return q
}

// ToScale converts a microsecond time to scale units, rounding to nearest.
func ToScale(us int64, scale uint32) int64 {
	if us < 0 {
		return -int64(mulDiv(uint64(-us), uint64(scale), micro))
	}
	return int64(mulDiv(uint64(us), uint64(scale), micro))
}

// Micros converts a time in scale units to microseconds.
func Micros(v int64, scale uint32) int64 {
	if scale == 0 {
		return v
	}
	if v < 0 {
		return -int64(mulDiv(uint64(-v), micro, uint64(scale)))
	}
	return int64(mulDiv(uint64(v), micro, uint64(scale)))
}

// Relative converts a short signed microsecond offset, such as a
// composition offset, to scale units.
func Relative(us int64, scale uint32) int32 {
	return int32(ToScale(us, scale))
}

// Duration converts a time in scale units to a time.Duration.
func Duration(v int64, scale uint32) time.Duration {
	return time.Duration(Micros(v, scale)) * time.Microsecond
}
