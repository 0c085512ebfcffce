package timescale

import (
	"testing"
	"time"
)

func TestToScale(t *testing.T) {
	const scale uint32 = 90000
	values := []struct {
		us int64
		v  int64
	}{
		{0, 0},
		{16666, 1500},
		{16667, 1500},
		{1000000, 90000},
		{1000005, 90000},
		{1000006, 90001},
		{-16667, -1500},
		{int64(1<<32) * 1000000, 90000 * (1 << 32)},
	}
	for _, ex := range values {
		if n := ToScale(ex.us, scale); n != ex.v {
			t.Errorf("%dus: expected %d, got %d", ex.us, ex.v, n)
		}
	}
}

func TestMicros(t *testing.T) {
	values := []struct {
		v     int64
		scale uint32
		us    int64
	}{
		{3000, 90000, 33333},
		{1500, 90000, 16667},
		{1024, 48000, 21333},
		{960, 48000, 20000},
		{-1500, 90000, -16667},
		{40, 1000, 40000},
		{7, 0, 7},
	}
	for _, ex := range values {
		if n := Micros(ex.v, ex.scale); n != ex.us {
			t.Errorf("%d/%d: expected %d, got %d", ex.v, ex.scale, ex.us, n)
		}
	}
}

func TestRelative(t *testing.T) {
	if n := Relative(-33333, 90000); n != -3000 {
		t.Errorf("got %d", n)
	}
	if d := Duration(45000, 90000); d != 500*time.Millisecond {
		t.Errorf("got %s", d)
	}
}
