package pio

import "testing"

func TestSignedRoundTrip(t *testing.T) {
	b := make([]byte, 8)
	PutI32BE(b, -2)
	if got := I32BE(b); got != -2 {
		t.Errorf("I32BE = %d, want -2", got)
	}
	PutU24BE(b, 0xfffffe)
	if got := I24BE(b); got != -2 {
		t.Errorf("I24BE = %d, want -2", got)
	}
	PutI64BE(b, -1<<40)
	if got := I64BE(b); got != -1<<40 {
		t.Errorf("I64BE = %d, want %d", got, int64(-1<<40))
	}
}

func TestVUint(t *testing.T) {
	values := []struct {
		b []byte
		v uint64
	}{
		{nil, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x0f, 0x42, 0x40}, 1000000},
		{[]byte{0, 0, 0, 0, 0, 0, 0x01, 0x00}, 256},
	}
	for _, ex := range values {
		if got := VUint(ex.b); got != ex.v {
			t.Errorf("VUint(%x) = %d, want %d", ex.b, got, ex.v)
		}
	}
}
