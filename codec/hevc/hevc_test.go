package hevc

import (
	"errors"
	"testing"
)

// Main profile, level 3.1, one VPS
var mainRecord = []byte{
	0x01, 0x01, 0x60, 0x00, 0x00, 0x00, 0xb0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x5d,
	0xf0, 0x00, 0xfc, 0xfd, 0xf8, 0xf8, 0x00, 0x00, 0x0f,
	0x01,
	0xa0, 0x00, 0x01, 0x00, 0x03, 0x40, 0x01, 0x0c,
}

func TestParseRecord(t *testing.T) {
	r, err := ParseRecord(mainRecord)
	if err != nil {
		t.Fatal(err)
	}
	if r.ProfileIdc != 1 || r.LevelIdc != 93 || r.LengthSize != 4 {
		t.Errorf("got %+v", r)
	}
	if len(r.VPS) != 1 || len(r.VPS[0]) != 3 {
		t.Errorf("vps: %x", r.VPS)
	}
	if got, want := r.Codec("hvc1"), "hvc1.1.6.L93.B0"; got != want {
		t.Errorf("codec %s, want %s", got, want)
	}
}

func TestParseRecordTruncated(t *testing.T) {
	if _, err := ParseRecord(mainRecord[:len(mainRecord)-1]); !errors.Is(err, ErrRecordInvalid) {
		t.Errorf("got %v", err)
	}
	if _, err := CodecFromRecord([]byte{1, 2, 3}); !errors.Is(err, ErrRecordInvalid) {
		t.Errorf("got %v", err)
	}
}
