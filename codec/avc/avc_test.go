package avc

import (
	"errors"
	"testing"
)

func TestCodecString(t *testing.T) {
	tests := []struct {
		profile Profile
		level   string
		want    string
	}{
		{Baseline, "3.0", "avc1.42E01E"},
		{Main, "4.1", "avc1.4D4029"},
		{High, "5.2", "avc1.640034"},
	}
	for _, tt := range tests {
		got, err := CodecString(tt.profile, tt.level)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("%s@%s: got %s, want %s", tt.profile, tt.level, got, tt.want)
		}
	}
	if _, err := CodecString("extended", "3.0"); !errors.Is(err, ErrInvalidProfileLevel) {
		t.Errorf("got %v", err)
	}
	if _, err := CodecString(High, "6.0"); !errors.Is(err, ErrInvalidProfileLevel) {
		t.Errorf("got %v", err)
	}
}

func TestCodecFromRecord(t *testing.T) {
	got, err := CodecFromRecord([]byte{1, 0x64, 0x00, 0x1f, 0xff, 0xe1})
	if err != nil {
		t.Fatal(err)
	}
	if got != "avc1.64001f" {
		t.Errorf("got %s", got)
	}
	if _, err := CodecFromRecord([]byte{0, 1}); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("got %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	r, err := ParseCodec("avc1.42E01E")
	if err != nil {
		t.Fatal(err)
	}
	if r.ProfileIndication != 0x42 || r.ProfileCompatibility != 0xe0 || r.LevelIndication != 0x1e {
		t.Errorf("got %+v", r)
	}
	if _, err := ParseCodec("avc1"); err == nil {
		t.Error("expected error")
	}
}

func TestParameterSetsAndAnnexB(t *testing.T) {
	record := []byte{1, 0x42, 0xe0, 0x1e, 0xff, 0xe1, 0, 3, 0x67, 1, 2, 1, 0, 2, 0x68, 3}
	sps, pps, err := ParameterSets(record)
	if err != nil {
		t.Fatal(err)
	}
	if len(sps) != 1 || string(sps[0]) != "\x67\x01\x02" || len(pps) != 1 || string(pps[0]) != "\x68\x03" {
		t.Fatalf("sps %x pps %x", sps, pps)
	}
	got, err := AnnexB([]byte{0, 0, 0, 2, 0x65, 9, 0, 0, 0, 1, 0x06}, 4, sps[0], pps[0])
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0, 1, 0x67, 1, 2, 0, 0, 0, 1, 0x68, 3, 0, 0, 0, 1, 0x65, 9, 0, 0, 0, 1, 0x06}
	if string(got) != string(want) {
		t.Errorf("got %x, want %x", got, want)
	}
	if _, err := AnnexB([]byte{0, 0, 0, 9, 1}, 4); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("truncated unit: %v", err)
	}
	if _, _, err := ParameterSets(record[:8]); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("truncated record: %v", err)
	}
}
