package vp9

import (
	"errors"
	"testing"
)

func TestAutoSelectCodec(t *testing.T) {
	tests := []struct {
		name string
		p    Params
		want string
	}{
		{"360p", Params{Width: 640, Height: 360, Bitrate: 1000000, BitDepth: 8}, "vp09.00.21.08"},
		// level 1 is written as 10 as registered for vp09, not as 01
		{"tiny", Params{Width: 160, Height: 90, Bitrate: 100000, BitDepth: 8}, "vp09.00.10.08"},
		{"1080p", Params{Width: 1920, Height: 1080, Bitrate: 8000000, BitDepth: 8}, "vp09.00.41.08"},
		{"10 bit", Params{Width: 1280, Height: 720, Bitrate: 5000000, BitDepth: 10}, "vp09.02.31.10"},
		{"explicit profile", Params{Width: 1280, Height: 720, Bitrate: 5000000, BitDepth: 10, Profile: Profile1}, "vp09.01.31.10"},
		{"default depth", Params{Width: 640, Height: 360, Bitrate: 1000000}, "vp09.00.21.08"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AutoSelectCodec(tt.p)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAutoSelectCodecOvershoot(t *testing.T) {
	_, err := AutoSelectCodec(Params{Width: 640, Height: 360, Bitrate: 300000000, BitDepth: 8})
	if !errors.Is(err, ErrNoSuitableLevel) {
		t.Fatalf("got %v", err)
	}
	_, err = AutoSelectCodec(Params{Width: 16384, Height: 16384, Bitrate: 1000, BitDepth: 8})
	if !errors.Is(err, ErrNoSuitableLevel) {
		t.Fatalf("got %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("vp09.02.41.10")
	if err != nil {
		t.Fatal(err)
	}
	if c != (Codec{Profile: 2, Level: 41, BitDepth: 10}) {
		t.Errorf("got %+v", c)
	}
	if c, _ := ParseCodec("vp9"); c.String() != "vp09.00.31.08" {
		t.Errorf("bare vp9 gave %s", c)
	}
	if _, err := ParseCodec("vp8"); !errors.Is(err, ErrInvalidCodec) {
		t.Errorf("got %v", err)
	}
}
