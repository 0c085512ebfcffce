// Package vp9 picks VP9 profile and level for an encode and renders the
// vp09 codec string.
package vp9

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNoSuitableLevel = errors.New("vp9: no suitable profile and level found")
	ErrInvalidCodec    = errors.New("vp9: invalid codec string")
)

// Profile is a VP9 profile. The zero value lets the bit depth decide.
type Profile uint8

const (
	ProfileAuto Profile = iota
	Profile0
	Profile1
	Profile2
	Profile3
)

// Number is the profile number as written in codec strings.
func (p Profile) Number() int {
	if p == ProfileAuto {
		return 0
	}
	return int(p) - 1
}

type Level struct {
	Name               string
	Code               int
	MaxLumaPictureSize int
	MaxBitrate         int
}

// Levels is ascending; levels Chrome does not accept are left out.
var Levels = []Level{
	{"1", 10, 36864, 200000},
	{"1.1", 11, 73728, 800000},
	{"2.1", 21, 245760, 3600000},
	{"3.1", 31, 983040, 12000000},
	{"4.1", 41, 2228224, 30000000},
	{"5.1", 51, 8912896, 120000000},
	{"6.1", 61, 35651584, 240000000},
}

type Params struct {
	Width    int
	Height   int
	Bitrate  int
	BitDepth int
	Profile  Profile
}

// Codec is a parsed vp09 codec string.
type Codec struct {
	Profile  int
	Level    int
	BitDepth int
}

func (c Codec) String() string {
	return fmt.Sprintf("vp09.%02d.%02d.%02d", c.Profile, c.Level, c.BitDepth)
}

// SelectLevel returns the first level whose luma picture size and bitrate
// ceilings hold for p.
func SelectLevel(p Params) (Codec, error) {
	depth := p.BitDepth
	if depth == 0 {
		depth = 8
	}
	profile := p.Profile
	if profile == ProfileAuto {
		profile = Profile0
		if depth >= 10 {
			profile = Profile2
		}
	}
	luma := p.Width * p.Height
	for _, l := range Levels {
		if luma <= l.MaxLumaPictureSize && p.Bitrate <= l.MaxBitrate {
			return Codec{Profile: profile.Number(), Level: l.Code, BitDepth: depth}, nil
		}
	}
	return Codec{}, fmt.Errorf("%w for %dx%d at %d bps", ErrNoSuitableLevel, p.Width, p.Height, p.Bitrate)
}

// AutoSelectCodec returns the vp09 codec string for p.
func AutoSelectCodec(p Params) (string, error) {
	c, err := SelectLevel(p)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// ParseCodec reads a vp09.PP.LL.DD string. A bare "vp9" or "vp09" yields
// profile 0, level 3.1, 8 bit.
func ParseCodec(s string) (Codec, error) {
	parts := strings.Split(s, ".")
	switch parts[0] {
	case "vp9", "vp09":
	default:
		return Codec{}, fmt.Errorf("%w: %q", ErrInvalidCodec, s)
	}
	c := Codec{Level: 31, BitDepth: 8}
	fields := []*int{&c.Profile, &c.Level, &c.BitDepth}
	for i, f := range parts[1:] {
		if i >= len(fields) {
			break
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return Codec{}, fmt.Errorf("%w: %q", ErrInvalidCodec, s)
		}
		*fields[i] = v
	}
	return c, nil
}
