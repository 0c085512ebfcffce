// Package avc renders avc1 codec strings from a profile and level or from an
// AVCDecoderConfigurationRecord.
package avc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidProfileLevel = errors.New("avc: invalid profile or level")
	ErrInvalidRecord       = errors.New("avc: invalid decoder configuration record")
)

type Profile string

const (
	Baseline Profile = "baseline"
	Main     Profile = "main"
	High     Profile = "high"
)

// profile_idc followed by the constraint flags byte
var profiles = map[Profile]string{
	Baseline: "42E0",
	Main:     "4D40",
	High:     "6400",
}

var levels = map[string]string{
	"3.0": "1E",
	"3.1": "1F",
	"4.0": "28",
	"4.1": "29",
	"4.2": "2A",
	"5.0": "32",
	"5.1": "33",
	"5.2": "34",
}

// CodecString returns avc1.PPCCLL for profile at level ("3.0" to "5.2").
func CodecString(profile Profile, level string) (string, error) {
	p, ok := profiles[profile]
	l, ok2 := levels[level]
	if !ok || !ok2 {
		return "", fmt.Errorf("%w: %s@%s", ErrInvalidProfileLevel, profile, level)
	}
	return "avc1." + p + l, nil
}

// Record is the fixed head of an AVCDecoderConfigurationRecord.
type Record struct {
	ProfileIndication    uint8
	ProfileCompatibility uint8
	LevelIndication      uint8
	LengthSize           int
}

func ParseRecord(b []byte) (Record, error) {
	if len(b) < 5 || b[0] != 1 {
		return Record{}, ErrInvalidRecord
	}
	return Record{
		ProfileIndication:    b[1],
		ProfileCompatibility: b[2],
		LevelIndication:      b[3],
		LengthSize:           int(b[4]&3) + 1,
	}, nil
}

func (r Record) Codec() string {
	return fmt.Sprintf("avc1.%02x%02x%02x", r.ProfileIndication, r.ProfileCompatibility, r.LevelIndication)
}

// CodecFromRecord derives the codec string from an avcC payload.
func CodecFromRecord(b []byte) (string, error) {
	r, err := ParseRecord(b)
	if err != nil {
		return "", err
	}
	return r.Codec(), nil
}

// ParseCodec reads the profile, constraint and level bytes of an avc1 or
// avc3 codec string.
func ParseCodec(s string) (Record, error) {
	family, hex, ok := strings.Cut(s, ".")
	if (family != "avc1" && family != "avc3") || !ok || len(hex) != 6 {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidProfileLevel, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidProfileLevel, s)
	}
	return Record{
		ProfileIndication:    uint8(v >> 16),
		ProfileCompatibility: uint8(v >> 8),
		LevelIndication:      uint8(v),
		LengthSize:           4,
	}, nil
}
