package mkv

import (
	"strconv"
	"strings"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec/av1"
	"github.com/schahriar/mfx/codec/avc"
	"github.com/schahriar/mfx/codec/hevc"
	"github.com/schahriar/mfx/codec/vp9"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/format/mp4/esio"
)

const (
	CodecVP8    = "V_VP8"
	CodecVP9    = "V_VP9"
	CodecAV1    = "V_AV1"
	CodecAVC    = "V_MPEG4/ISO/AVC"
	CodecHEVC   = "V_MPEGH/ISO/HEVC"
	CodecOpus   = "A_OPUS"
	CodecVorbis = "A_VORBIS"
	CodecAAC    = "A_AAC"
)

// Matroska TrackType values.
const (
	trackTypeVideo = 1
	trackTypeAudio = 2
)

// writable maps codec families to the CodecIDs the muxer writes.
var writable = map[string]string{
	"vp8":    CodecVP8,
	"vp9":    CodecVP9,
	"av1":    CodecAV1,
	"avc":    CodecAVC,
	"opus":   CodecOpus,
	"vorbis": CodecVorbis,
}

func codecID(codec string) (string, error) {
	if id, ok := writable[av.CodecFamily(codec)]; ok {
		return id, nil
	}
	return "", container.UnsupportedCodec("matroska", codec)
}

// VP9 CodecPrivate feature ids.
const (
	vp9FeatureProfile  = 1
	vp9FeatureLevel    = 2
	vp9FeatureBitDepth = 3
)

func vp9Private(codec string) []byte {
	c, err := vp9.ParseCodec(codec)
	if err != nil {
		return nil
	}
	return []byte{
		vp9FeatureProfile, 1, uint8(c.Profile),
		vp9FeatureLevel, 1, uint8(c.Level),
		vp9FeatureBitDepth, 1, uint8(c.BitDepth),
	}
}

// vp9Codec reads the feature list of a VP9 CodecPrivate. The bare family
// name is returned when profile or level are missing.
func vp9Codec(private []byte) string {
	c := vp9.Codec{BitDepth: 8}
	var profile, level bool
	for len(private) >= 2 {
		id, n := private[0], int(private[1])
		if len(private) < 2+n || n != 1 {
			break
		}
		v := int(private[2])
		switch id {
		case vp9FeatureProfile:
			c.Profile, profile = v, true
		case vp9FeatureLevel:
			c.Level, level = v, true
		case vp9FeatureBitDepth:
			c.BitDepth = v
		}
		private = private[2+n:]
	}
	if !profile || !level {
		return "vp9"
	}
	return c.String()
}

// trackCodec derives a codec string from a CodecID and its CodecPrivate.
// Unknown ids are returned lowercased.
func trackCodec(id string, private []byte) string {
	switch {
	case id == CodecVP8:
		return "vp8"
	case id == CodecVP9:
		return vp9Codec(private)
	case id == CodecAV1:
		if c, err := av1.CodecFromRecord(private); err == nil {
			return c
		}
		return "av01"
	case id == CodecAVC:
		if c, err := avc.CodecFromRecord(private); err == nil {
			return c
		}
		return "avc1"
	case id == CodecHEVC:
		if c, err := hevc.CodecFromRecord(private); err == nil {
			return c
		}
		return "hvc1"
	case id == CodecOpus:
		return "opus"
	case id == CodecVorbis:
		return "vorbis"
	case strings.HasPrefix(id, CodecAAC):
		if conf, err := esio.ParseAudioSpecificConfig(private); err == nil {
			return "mp4a.40." + strconv.Itoa(conf.ObjectType)
		}
		return "mp4a.40.2"
	}
	return strings.ToLower(id)
}
