package mp4

import (
	"strconv"
	"strings"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec/av1"
	"github.com/schahriar/mfx/codec/avc"
	"github.com/schahriar/mfx/codec/hevc"
	"github.com/schahriar/mfx/codec/opus"
	"github.com/schahriar/mfx/codec/vp9"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/format/mp4/esio"
	"github.com/schahriar/mfx/format/mp4/mp4io"
)

// videoCodec derives the codec string and description of a visual entry.
func videoCodec(e *mp4io.VisualSampleEntry) (codec string, desc []byte) {
	if e.Config != nil {
		desc = e.Config.Data
	}
	switch e.Format {
	case mp4io.AVC1, mp4io.AVC3:
		if c, err := avc.CodecFromRecord(desc); err == nil {
			return e.Format.String()[:4] + c[4:], desc
		}
		return e.Format.String(), desc
	case mp4io.HVC1, mp4io.HEV1:
		if r, err := hevc.ParseRecord(desc); err == nil {
			return r.Codec(e.Format.String()), desc
		}
		return e.Format.String(), desc
	case mp4io.VP09:
		// vpcC is a full box
		if len(desc) >= 7 {
			c := vp9.Codec{Profile: int(desc[4]), Level: int(desc[5]), BitDepth: int(desc[6] >> 4)}
			return c.String(), desc
		}
		return "vp09", desc
	case mp4io.VP08:
		return "vp8", desc
	case mp4io.AV01:
		if c, err := av1.CodecFromRecord(desc); err == nil {
			return c, desc
		}
		return "av01", desc
	}
	return strings.TrimSpace(e.Format.String()), desc
}

// audioCodec derives codec, description, rate and channels of an audio
// entry. AAC uses the AudioSpecificConfig found in esds.
func audioCodec(e *mp4io.AudioSampleEntry) (codec string, desc []byte, rate, channels int) {
	rate, channels = int(e.SampleRate), int(e.Channels)
	var payload []byte
	if e.Config != nil {
		payload = e.Config.Data
	}
	switch e.Format {
	case mp4io.MP4A:
		codec = "mp4a.40.2"
		if len(payload) < 4 {
			return
		}
		sd, err := esio.ParseStreamDescriptor(payload[4:])
		if err != nil || sd.DecoderConfig == nil {
			return
		}
		desc = sd.DecoderConfig.AudioSpecific
		if conf, err := esio.ParseAudioSpecificConfig(desc); err == nil {
			codec = "mp4a.40." + strconv.Itoa(conf.ObjectType)
			rate, channels = conf.SampleRate, conf.Channels
		}
		return
	case mp4io.OPUS:
		if h, err := opus.ParseDOps(payload); err == nil && h.Channels > 0 {
			channels = h.Channels
		}
		return "opus", payload, opus.SampleRate, channels
	}
	return strings.TrimSpace(e.Format.String()), payload, rate, channels
}

// av1Record builds a minimal av1C payload from an av01 codec string.
func av1Record(codec string) []byte {
	r, err := av1.ParseCodec(codec)
	if err != nil {
		r = av1.Record{Level: 8, BitDepth: 8}
	}
	return r.Marshal()
}

// vpcRecord builds a vpcC payload (version 1) from a vp09 codec string.
func vpcRecord(codec string) []byte {
	c, err := vp9.ParseCodec(codec)
	if err != nil {
		c = vp9.Codec{Level: 31, BitDepth: 8}
	}
	// 4:2:0 colocated, BT.709 primaries, transfer and matrix
	return []byte{1, 0, 0, 0, uint8(c.Profile), uint8(c.Level), uint8(c.BitDepth)<<4 | 1<<1, 1, 1, 1, 0, 0}
}

// sampleEntry maps a track config to its sample entry. Codecs outside the
// table fail with container.ErrUnsupportedCodec.
func sampleEntry(t *muxTrack) (mp4io.Atom, error) {
	if t.kind == av.Video {
		v := t.video
		e := &mp4io.VisualSampleEntry{
			DataRefIdx:           1,
			Width:                uint16(v.CodedWidth),
			Height:               uint16(v.CodedHeight),
			HorizontalResolution: 72,
			VerticalResolution:   72,
			FrameCount:           1,
			Depth:                0x18,
		}
		desc := t.description
		switch av.CodecFamily(v.Codec) {
		case "avc":
			e.Format, e.Config = mp4io.AVC1, &mp4io.ConfigBox{Tag_: mp4io.AVCC, Data: desc}
		case "hevc":
			e.Format, e.Config = mp4io.HVC1, &mp4io.ConfigBox{Tag_: mp4io.HVCC, Data: desc}
		case "vp9":
			if len(desc) == 0 {
				desc = vpcRecord(v.Codec)
			}
			e.Format, e.Config = mp4io.VP09, &mp4io.ConfigBox{Tag_: mp4io.VPCC, Data: desc}
		case "av1":
			if len(desc) == 0 {
				desc = av1Record(v.Codec)
			}
			e.Format, e.Config = mp4io.AV01, &mp4io.ConfigBox{Tag_: mp4io.AV1C, Data: desc}
		default:
			return nil, container.UnsupportedCodec("mp4", v.Codec)
		}
		return e, nil
	}

	a := t.audio
	e := &mp4io.AudioSampleEntry{
		DataRefIdx: 1,
		Channels:   uint16(a.Channels),
		SampleSize: 16,
		SampleRate: float64(a.SampleRate),
	}
	switch av.CodecFamily(a.Codec) {
	case "aac":
		asc := t.description
		if len(asc) == 0 {
			var err error
			if asc, err = esio.AudioSpecificConfig(a.SampleRate, a.Channels); err != nil {
				return nil, err
			}
		}
		esds := append([]byte{0, 0, 0, 0}, esio.NewAudioStreamDescriptor(asc).Marshal()...)
		e.Format, e.Config = mp4io.MP4A, &mp4io.ConfigBox{Tag_: mp4io.ESDS, Data: esds}
	case "opus":
		head := opus.HeadFrom(t.description, a.Channels, a.SampleRate)
		e.Format, e.Config = mp4io.OPUS, &mp4io.ConfigBox{Tag_: mp4io.DOPS, Data: head.DOps()}
		e.SampleRate = opus.SampleRate
	default:
		return nil, container.UnsupportedCodec("mp4", a.Codec)
	}
	return e, nil
}
