package mkv

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec/avc"
	"github.com/schahriar/mfx/codec/vp9"
	"github.com/schahriar/mfx/format/container"
)

var ErrNoVideoTrack = errors.New("mkv: no video track to probe")

// family defaults for codecs whose string cannot be derived from the stream
var defaultCodecs = map[string]string{
	"vp8":  "vp8",
	"avc":  "avc1.42E01E",
	"hevc": "hvc1.1.6.L93.B0",
	"av1":  "av01.0.04M.08",
}

// ProbeResult summarizes the first video track of a stream.
type ProbeResult struct {
	Track    *av.Track
	Samples  int
	Bytes    int64
	Duration time.Duration
	// Bitrate is the average in bits per second.
	Bitrate int
	// Codec is the full codec string, e.g. vp09.00.21.08.
	Codec string
}

// Prober runs a demuxer over a full stream and derives the video codec
// string from its geometry and average bitrate.
type Prober struct {
	log   *slog.Logger
	d     *Demuxer
	video *av.Track

	samples     int
	bytes       int64
	first, last int64
	lastDur     int64
}

func NewProber(opts ...DemuxerOption) *Prober {
	d := NewDemuxer(opts...)
	return &Prober{d: d, log: d.log.With("component", "mkv-probe"), first: -1}
}

func (p *Prober) Write(b []byte) error {
	batches, err := p.d.Write(b)
	p.count(batches)
	return err
}

func (p *Prober) count(batches []container.Batch) {
	for _, b := range batches {
		if p.video == nil && b.Track.Kind == av.Video {
			p.video = b.Track
		}
		if b.Track != p.video {
			continue
		}
		for _, s := range b.Samples {
			p.samples++
			p.bytes += int64(len(s.Data))
			if p.first < 0 {
				p.first = s.DTS
			}
			p.last, p.lastDur = s.DTS, s.Duration
		}
	}
}

// Close ends the stream and returns the probe result.
func (p *Prober) Close() (ProbeResult, error) {
	batches, err := p.d.Close()
	p.count(batches)
	if err != nil {
		return ProbeResult{}, err
	}
	if p.video == nil {
		tracks, _ := p.d.Tracks().Wait(context.Background())
		for _, t := range tracks {
			if t.Kind == av.Video {
				p.video = t
				break
			}
		}
	}
	if p.video == nil {
		return ProbeResult{}, ErrNoVideoTrack
	}

	r := ProbeResult{Track: p.video, Samples: p.samples, Bytes: p.bytes, Duration: p.video.Duration}
	if r.Duration <= 0 && p.samples > 0 {
		r.Duration = time.Duration(p.last-p.first+p.lastDur) * time.Microsecond
	}
	if secs := r.Duration.Seconds(); secs > 0 {
		r.Bitrate = int(float64(r.Bytes*8) / secs)
	}
	r.Codec, err = probeCodec(p.video, r.Bitrate)
	if err != nil {
		return r, err
	}
	p.log.Debug("probed", "codec", r.Codec, "bitrate", r.Bitrate, "samples", r.Samples)
	return r, nil
}

// probeCodec keeps codec strings that already carry a profile and level and
// derives the others.
func probeCodec(t *av.Track, bitrate int) (string, error) {
	v := t.Video
	if strings.Contains(v.Codec, ".") {
		return v.Codec, nil
	}
	switch family := av.CodecFamily(v.Codec); family {
	case "vp9":
		return vp9.AutoSelectCodec(vp9.Params{Width: v.CodedWidth, Height: v.CodedHeight, Bitrate: bitrate})
	case "avc":
		if c, err := avc.CodecFromRecord(v.Description); err == nil {
			return c, nil
		}
		return defaultCodecs[family], nil
	default:
		if c, ok := defaultCodecs[family]; ok {
			return c, nil
		}
	}
	return v.Codec, nil
}
