package sink

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec/avc"
	"github.com/schahriar/mfx/format/container"
)

var rtcMimeTypes = map[string]string{
	"avc":  webrtc.MimeTypeH264,
	"vp8":  webrtc.MimeTypeVP8,
	"vp9":  webrtc.MimeTypeVP9,
	"av1":  webrtc.MimeTypeAV1,
	"opus": webrtc.MimeTypeOpus,
}

type rtcTrack struct {
	local *webrtc.TrackLocalStaticSample
	last  int64
	seen  bool

	// avc only
	lengthSize int
	sps, pps   [][]byte
}

// RTC writes encoded chunks to WebRTC sample tracks. H.264 is converted to
// Annex B with the parameter sets repeated on every keyframe.
type RTC struct {
	video *rtcTrack
	audio *rtcTrack
}

// NewRTC creates a track per non-nil config. streamID groups them for the
// remote peer.
func NewRTC(streamID string, video *av.VideoConfig, audio *av.AudioConfig) (*RTC, error) {
	r := &RTC{}
	var err error
	if video != nil {
		if r.video, err = newRTCTrack(video.Codec, streamID+"-video", streamID); err != nil {
			return nil, err
		}
		if av.CodecFamily(video.Codec) == "avc" {
			rec, err := avc.ParseRecord(video.Description)
			if err != nil {
				return nil, err
			}
			r.video.lengthSize = rec.LengthSize
			if r.video.sps, r.video.pps, err = avc.ParameterSets(video.Description); err != nil {
				return nil, err
			}
		}
	}
	if audio != nil {
		if r.audio, err = newRTCTrack(audio.Codec, streamID+"-audio", streamID); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func newRTCTrack(codec, id, streamID string) (*rtcTrack, error) {
	mime, ok := rtcMimeTypes[av.CodecFamily(codec)]
	if !ok {
		return nil, container.UnsupportedCodec("webrtc", codec)
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, streamID)
	if err != nil {
		return nil, err
	}
	return &rtcTrack{local: local}, nil
}

// NewPeerConnection creates a peer connection with the default codecs and
// the default NACK, RTCP report and TWCC interceptors registered.
func NewPeerConnection(cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))
	return api.NewPeerConnection(cfg)
}

// Tracks returns the local tracks to add to a peer connection.
func (r *RTC) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	for _, t := range []*rtcTrack{r.video, r.audio} {
		if t != nil {
			tracks = append(tracks, t.local)
		}
	}
	return tracks
}

// AddTo adds every track to pc.
func (r *RTC) AddTo(pc *webrtc.PeerConnection) error {
	for _, t := range r.Tracks() {
		if _, err := pc.AddTrack(t); err != nil {
			return err
		}
	}
	return nil
}

// WriteChunk sends the parts of c that have a track.
func (r *RTC) WriteChunk(c av.EncodedChunk) error {
	if c.Video != nil && r.video != nil {
		if err := r.video.write(c.Video.Chunk); err != nil {
			return err
		}
	}
	if c.Audio != nil && r.audio != nil {
		return r.audio.write(c.Audio.Chunk)
	}
	return nil
}

func (t *rtcTrack) write(c av.CodedChunk) error {
	d := c.Duration
	if d <= 0 && t.seen {
		d = c.Timestamp - t.last
	}
	t.last, t.seen = c.Timestamp, true
	data := c.Data
	if t.lengthSize > 0 {
		var prefix [][]byte
		if c.IsKey() {
			prefix = append(append(prefix, t.sps...), t.pps...)
		}
		var err error
		if data, err = avc.AnnexB(data, t.lengthSize, prefix...); err != nil {
			return err
		}
	}
	return t.local.WriteSample(media.Sample{Data: data, Duration: time.Duration(max(d, 0)) * time.Microsecond})
}
