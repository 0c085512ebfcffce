// Package mkv demuxes, probes and muxes Matroska and WebM streams.
package mkv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec/opus"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/format/mkv/mkvio"
)

const (
	defaultTimecodeScale = 1000000
	// samples carry microseconds
	sampleTimescale = 1000000
)

type DemuxerOption func(*Demuxer)

// WithMIME lets the codecs of a MIME type override the ones derived from
// CodecID.
func WithMIME(m av.MIME) DemuxerOption {
	return func(d *Demuxer) { d.mime = m }
}

func WithLogger(l *slog.Logger) DemuxerOption {
	return func(d *Demuxer) { d.log = l }
}

type blockGroup struct {
	block     mkvio.Block
	hasBlock  bool
	duration  int64 // timecode units, -1 when absent
	reference bool
}

// Demuxer is a push parser over a Matroska byte stream. Tracks are published
// when the Tracks element closes, or at the first Cluster or the end of input
// when it never does.
type Demuxer struct {
	log  *slog.Logger
	mime av.MIME
	r    *mkvio.Reader

	state   container.State
	ready   *container.Signal[[]*av.Track]
	streams map[uint64]*stream
	order   []*av.Track

	timecodeScale uint64
	duration      float64 // timecode units
	created       time.Time

	entry   *trackEntry
	cluster int64
	group   *blockGroup
	closed  bool

	out []container.Batch
}

func NewDemuxer(opts ...DemuxerOption) *Demuxer {
	d := &Demuxer{
		r:             mkvio.NewReader(),
		ready:         container.NewSignal[[]*av.Track](),
		streams:       map[uint64]*stream{},
		timecodeScale: defaultTimecodeScale,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With("component", "mkv-demuxer")
	return d
}

func (d *Demuxer) Tracks() *container.Signal[[]*av.Track] { return d.ready }
func (d *Demuxer) State() container.State                 { return d.state }

func (d *Demuxer) Write(b []byte) ([]container.Batch, error) {
	if d.closed {
		return nil, io.ErrClosedPipe
	}
	d.r.Write(b)
	return d.advance()
}

func (d *Demuxer) Close() ([]container.Batch, error) {
	if d.closed {
		return nil, nil
	}
	d.closed = true
	d.r.Close()
	batches, err := d.advance()
	d.state = container.Flushed
	if err != nil {
		return batches, err
	}
	if err := d.publish(); err != nil {
		return batches, err
	}
	return batches, nil
}

func (d *Demuxer) advance() ([]container.Batch, error) {
	for {
		e, err := d.r.Next()
		if errors.Is(err, mkvio.ErrNeedMore) || err == io.EOF {
			break
		}
		if err == nil {
			err = d.handle(e)
		}
		if err != nil {
			d.ready.Resolve(nil, err)
			return d.take(), err
		}
	}
	return d.take(), nil
}

func (d *Demuxer) take() []container.Batch {
	out := d.out
	d.out = nil
	if len(out) > 0 {
		d.state = container.Streaming
	}
	return out
}

func (d *Demuxer) handle(e mkvio.Element) error {
	switch e.Event {
	case mkvio.StartElement:
		switch e.ID {
		case mkvio.ElementCluster.ID:
			d.cluster = 0
			return d.publish()
		case mkvio.ElementTrackEntry.ID:
			d.entry = &trackEntry{}
		case mkvio.ElementBlockGroup.ID:
			d.group = &blockGroup{duration: -1}
		case mkvio.ElementCues.ID, mkvio.ElementTags.ID, mkvio.ElementAttachments.ID, mkvio.ElementChapters.ID:
			if !e.Unknown {
				return d.r.Skip()
			}
		}
	case mkvio.EndElement:
		switch e.ID {
		case mkvio.ElementTracks.ID:
			return d.publish()
		case mkvio.ElementTrackEntry.ID:
			if d.entry != nil {
				d.addTrack(d.entry)
				d.entry = nil
			}
		case mkvio.ElementBlockGroup.ID:
			g := d.group
			d.group = nil
			if g != nil && g.hasBlock {
				return d.emit(g.block, !g.reference, g.duration)
			}
		}
	case mkvio.DataElement:
		return d.data(e)
	}
	return nil
}

func (d *Demuxer) data(e mkvio.Element) error {
	if t := d.entry; t != nil {
		switch e.ID {
		case mkvio.ElementTrackNumber.ID:
			t.number = e.Uint()
		case mkvio.ElementTrackType.ID:
			t.typ = e.Uint()
		case mkvio.ElementCodecID.ID:
			t.codecID = e.String()
		case mkvio.ElementCodecPrivate.ID:
			t.private = bytes.Clone(e.Content)
		case mkvio.ElementDefaultDuration.ID:
			t.defaultDuration = e.Uint()
		case mkvio.ElementCodecDelay.ID:
			t.codecDelay = e.Uint()
		case mkvio.ElementPixelWidth.ID:
			t.width = int(e.Uint())
		case mkvio.ElementPixelHeight.ID:
			t.height = int(e.Uint())
		case mkvio.ElementSamplingFrequency.ID:
			t.rate = e.Float()
		case mkvio.ElementChannels.ID:
			t.channels = int(e.Uint())
		}
		return nil
	}

	switch e.ID {
	case mkvio.ElementTimecodeScale.ID:
		if v := e.Uint(); v > 0 {
			d.timecodeScale = v
		}
	case mkvio.ElementDuration.ID:
		d.duration = e.Float()
	case mkvio.ElementDateUTC.ID:
		d.created = epoch.Add(time.Duration(e.Int()))
	case mkvio.ElementTimecode.ID:
		d.cluster = int64(e.Uint())
	case mkvio.ElementSimpleBlock.ID:
		b, err := mkvio.ParseBlock(e.Content)
		if err != nil {
			return err
		}
		return d.emit(b, b.Keyframe(), -1)
	case mkvio.ElementBlock.ID:
		if d.group == nil {
			return nil
		}
		// Content is reused by the reader once the next element is read
		b, err := mkvio.ParseBlock(bytes.Clone(e.Content))
		if err != nil {
			return err
		}
		d.group.block, d.group.hasBlock = b, true
	case mkvio.ElementBlockDuration.ID:
		if d.group != nil {
			d.group.duration = int64(e.Uint())
		}
	case mkvio.ElementReferenceBlock.ID:
		if d.group != nil {
			d.group.reference = true
		}
	}
	return nil
}

func (d *Demuxer) addTrack(e *trackEntry) {
	if e.typ != trackTypeVideo && e.typ != trackTypeAudio {
		d.log.Debug("skipping track", "number", e.number, "type", e.typ)
		return
	}
	if _, dup := d.streams[e.number]; dup || d.ready.Resolved() {
		d.log.Warn("ignoring track entry", "number", e.number)
		return
	}
	t := av.Track{
		ID:        e.number,
		Timescale: sampleTimescale,
		CreatedAt: d.created,
	}
	codec := trackCodec(e.codecID, e.private)
	s := &stream{defaultDuration: int64(e.defaultDuration / 1000)}
	if e.typ == trackTypeVideo {
		if d.mime.VideoCodec != "" {
			codec = d.mime.VideoCodec
		}
		t.Kind = av.Video
		t.Video = &av.VideoConfig{Codec: codec, CodedWidth: e.width, CodedHeight: e.height, Description: e.private}
	} else {
		if d.mime.AudioCodec != "" {
			codec = d.mime.AudioCodec
		}
		rate, channels := int(e.rate), e.channels
		if e.codecID == CodecOpus {
			s.opus = true
			rate = opus.SampleRate
			if h, err := opus.ParseHead(e.private); err == nil && channels == 0 {
				channels = h.Channels
			}
		}
		if channels == 0 {
			channels = 1
		}
		t.Kind = av.Audio
		t.Audio = &av.AudioConfig{Codec: codec, SampleRate: rate, Channels: channels, Description: e.private}
	}
	track := av.NewTrack(t, nil)
	s.track = track
	d.streams[e.number] = s
	d.order = append(d.order, track)
}

// publish resolves the tracks signal once. Durations known by now are
// applied to every track.
func (d *Demuxer) publish() error {
	if d.ready.Resolved() {
		_, err := d.ready.Wait(context.Background())
		return err
	}
	if len(d.order) == 0 {
		d.ready.Resolve(nil, container.ErrNoTracks)
		return container.ErrNoTracks
	}
	duration := time.Duration(d.duration * float64(d.timecodeScale))
	for _, t := range d.order {
		t.Duration = duration
		t.CreatedAt = d.created
	}
	d.state = container.TracksReady
	d.ready.Resolve(d.order, nil)
	d.log.Debug("tracks ready", "tracks", len(d.order), "duration", duration)
	return nil
}

// micros converts timecode units to µs.
func (d *Demuxer) micros(tc int64) int64 {
	return tc * int64(d.timecodeScale) / 1000
}

// emit turns the frames of a block into samples. The first video sample of
// a track is always a sync sample and audio samples always are.
func (d *Demuxer) emit(b mkvio.Block, key bool, durationTC int64) error {
	if !d.ready.Resolved() {
		if err := d.publish(); err != nil {
			return err
		}
	}
	s := d.streams[b.TrackNumber]
	if s == nil {
		return nil
	}
	ts := d.micros(d.cluster + int64(b.Timecode))
	var lace int64
	if durationTC >= 0 && len(b.Frames) > 0 {
		lace = d.micros(durationTC) / int64(len(b.Frames))
	}
	samples := make([]av.Sample, 0, len(b.Frames))
	for _, f := range b.Frames {
		dur := lace
		if dur == 0 {
			dur = s.frameDuration(f)
		}
		sync := key
		if s.track.Kind == av.Audio || !s.started {
			sync = true
		}
		s.started = true
		samples = append(samples, av.Sample{
			TrackID:   s.track.ID,
			Data:      bytes.Clone(f),
			DTS:       ts,
			CTS:       ts,
			Duration:  dur,
			Timescale: sampleTimescale,
			IsSync:    sync,
		})
		ts += dur
	}
	if k := len(d.out) - 1; k >= 0 && d.out[k].Track == s.track {
		d.out[k].Samples = append(d.out[k].Samples, samples...)
		return nil
	}
	d.out = append(d.out, container.Batch{Track: s.track, Samples: samples})
	return nil
}
