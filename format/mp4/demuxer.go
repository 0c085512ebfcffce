// Package mp4 demuxes and muxes ISO-BMFF files, progressive and fragmented.
package mp4

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/format/mp4/mp4io"
	"github.com/schahriar/mfx/format/mp4/timescale"
)

type DemuxerOption func(*Demuxer)

// WithSeek starts extraction at the sync sample at or before t.
func WithSeek(t time.Duration) DemuxerOption {
	return func(d *Demuxer) { d.seek = t }
}

// WithMIME lets the codecs of a MIME type override the ones derived from
// sample entries.
func WithMIME(m av.MIME) DemuxerOption {
	return func(d *Demuxer) { d.mime = m }
}

func WithLogger(l *slog.Logger) DemuxerOption {
	return func(d *Demuxer) { d.log = l }
}

type demuxTrack struct {
	track   *av.Track
	trex    *mp4io.TrackExtend
	nextDTS int64
	started bool
}

// Demuxer is a push parser over an ISO-BMFF byte stream. It keeps the bytes
// from the oldest unread sample onward and walks top-level boxes as they
// arrive; mdat payloads are never parsed as boxes.
type Demuxer struct {
	log  *slog.Logger
	seek time.Duration
	mime av.MIME

	state  container.State
	ready  *container.Signal[[]*av.Track]
	tracks map[uint32]*demuxTrack
	order  []*av.Track

	buf       []byte
	base      int64 // file offset of buf[0]
	written   int64 // bytes received
	pos       int64 // next top-level box
	firstMdat int64
	closed    bool

	pending []pendingSample
	hasMoov bool
}

// pendingSample is a sample whose bytes may not have arrived yet.
type pendingSample struct {
	av.Sample
	size int64
}

func byOffset(a, b pendingSample) int { return cmp.Compare(a.Offset, b.Offset) }

func NewDemuxer(opts ...DemuxerOption) *Demuxer {
	d := &Demuxer{
		ready:     container.NewSignal[[]*av.Track](),
		tracks:    map[uint32]*demuxTrack{},
		firstMdat: -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With("component", "mp4-demuxer")
	return d
}

func (d *Demuxer) Tracks() *container.Signal[[]*av.Track] { return d.ready }
func (d *Demuxer) State() container.State                 { return d.state }

func (d *Demuxer) Write(b []byte) ([]container.Batch, error) {
	if d.closed {
		return nil, io.ErrClosedPipe
	}
	if skip := d.base - d.written; skip > 0 {
		n := min(skip, int64(len(b)))
		b = b[n:]
		d.written += n
	}
	d.buf = append(d.buf, b...)
	d.written += int64(len(b))
	return d.advance()
}

func (d *Demuxer) Close() ([]container.Batch, error) {
	if d.closed {
		return nil, nil
	}
	d.closed = true
	batches, err := d.advance()
	defer func() { d.state = container.Flushed }()
	if err != nil {
		return batches, err
	}
	if !d.hasMoov {
		d.ready.Resolve(nil, container.ErrNoTracks)
		return batches, container.ErrNoTracks
	}
	if n := len(d.pending); n > 0 {
		d.log.Warn("input ended inside sample data", "missing_samples", n)
		return batches, fmt.Errorf("mp4: %d samples past end of input: %w", n, io.ErrUnexpectedEOF)
	}
	return batches, nil
}

func (d *Demuxer) advance() ([]container.Batch, error) {
	if err := d.walk(); err != nil {
		if !d.ready.Resolved() {
			d.ready.Resolve(nil, err)
		}
		return nil, err
	}
	batches, err := d.extract()
	d.compact()
	return batches, err
}

// walk consumes every complete top-level box at d.pos.
func (d *Demuxer) walk() error {
	for d.pos < d.written {
		rel := d.pos - d.base
		h, err := mp4io.ReadHeader(d.buf[rel:])
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		} else if err != nil {
			return err
		}
		size := h.Size
		if size == 0 {
			if h.Tag != mp4io.MDAT && !d.closed {
				return nil
			}
			size = math.MaxInt64 - d.pos
			if h.Tag != mp4io.MDAT {
				size = d.written - d.pos
			}
		}
		switch h.Tag {
		case mp4io.MOOV, mp4io.MOOF:
			if rel+size > int64(len(d.buf)) {
				return nil
			}
			box := d.buf[rel : rel+size]
			if h.Tag == mp4io.MOOV {
				err = d.parseMovie(box)
			} else {
				err = d.parseFragment(box, d.pos)
			}
			if err != nil {
				return err
			}
		case mp4io.MDAT:
			if d.firstMdat < 0 {
				d.firstMdat = d.pos
			}
		}
		d.pos += size
	}
	return nil
}

func (d *Demuxer) parseMovie(b []byte) error {
	if d.hasMoov {
		d.log.Warn("ignoring additional moov box")
		return nil
	}
	moov := &mp4io.Movie{}
	if _, err := moov.Unmarshal(b, int(d.pos)); err != nil {
		return err
	}
	d.hasMoov = true
	var duration time.Duration
	var created time.Time
	if moov.Header != nil {
		duration = timescale.Duration(int64(moov.Header.Duration), moov.Header.TimeScale)
		created = moov.Header.CreateTime
		if duration == 0 && moov.MovieExtend != nil && moov.MovieExtend.Header != nil {
			duration = timescale.Duration(int64(moov.MovieExtend.Header.FragmentDuration), moov.Header.TimeScale)
		}
	}

	var progressive []pendingSample
	for _, trak := range moov.Tracks {
		t, err := d.newTrack(trak, duration, created)
		if err != nil {
			return err
		}
		if t == nil {
			continue
		}
		dt := &demuxTrack{track: t}
		if moov.MovieExtend != nil {
			dt.trex = moov.MovieExtend.TrackExtend(uint32(t.ID))
		}
		d.tracks[uint32(t.ID)] = dt
		d.order = append(d.order, t)

		samples, err := expandSampleTable(t, trak.SampleTable())
		if err != nil {
			return fmt.Errorf("mp4: track %d: %w", t.ID, err)
		}
		if len(samples) > 0 {
			last := samples[len(samples)-1]
			dt.nextDTS = last.DTS + last.Duration
			samples = d.seekSamples(dt, samples)
		}
		progressive = append(progressive, samples...)
	}
	if len(d.order) == 0 {
		return container.ErrNoTracks
	}
	slices.SortStableFunc(progressive, byOffset)
	d.pending = append(d.pending, progressive...)
	d.state = container.TracksReady
	d.ready.Resolve(d.order, nil)
	d.log.Debug("tracks ready", "tracks", len(d.order), "samples", len(progressive))
	return nil
}

// newTrack builds the public track of a trak box. Tracks that are neither
// audio nor video yield nil.
func (d *Demuxer) newTrack(trak *mp4io.Track, duration time.Duration, created time.Time) (*av.Track, error) {
	if trak.Header == nil || trak.Media == nil || trak.Media.Header == nil || trak.Media.Handler == nil {
		return nil, fmt.Errorf("mp4: incomplete trak box")
	}
	if h := trak.Media.Handler.Type; h != mp4io.VideoHandler && h != mp4io.SoundHandler {
		d.log.Debug("skipping track", "id", trak.Header.TrackID, "handler", h.String())
		return nil, nil
	}
	stbl := trak.SampleTable()
	if stbl == nil || stbl.SampleDesc == nil || len(stbl.SampleDesc.Entries) == 0 {
		return nil, fmt.Errorf("mp4: track %d has no sample description", trak.Header.TrackID)
	}
	t := av.Track{
		ID:        uint64(trak.Header.TrackID),
		Timescale: trak.Media.Header.TimeScale,
		Duration:  duration,
		CreatedAt: created,
	}
	entry := stbl.SampleDesc.Entries[0]
	switch trak.Media.Handler.Type {
	case mp4io.VideoHandler:
		e, ok := entry.(*mp4io.VisualSampleEntry)
		if !ok {
			return nil, container.UnsupportedCodec("mp4", entry.Tag().String())
		}
		codec, desc := videoCodec(e)
		if d.mime.VideoCodec != "" {
			codec = d.mime.VideoCodec
		}
		t.Kind = av.Video
		t.Video = &av.VideoConfig{Codec: codec, CodedWidth: int(e.Width), CodedHeight: int(e.Height), Description: bytes.Clone(desc)}
	case mp4io.SoundHandler:
		e, ok := entry.(*mp4io.AudioSampleEntry)
		if !ok {
			return nil, container.UnsupportedCodec("mp4", entry.Tag().String())
		}
		codec, desc, rate, channels := audioCodec(e)
		if d.mime.AudioCodec != "" {
			codec = d.mime.AudioCodec
		}
		t.Kind = av.Audio
		t.Audio = &av.AudioConfig{Codec: codec, SampleRate: rate, Channels: channels, Description: bytes.Clone(desc)}
	}
	return av.NewTrack(t, nil), nil
}

// parseFragment queues the samples of a moof box starting at file offset at.
func (d *Demuxer) parseFragment(b []byte, at int64) error {
	if !d.hasMoov {
		return fmt.Errorf("mp4: moof before moov")
	}
	moof := &mp4io.MovieFrag{}
	if _, err := moof.Unmarshal(b, int(at)); err != nil {
		return err
	}
	var samples []pendingSample
	dataEnd := at
	for _, traf := range moof.Tracks {
		if traf.Header == nil {
			continue
		}
		dt := d.tracks[traf.Header.TrackID]
		if dt == nil {
			continue
		}
		s, end := fragmentSamples(dt, traf, at, dataEnd)
		dataEnd = end
		samples = append(samples, d.seekSamples(dt, s)...)
	}
	slices.SortStableFunc(samples, byOffset)
	d.pending = append(d.pending, samples...)
	return nil
}

func fragmentSamples(dt *demuxTrack, traf *mp4io.TrackFrag, moofStart, prevEnd int64) ([]pendingSample, int64) {
	tfhd := traf.Header
	var trex mp4io.TrackExtend
	if dt.trex != nil {
		trex = *dt.trex
	}
	base := prevEnd
	switch {
	case tfhd.Flags&mp4io.TFHDBaseDataOffset != 0:
		base = int64(tfhd.BaseDataOffset)
	case tfhd.Flags&mp4io.TFHDDefaultBaseIsMOOF != 0:
		base = moofStart
	}
	if traf.DecodeTime != nil {
		dt.nextDTS = int64(traf.DecodeTime.Time)
	}
	pick := func(flag uint32, v, def uint32) uint32 {
		if tfhd.Flags&flag != 0 {
			return v
		}
		return def
	}
	defDuration := pick(mp4io.TFHDDefaultDuration, tfhd.DefaultDuration, trex.DefaultSampleDuration)
	defSize := pick(mp4io.TFHDDefaultSize, tfhd.DefaultSize, trex.DefaultSampleSize)
	defFlags := pick(mp4io.TFHDDefaultFlags, tfhd.DefaultFlags, trex.DefaultSampleFlags)

	var samples []pendingSample
	offset := base
	for _, run := range traf.Runs {
		if run.Flags&mp4io.TRUNDataOffset != 0 {
			offset = base + int64(run.DataOffset)
		}
		for i, e := range run.Entries {
			duration, size, flags := defDuration, defSize, defFlags
			if run.Flags&mp4io.TRUNSampleDuration != 0 {
				duration = e.Duration
			}
			if run.Flags&mp4io.TRUNSampleSize != 0 {
				size = e.Size
			}
			if run.Flags&mp4io.TRUNSampleFlags != 0 {
				flags = e.Flags
			} else if i == 0 && run.Flags&mp4io.TRUNFirstSampleFlags != 0 {
				flags = run.FirstSampleFlags
			}
			samples = append(samples, pendingSample{size: int64(size), Sample: av.Sample{
				TrackID:   dt.track.ID,
				Offset:    offset,
				DTS:       dt.nextDTS,
				CTS:       dt.nextDTS + int64(e.CTS),
				Duration:  int64(duration),
				Timescale: dt.track.Timescale,
				IsSync:    flags&mp4io.SampleIsNonSync == 0,
			}})
			offset += int64(size)
			dt.nextDTS += int64(duration)
		}
	}
	return samples, offset
}

// seekSamples drops the samples of a track before the seek point. Once a
// track has started every later sample is kept.
func (d *Demuxer) seekSamples(dt *demuxTrack, samples []pendingSample) []pendingSample {
	if dt.started || d.seek <= 0 || len(samples) == 0 {
		dt.started = true
		return samples
	}
	hint := timescale.ToScale(d.seek.Microseconds(), dt.track.Timescale)
	last := samples[len(samples)-1]
	if last.DTS+last.Duration <= hint {
		// the whole run precedes the seek point
		return nil
	}
	start := 0
	for i, s := range samples {
		if s.DTS > hint {
			break
		}
		if s.IsSync {
			start = i
		}
	}
	dt.started = true
	return samples[start:]
}

// extract returns the pending samples whose bytes have fully arrived,
// grouped into per-track batches.
func (d *Demuxer) extract() ([]container.Batch, error) {
	if !d.ready.Resolved() {
		return nil, nil
	}
	end := d.base + int64(len(d.buf))
	var batches []container.Batch
	n := 0
	for ; n < len(d.pending); n++ {
		s := d.pending[n]
		if s.Offset < d.base {
			return batches, fmt.Errorf("mp4: sample at %d precedes buffered data at %d", s.Offset, d.base)
		}
		if s.Offset+s.size > end {
			break
		}
		rel := s.Offset - d.base
		sample := s.Sample
		sample.Data = bytes.Clone(d.buf[rel : rel+s.size])
		dt := d.tracks[uint32(s.TrackID)]
		if k := len(batches) - 1; k >= 0 && batches[k].Track == dt.track {
			batches[k].Samples = append(batches[k].Samples, sample)
		} else {
			batches = append(batches, container.Batch{Track: dt.track, Samples: []av.Sample{sample}})
		}
	}
	d.pending = d.pending[n:]
	if len(batches) > 0 {
		d.state = container.Streaming
	}
	return batches, nil
}

// compact drops buffered bytes nothing can reference anymore.
func (d *Demuxer) compact() {
	keep := d.pos
	if len(d.pending) > 0 {
		keep = min(keep, d.pending[0].Offset)
	}
	if !d.hasMoov && d.firstMdat >= 0 {
		keep = min(keep, d.firstMdat)
	}
	if keep <= d.base {
		return
	}
	drop := keep - d.base
	if drop >= int64(len(d.buf)) {
		d.buf = d.buf[:0]
		d.base = keep
		return
	}
	d.buf = append(d.buf[:0], d.buf[drop:]...)
	d.base = keep
}

// expandSampleTable flattens stts, ctts, stsc, stsz, stco and stss into
// samples with absolute file offsets.
func expandSampleTable(t *av.Track, stbl *mp4io.SampleTable) ([]pendingSample, error) {
	if stbl == nil || stbl.SampleSize == nil || stbl.SampleSize.Count() == 0 {
		return nil, nil
	}
	if stbl.TimeToSample == nil || stbl.SampleToChunk == nil || stbl.ChunkOffset == nil {
		return nil, fmt.Errorf("incomplete sample table")
	}
	count := stbl.SampleSize.Count()
	samples := make([]pendingSample, count)

	var sync map[uint32]bool
	if stbl.SyncSample != nil {
		sync = make(map[uint32]bool, len(stbl.SyncSample.Entries))
		for _, n := range stbl.SyncSample.Entries {
			sync[n] = true
		}
	}

	i := 0
	var dts int64
	for _, e := range stbl.TimeToSample.Entries {
		for j := uint32(0); j < e.Count && i < count; j++ {
			samples[i].DTS = dts
			samples[i].Duration = int64(e.Duration)
			dts += int64(e.Duration)
			i++
		}
	}
	if i < count {
		return nil, fmt.Errorf("stts covers %d of %d samples", i, count)
	}

	i = 0
	if ctts := stbl.CompositionOffset; ctts != nil {
		for _, e := range ctts.Entries {
			for j := uint32(0); j < e.Count && i < count; j++ {
				samples[i].CTS = int64(e.Offset)
				i++
			}
		}
	}
	for k := range samples {
		samples[k].CTS += samples[k].DTS
	}

	chunks := stbl.ChunkOffset.Entries
	stsc := stbl.SampleToChunk.Entries
	i = 0
	for k, e := range stsc {
		last := uint32(len(chunks))
		if k+1 < len(stsc) {
			last = stsc[k+1].FirstChunk - 1
		}
		for c := e.FirstChunk; c <= last && i < count; c++ {
			if c == 0 || int(c) > len(chunks) {
				return nil, fmt.Errorf("stsc references chunk %d of %d", c, len(chunks))
			}
			offset := int64(chunks[c-1])
			for j := uint32(0); j < e.SamplesPerChunk && i < count; j++ {
				samples[i].Offset = offset
				offset += int64(stbl.SampleSize.Size(i))
				i++
			}
		}
	}
	if i < count {
		return nil, fmt.Errorf("stsc covers %d of %d samples", i, count)
	}

	for k := range samples {
		s := &samples[k]
		s.TrackID = t.ID
		s.Timescale = t.Timescale
		s.IsSync = sync == nil || sync[uint32(k+1)]
		s.size = int64(stbl.SampleSize.Size(k))
	}
	return samples, nil
}
