package mkv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/google/uuid"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec/av1"
	"github.com/schahriar/mfx/codec/opus"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/format/mkv/mkvio"
)

var ErrMuxerClosed = errors.New("mkv: muxer closed")

// opus streams are decoded 80ms ahead of a seek point
const opusSeekPreRoll = 80000000

type MuxerConfig struct {
	Video *av.VideoConfig
	Audio *av.AudioConfig
	// Streaming emits bytes as soon as they are written. Otherwise the file
	// is emitted as one blob on Close.
	Streaming bool
	ChunkSize int
	MimeType  string
	Logger    *slog.Logger
}

type segmentInfo struct {
	TimecodeScale uint64 `ebml:"TimecodeScale"`
	SegmentUID    []byte `ebml:"SegmentUID"`
	MuxingApp     string `ebml:"MuxingApp"`
	WritingApp    string `ebml:"WritingApp"`
	// Duration is a placeholder in finalized output, patched on Close.
	Duration float64 `ebml:"Duration,omitempty"`
}

type blockWriter interface {
	Write(keyframe bool, timestamp int64, b []byte) (int, error)
	Close() error
}

type muxTrack struct {
	number  uint64
	kind    av.Kind
	entry   webm.TrackEntry
	writer  blockWriter
	firstTS int64
	end     int64
	started bool
}

// Muxer writes Matroska (WebM for VP8, VP9, AV1, Opus and Vorbis) with a
// millisecond timecode scale. The segment is written lazily on the first
// chunk so encoder descriptions can still reach CodecPrivate. emit is called
// from the writer goroutine, never concurrently.
type Muxer struct {
	log    *slog.Logger
	cfg    MuxerConfig
	out    *container.Chunker
	video  *muxTrack
	audio  *muxTrack
	tracks []*muxTrack
	uid    uuid.UUID

	sink    *blobSink
	started bool
	closed  bool
}

func NewMuxer(cfg MuxerConfig, emit container.Emit) (*Muxer, error) {
	if cfg.Video == nil && cfg.Audio == nil {
		return nil, container.ErrNoTracks
	}
	m := &Muxer{cfg: cfg, log: cfg.Logger, uid: uuid.New()}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "mkv-muxer")
	if m.cfg.MimeType == "" {
		m.cfg.MimeType = "video/webm"
	}
	m.out = container.NewChunker(cfg.ChunkSize, m.cfg.MimeType, emit)

	if v := cfg.Video; v != nil {
		id, err := codecID(v.Codec)
		if err != nil {
			return nil, err
		}
		m.video = &muxTrack{kind: av.Video, entry: webm.TrackEntry{
			Name:         "Video",
			CodecID:      id,
			CodecPrivate: videoPrivate(id, v),
			TrackType:    trackTypeVideo,
			Video:        &webm.Video{PixelWidth: uint64(v.CodedWidth), PixelHeight: uint64(v.CodedHeight)},
		}}
		m.tracks = append(m.tracks, m.video)
	}
	if a := cfg.Audio; a != nil {
		id, err := codecID(a.Codec)
		if err != nil {
			return nil, err
		}
		entry := webm.TrackEntry{
			Name:         "Audio",
			CodecID:      id,
			CodecPrivate: a.Description,
			TrackType:    trackTypeAudio,
			Audio:        &webm.Audio{SamplingFrequency: float64(a.SampleRate), Channels: uint64(a.Channels)},
		}
		if id == CodecOpus {
			head := opus.HeadFrom(a.Description, a.Channels, a.SampleRate)
			entry.CodecPrivate = head.Marshal()
			entry.CodecDelay = uint64(head.PreSkip) * 1000000000 / opus.SampleRate
			entry.SeekPreRoll = opusSeekPreRoll
			entry.Audio.SamplingFrequency = opus.SampleRate
		}
		m.audio = &muxTrack{kind: av.Audio, entry: entry}
		m.tracks = append(m.tracks, m.audio)
	}
	for i, t := range m.tracks {
		t.number = uint64(i + 1)
		t.entry.TrackNumber = t.number
		t.entry.TrackUID = t.number
	}
	return m, nil
}

func videoPrivate(id string, v *av.VideoConfig) []byte {
	if len(v.Description) > 0 {
		return v.Description
	}
	if !strings.Contains(v.Codec, ".") {
		return nil
	}
	switch id {
	case CodecVP9:
		return vp9Private(v.Codec)
	case CodecAV1:
		if r, err := av1.ParseCodec(v.Codec); err == nil {
			return r.Marshal()
		}
	}
	return nil
}

// docType is matroska when a codec outside the WebM set is present.
func (m *Muxer) docType() string {
	for _, t := range m.tracks {
		if id := t.entry.CodecID; id == CodecAVC || id == CodecHEVC {
			return "matroska"
		}
	}
	return "webm"
}

func (m *Muxer) start() error {
	m.started = true
	m.sink = &blobSink{streaming: m.cfg.Streaming, out: m.out, done: make(chan struct{})}
	if !m.cfg.Streaming {
		m.sink.finalize = m.finalize
	}
	entries := make([]webm.TrackEntry, len(m.tracks))
	for i, t := range m.tracks {
		entries[i] = t.entry
	}
	header := &webm.EBMLHeader{
		EBMLVersion:        1,
		EBMLReadVersion:    1,
		EBMLMaxIDLength:    4,
		EBMLMaxSizeLength:  8,
		DocType:            m.docType(),
		DocTypeVersion:     4,
		DocTypeReadVersion: 2,
	}
	info := &segmentInfo{
		TimecodeScale: defaultTimecodeScale,
		SegmentUID:    m.uid[:],
		MuxingApp:     "mfx",
		WritingApp:    "mfx",
	}
	if !m.cfg.Streaming {
		info.Duration = 1
	}
	writers, err := webm.NewSimpleBlockWriter(m.sink, entries,
		mkvcore.WithEBMLHeader(header),
		mkvcore.WithSegmentInfo(info),
		mkvcore.WithOnErrorHandler(func(err error) {
			m.log.Warn("block writer", "error", err)
		}),
		mkvcore.WithOnFatalHandler(m.sink.fail),
	)
	if err != nil {
		return fmt.Errorf("mkv: %w", err)
	}
	for i, t := range m.tracks {
		t.writer = writers[i]
	}
	m.log.Debug("segment started", "doctype", header.DocType, "tracks", len(entries))
	return nil
}

func (m *Muxer) Write(c av.EncodedChunk) error {
	if m.closed {
		return ErrMuxerClosed
	}
	if c.Video != nil && m.video == nil {
		return fmt.Errorf("mkv: video chunk without a video track")
	}
	if c.Audio != nil && m.audio == nil {
		return fmt.Errorf("mkv: audio chunk without an audio track")
	}
	if !m.started {
		if c.Video != nil && len(c.Video.Metadata.Description) > 0 {
			m.video.entry.CodecPrivate = bytes.Clone(c.Video.Metadata.Description)
		}
		if c.Audio != nil && len(c.Audio.Metadata.Description) > 0 && m.audio.entry.CodecID != CodecOpus {
			m.audio.entry.CodecPrivate = bytes.Clone(c.Audio.Metadata.Description)
		}
		if err := m.start(); err != nil {
			return err
		}
	}
	if err := m.sink.error(); err != nil {
		return err
	}
	if c.Video != nil {
		if err := m.write(m.video, c.Video.Chunk); err != nil {
			return err
		}
	}
	if c.Audio != nil {
		return m.write(m.audio, c.Audio.Chunk)
	}
	return nil
}

func (m *Muxer) write(t *muxTrack, c av.CodedChunk) error {
	if !t.started {
		t.firstTS = c.Timestamp
	}
	key := c.IsKey() || t.kind == av.Audio || !t.started
	t.started = true
	ts := max(c.Timestamp-t.firstTS, 0)
	t.end = max(t.end, ts+max(c.Duration, 0))
	if _, err := t.writer.Write(key, ts/1000, c.Data); err != nil {
		return fmt.Errorf("mkv: track %d: %w", t.number, err)
	}
	return nil
}

// Close ends every track and returns once the segment has been emitted.
func (m *Muxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if !m.started {
		if err := m.start(); err != nil {
			return err
		}
	}
	var end int64
	for _, t := range m.tracks {
		end = max(end, t.end)
	}
	m.sink.setDuration(float64(end) * 1000 / defaultTimecodeScale)
	var errs []error
	for _, t := range m.tracks {
		if err := t.writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	<-m.sink.done
	if err := m.sink.error(); err != nil {
		errs = append(errs, err)
	}
	m.log.Debug("finalized", "bytes", m.out.End())
	return errors.Join(errs...)
}

// finalize gives the buffered segment its size and duration. ebml-go writes
// the Segment with an 8 byte unknown size followed by Info, so both fit in
// place.
func (m *Muxer) finalize(b []byte, duration float64) error {
	_, size, n, _, err := mkvio.ReadHeader(b)
	if err != nil || n == 0 {
		return fmt.Errorf("mkv: finalize: bad EBML header")
	}
	seg := b[n+int(size):]
	id, _, n, unknown, err := mkvio.ReadHeader(seg)
	if err != nil || id != mkvio.ElementSegment.ID || !unknown || n != 12 {
		return fmt.Errorf("mkv: finalize: unexpected segment header")
	}
	body := seg[n:]
	binary.BigEndian.PutUint64(seg[4:n], uint64(len(body)))
	seg[4] = 0x01

	id, size, n, _, err = mkvio.ReadHeader(body)
	if err != nil || id != mkvio.ElementInfo.ID {
		return fmt.Errorf("mkv: finalize: segment does not start with Info")
	}
	info := body[n : n+int(size)]
	for len(info) > 0 {
		id, size, n, _, err := mkvio.ReadHeader(info)
		if err != nil || n == 0 || n+int(size) > len(info) {
			break
		}
		if id == mkvio.ElementDuration.ID && size == 8 {
			binary.BigEndian.PutUint64(info[n:], math.Float64bits(duration))
			m.log.Debug("segment duration", "ms", duration)
			return nil
		}
		info = info[n+int(size):]
	}
	return fmt.Errorf("mkv: finalize: no Duration in Info")
}

// blobSink receives the serialized segment from the block writer goroutine.
type blobSink struct {
	streaming bool
	out       *container.Chunker
	buf       bytes.Buffer
	finalize  func(b []byte, duration float64) error
	duration  float64

	mu       sync.Mutex
	err      error
	done     chan struct{}
	doneOnce sync.Once
}

var _ io.WriteCloser = (*blobSink)(nil)

func (s *blobSink) Write(b []byte) (int, error) {
	if s.streaming {
		return s.out.Write(b)
	}
	return s.buf.Write(b)
}

func (s *blobSink) Close() error {
	if !s.streaming {
		s.mu.Lock()
		d := s.duration
		s.mu.Unlock()
		if err := s.finalize(s.buf.Bytes(), d); err != nil {
			s.fail(err)
			return err
		}
		s.out.Write(s.buf.Bytes())
	}
	s.out.Flush()
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

func (s *blobSink) setDuration(d float64) {
	s.mu.Lock()
	s.duration = d
	s.mu.Unlock()
}

func (s *blobSink) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = fmt.Errorf("mkv: %w", err)
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *blobSink) error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
