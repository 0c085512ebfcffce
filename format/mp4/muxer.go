package mp4

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec/opus"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/format/mp4/mp4io"
	"github.com/schahriar/mfx/format/mp4/timescale"
	"github.com/schahriar/mfx/utils/bits/pio"
)

var ErrMuxerClosed = errors.New("mp4: muxer closed")

const (
	movieTimescale = 1000
	videoTimescale = 90000
	// audio-only fragments are cut once they hold this much media
	audioFragment = time.Second
	// duration assumed for a lone last sample without one
	defaultVideoDuration = 33333
	defaultAudioDuration = 20000
)

type MuxerConfig struct {
	Video *av.VideoConfig
	Audio *av.AudioConfig
	// Streaming writes a fragmented file whose bytes are final as soon as
	// they are emitted.
	Streaming bool
	ChunkSize int
	MimeType  string
	Logger    *slog.Logger
}

type heldSample struct {
	data     []byte
	ts       int64 // µs, first timestamp offset applied
	duration int64 // µs
	sync     bool
}

type fragSample struct {
	data     []byte
	dts      int64
	duration uint32
	cts      int32
	sync     bool
}

type chunkRun struct {
	offset  uint64
	samples uint32
}

type muxTrack struct {
	id          uint32
	kind        av.Kind
	video       *av.VideoConfig
	audio       *av.AudioConfig
	timescale   uint32
	description []byte

	firstTS  int64
	hasFirst bool
	held     *heldSample
	lastDur  int64
	nextDTS  int64

	frag []fragSample

	// progressive sample tables
	sizes    []uint32
	stts     []mp4io.TimeToSampleEntry
	ctts     []mp4io.CompositionOffsetEntry
	hasCTS   bool
	sync     []uint32
	allSync  bool
	chunks   []chunkRun
	lastData int64
}

// Muxer writes ISO-BMFF. Streaming output is ftyp+moov followed by one
// moof+mdat per video keyframe (or per second of audio-only media).
// Otherwise samples are written progressively into a single mdat and the moov
// and an mdat size patch are emitted on Close.
type Muxer struct {
	log    *slog.Logger
	cfg    MuxerConfig
	out    *container.Chunker
	tracks []*muxTrack
	video  *muxTrack
	audio  *muxTrack

	started   bool
	closed    bool
	seq       uint32
	mdatStart int64
	created   time.Time
}

// NewMuxer validates the codec mapping of every configured track; blobs are
// reported through emit.
func NewMuxer(cfg MuxerConfig, emit container.Emit) (*Muxer, error) {
	if cfg.Video == nil && cfg.Audio == nil {
		return nil, container.ErrNoTracks
	}
	m := &Muxer{cfg: cfg, log: cfg.Logger, created: time.Now()}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "mp4-muxer")
	if m.cfg.MimeType == "" {
		m.cfg.MimeType = "video/mp4"
	}
	m.out = container.NewChunker(cfg.ChunkSize, m.cfg.MimeType, emit)

	if v := cfg.Video; v != nil {
		m.video = &muxTrack{kind: av.Video, video: v, timescale: videoTimescale, description: v.Description}
		m.tracks = append(m.tracks, m.video)
	}
	if a := cfg.Audio; a != nil {
		rate := uint32(a.SampleRate)
		if av.CodecFamily(a.Codec) == "opus" || rate == 0 {
			rate = opus.SampleRate
		}
		m.audio = &muxTrack{kind: av.Audio, audio: a, timescale: rate, description: a.Description}
		m.tracks = append(m.tracks, m.audio)
	}
	for i, t := range m.tracks {
		t.id = uint32(i + 1)
		t.allSync = true
		if _, err := sampleEntry(t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Muxer) Write(c av.EncodedChunk) error {
	if m.closed {
		return ErrMuxerClosed
	}
	if c.Video != nil {
		if m.video == nil {
			return fmt.Errorf("mp4: video chunk without a video track")
		}
		if err := m.add(m.video, c.Video); err != nil {
			return err
		}
	}
	if c.Audio != nil {
		if m.audio == nil {
			return fmt.Errorf("mp4: audio chunk without an audio track")
		}
		return m.add(m.audio, c.Audio)
	}
	return nil
}

func (m *Muxer) add(t *muxTrack, e *av.Encoded) error {
	if d := e.Metadata.Description; len(d) > 0 && !m.started {
		t.description = bytes.Clone(d)
	}
	ts := e.Chunk.Timestamp
	if !t.hasFirst {
		t.firstTS, t.hasFirst = ts, true
	}
	ts = max(ts-t.firstTS, 0)
	s := &heldSample{data: e.Chunk.Data, ts: ts, duration: e.Chunk.Duration, sync: e.Chunk.IsKey() || t.kind == av.Audio}
	h := t.held
	t.held = s
	if h == nil {
		return nil
	}
	if d := s.ts - h.ts; d > 0 {
		h.duration = d
	}
	return m.commit(t, h)
}

// commit appends a sample whose duration is now known.
func (m *Muxer) commit(t *muxTrack, h *heldSample) error {
	if h.duration <= 0 {
		h.duration = t.lastDur
	}
	if h.duration <= 0 {
		h.duration = defaultAudioDuration
		if t.kind == av.Video {
			h.duration = defaultVideoDuration
		}
	}
	t.lastDur = h.duration

	pts := timescale.ToScale(h.ts, t.timescale)
	end := timescale.ToScale(h.ts+h.duration, t.timescale)
	s := fragSample{
		data:     h.data,
		dts:      t.nextDTS,
		duration: uint32(max(end-pts, 1)),
		cts:      int32(pts - t.nextDTS),
		sync:     h.sync,
	}
	t.nextDTS += int64(s.duration)

	if !m.cfg.Streaming {
		return m.writeSample(t, s)
	}
	if t.kind == av.Video && s.sync && len(t.frag) > 0 {
		if err := m.flushFragment(); err != nil {
			return err
		}
	}
	t.frag = append(t.frag, s)
	if m.video == nil && fragDuration(t) >= timescale.ToScale(audioFragment.Microseconds(), t.timescale) {
		return m.flushFragment()
	}
	return nil
}

func fragDuration(t *muxTrack) (d int64) {
	for _, s := range t.frag {
		d += int64(s.duration)
	}
	return
}

func (m *Muxer) fileType() *mp4io.FileType {
	ftyp := &mp4io.FileType{
		MajorBrand:   mp4io.StringToTag("isom"),
		MinorVersion: 0x200,
	}
	brands := []string{"isom", "iso2", "mp41"}
	if m.cfg.Streaming {
		brands = []string{"isom", "iso5", "iso6", "mp41"}
	}
	if m.video != nil && av.CodecFamily(m.video.video.Codec) == "avc" {
		brands = append(brands, "avc1")
	}
	for _, b := range brands {
		ftyp.CompatibleBrands = append(ftyp.CompatibleBrands, mp4io.StringToTag(b))
	}
	return ftyp
}

// start writes ftyp followed by the init moov when streaming, or by a large
// mdat header whose size is patched on Close.
func (m *Muxer) start() error {
	if m.started {
		return nil
	}
	m.started = true
	m.out.Write(mp4io.Marshal(m.fileType()))
	if m.cfg.Streaming {
		moov, err := m.movie()
		if err != nil {
			return err
		}
		m.out.Write(mp4io.Marshal(moov))
		return nil
	}
	m.mdatStart = m.out.End()
	hdr := make([]byte, 16)
	pio.PutU32BE(hdr, 1)
	pio.PutU32BE(hdr[4:], uint32(mp4io.MDAT))
	m.out.Write(hdr)
	return nil
}

// writeSample appends sample data to the progressive mdat and records it in
// the sample tables.
func (m *Muxer) writeSample(t *muxTrack, s fragSample) error {
	if err := m.start(); err != nil {
		return err
	}
	offset := m.out.End()
	m.out.Write(s.data)

	if n := len(t.chunks); n > 0 && t.lastData == offset {
		t.chunks[n-1].samples++
	} else {
		t.chunks = append(t.chunks, chunkRun{offset: uint64(offset), samples: 1})
	}
	t.lastData = offset + int64(len(s.data))

	t.sizes = append(t.sizes, uint32(len(s.data)))
	if n := len(t.stts); n > 0 && t.stts[n-1].Duration == s.duration {
		t.stts[n-1].Count++
	} else {
		t.stts = append(t.stts, mp4io.TimeToSampleEntry{Count: 1, Duration: s.duration})
	}
	if n := len(t.ctts); n > 0 && t.ctts[n-1].Offset == s.cts {
		t.ctts[n-1].Count++
	} else {
		t.ctts = append(t.ctts, mp4io.CompositionOffsetEntry{Count: 1, Offset: s.cts})
	}
	if s.cts != 0 {
		t.hasCTS = true
	}
	if s.sync {
		t.sync = append(t.sync, uint32(len(t.sizes)))
	} else {
		t.allSync = false
	}
	return nil
}

// flushFragment writes the init segment if needed, then one moof+mdat with
// every buffered sample.
func (m *Muxer) flushFragment() error {
	if err := m.start(); err != nil {
		return err
	}
	moof := &mp4io.MovieFrag{Header: &mp4io.MovieFragHeader{Seqnum: m.seq + 1}}
	var runs []*mp4io.TrackFragRun
	var payload [][]byte
	size := 0
	for _, t := range m.tracks {
		if len(t.frag) == 0 {
			continue
		}
		run := &mp4io.TrackFragRun{FullAtom: mp4io.FullAtom{
			Version: 1,
			Flags:   mp4io.TRUNDataOffset | mp4io.TRUNSampleDuration | mp4io.TRUNSampleSize | mp4io.TRUNSampleFlags | mp4io.TRUNSampleCTS,
		}}
		run.DataOffset = int32(size)
		for _, s := range t.frag {
			flags := uint32(mp4io.SampleHasNoDependencies)
			if !s.sync {
				flags = mp4io.SampleHasDependencies | mp4io.SampleIsNonSync
			}
			run.Entries = append(run.Entries, mp4io.TrackFragRunEntry{Duration: s.duration, Size: uint32(len(s.data)), Flags: flags, CTS: s.cts})
			payload = append(payload, s.data)
			size += len(s.data)
		}
		runs = append(runs, run)
		moof.Tracks = append(moof.Tracks, &mp4io.TrackFrag{
			Header:     &mp4io.TrackFragHeader{FullAtom: mp4io.FullAtom{Flags: mp4io.TFHDDefaultBaseIsMOOF}, TrackID: t.id},
			DecodeTime: &mp4io.TrackFragDecodeTime{FullAtom: mp4io.FullAtom{Version: 1}, Time: uint64(t.frag[0].dts)},
			Runs:       []*mp4io.TrackFragRun{run},
		})
		t.frag = t.frag[:0]
	}
	if len(runs) == 0 {
		return nil
	}
	m.seq++
	base := int32(moof.Len() + 8)
	for _, run := range runs {
		run.DataOffset += base
	}
	m.out.Write(mp4io.Marshal(moof))
	hdr := make([]byte, 8)
	pio.PutU32BE(hdr, uint32(8+size))
	pio.PutU32BE(hdr[4:], uint32(mp4io.MDAT))
	m.out.Write(hdr)
	for _, b := range payload {
		m.out.Write(b)
	}
	return nil
}

// movie builds the moov box. In streaming mode the sample tables are empty,
// durations are unknown and an mvex announces fragments.
func (m *Muxer) movie() (*mp4io.Movie, error) {
	moov := &mp4io.Movie{
		Header: &mp4io.MovieHeader{
			CreateTime:      m.created,
			ModifyTime:      m.created,
			TimeScale:       movieTimescale,
			PreferredRate:   1,
			PreferredVolume: 1,
			Matrix:          mp4io.UnityMatrix,
			NextTrackID:     uint32(len(m.tracks) + 1),
		},
	}
	if m.cfg.Streaming {
		moov.MovieExtend = &mp4io.MovieExtend{}
	}
	for _, t := range m.tracks {
		trak, err := m.track(t)
		if err != nil {
			return nil, err
		}
		moov.Header.Duration = max(moov.Header.Duration, trak.Header.Duration)
		moov.Tracks = append(moov.Tracks, trak)
		if moov.MovieExtend != nil {
			moov.MovieExtend.Tracks = append(moov.MovieExtend.Tracks, &mp4io.TrackExtend{TrackID: t.id, DefaultSampleDescIdx: 1})
		}
	}
	return moov, nil
}

func (m *Muxer) track(t *muxTrack) (*mp4io.Track, error) {
	entry, err := sampleEntry(t)
	if err != nil {
		return nil, err
	}
	var duration uint64
	if !m.cfg.Streaming {
		duration = uint64(t.nextDTS)
	}
	trak := &mp4io.Track{
		Header: &mp4io.TrackHeader{
			FullAtom:   mp4io.FullAtom{Flags: mp4io.TrackEnabled | mp4io.TrackInMovie},
			CreateTime: m.created,
			ModifyTime: m.created,
			TrackID:    t.id,
			Duration:   uint64(timescale.ToScale(timescale.Micros(int64(duration), t.timescale), movieTimescale)),
			Matrix:     mp4io.UnityMatrix,
		},
		Media: &mp4io.Media{
			Header: &mp4io.MediaHeader{
				CreateTime: m.created,
				ModifyTime: m.created,
				TimeScale:  t.timescale,
				Duration:   duration,
				Language:   mp4io.LanguageUndetermined,
			},
			Info: &mp4io.MediaInfo{Data: mp4io.SelfContainedDataInfo()},
		},
	}
	if t.kind == av.Video {
		trak.Header.TrackWidth = float64(t.video.CodedWidth)
		trak.Header.TrackHeight = float64(t.video.CodedHeight)
		trak.Media.Handler = &mp4io.HandlerRefer{Type: mp4io.VideoHandler, Name: "VideoHandler"}
		trak.Media.Info.Video = &mp4io.VideoMediaInfo{FullAtom: mp4io.FullAtom{Flags: 1}}
	} else {
		trak.Header.AlternateGroup = 1
		trak.Header.Volume = 1
		trak.Media.Handler = &mp4io.HandlerRefer{Type: mp4io.SoundHandler, Name: "SoundHandler"}
		trak.Media.Info.Sound = &mp4io.SoundMediaInfo{}
	}

	stbl := &mp4io.SampleTable{
		SampleDesc:    &mp4io.SampleDesc{Entries: []mp4io.Atom{entry}},
		TimeToSample:  &mp4io.TimeToSample{Entries: t.stts},
		SampleToChunk: &mp4io.SampleToChunk{},
		SampleSize:    &mp4io.SampleSize{Entries: t.sizes},
		ChunkOffset:   &mp4io.ChunkOffset{},
	}
	for i, c := range t.chunks {
		stbl.ChunkOffset.Entries = append(stbl.ChunkOffset.Entries, c.offset)
		if n := len(stbl.SampleToChunk.Entries); n == 0 || stbl.SampleToChunk.Entries[n-1].SamplesPerChunk != c.samples {
			stbl.SampleToChunk.Entries = append(stbl.SampleToChunk.Entries, mp4io.SampleToChunkEntry{
				FirstChunk:      uint32(i + 1),
				SamplesPerChunk: c.samples,
				SampleDescId:    1,
			})
		}
	}
	if t.hasCTS {
		stbl.CompositionOffset = &mp4io.CompositionOffset{FullAtom: mp4io.FullAtom{Version: 1}, Entries: t.ctts}
	}
	if t.kind == av.Video && !t.allSync {
		stbl.SyncSample = &mp4io.SyncSample{Entries: t.sync}
	}
	trak.Media.Info.Sample = stbl
	return trak, nil
}

// Close commits held samples and finalizes the file.
func (m *Muxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	for _, t := range m.tracks {
		if h := t.held; h != nil {
			t.held = nil
			if err := m.commit(t, h); err != nil {
				return err
			}
		}
	}
	if m.cfg.Streaming {
		if err := m.flushFragment(); err != nil {
			return err
		}
		m.out.Flush()
		return nil
	}

	if err := m.start(); err != nil {
		return err
	}
	mdatSize := m.out.End() - m.mdatStart
	moov, err := m.movie()
	if err != nil {
		return err
	}
	m.out.Write(mp4io.Marshal(moov))
	patch := make([]byte, 8)
	pio.PutU64BE(patch, uint64(mdatSize))
	m.out.WriteAt(patch, m.mdatStart+8)
	m.out.Flush()
	m.log.Debug("finalized", "bytes", m.out.End(), "mdat", mdatSize)
	return nil
}
