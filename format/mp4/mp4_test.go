package mp4

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format/container"
)

var testAVCC = []byte{1, 0x42, 0xe0, 0x1e, 0xff, 0xe1, 0x00, 0x04, 0x67, 0x42, 0xe0, 0x1e, 0x01, 0x00, 0x02, 0x68, 0xce}

const (
	videoFrames = 30
	audioFrames = 50
	audioStep   = 21333
	videoStep   = 33333
)

func videoData(i int) []byte { return bytes.Repeat([]byte{byte(i)}, 50+i) }
func audioData(i int) []byte { return bytes.Repeat([]byte{byte(0x80 | i)}, 10+i%7) }

// writeTestMovie muxes a 1s clip with a keyframe every 10 video frames and
// returns the assembled file.
func writeTestMovie(t *testing.T, cfg MuxerConfig) []byte {
	t.Helper()
	var blobs []av.Blob
	m, err := NewMuxer(cfg, func(b av.Blob) { blobs = append(blobs, b) })
	if err != nil {
		t.Fatal(err)
	}
	v, a := 0, 0
	for v < videoFrames || a < audioFrames {
		if v < videoFrames && (a >= audioFrames || int64(v)*videoStep <= int64(a)*audioStep) {
			typ := av.Delta
			if v%10 == 0 {
				typ = av.Key
			}
			enc := &av.Encoded{Chunk: av.CodedChunk{Type: typ, Timestamp: int64(v) * videoStep, Duration: videoStep, Data: videoData(v)}}
			if err := m.Write(av.EncodedChunk{Video: enc}); err != nil {
				t.Fatal(err)
			}
			v++
			continue
		}
		enc := &av.Encoded{Chunk: av.CodedChunk{Type: av.Key, Timestamp: int64(a) * audioStep, Duration: audioStep, Data: audioData(a)}}
		if err := m.Write(av.EncodedChunk{Audio: enc}); err != nil {
			t.Fatal(err)
		}
		a++
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	return assemble(blobs)
}

func assemble(blobs []av.Blob) []byte {
	var out []byte
	for _, b := range blobs {
		if end := int(b.End()); end > len(out) {
			out = append(out, make([]byte, end-len(out))...)
		}
		copy(out[b.ByteOffset:], b.Bytes)
	}
	return out
}

func testConfig(streaming bool) MuxerConfig {
	return MuxerConfig{
		Video:     &av.VideoConfig{Codec: "avc1.42E01E", CodedWidth: 320, CodedHeight: 240, Description: testAVCC},
		Audio:     &av.AudioConfig{Codec: "mp4a.40.2", SampleRate: 48000, Channels: 2},
		Streaming: streaming,
	}
}

type demuxed struct {
	tracks  []*av.Track
	samples map[uint64][]av.Sample
}

func demux(t *testing.T, file []byte, piece int, opts ...DemuxerOption) demuxed {
	t.Helper()
	d := NewDemuxer(opts...)
	out := demuxed{samples: map[uint64][]av.Sample{}}
	collect := func(batches []container.Batch) {
		for _, b := range batches {
			out.samples[b.Track.ID] = append(out.samples[b.Track.ID], b.Samples...)
		}
	}
	for len(file) > 0 {
		n := min(piece, len(file))
		batches, err := d.Write(file[:n])
		if err != nil {
			t.Fatal(err)
		}
		collect(batches)
		file = file[n:]
	}
	batches, err := d.Close()
	if err != nil {
		t.Fatal(err)
	}
	collect(batches)
	if d.State() != container.Flushed {
		t.Errorf("state %s", d.State())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if out.tracks, err = d.Tracks().Wait(ctx); err != nil {
		t.Fatal(err)
	}
	return out
}

func checkRoundTrip(t *testing.T, got demuxed) {
	t.Helper()
	if len(got.tracks) != 2 {
		t.Fatalf("got %d tracks", len(got.tracks))
	}
	video, audio := got.tracks[0], got.tracks[1]
	if video.Kind != av.Video || video.ID != 1 || audio.Kind != av.Audio || audio.ID != 2 {
		t.Fatalf("tracks: %s, %s", video, audio)
	}
	if video.Video.Codec != "avc1.42e01e" || video.Video.CodedWidth != 320 || !bytes.Equal(video.Video.Description, testAVCC) {
		t.Errorf("video config: %+v", video.Video)
	}
	if audio.Audio.Codec != "mp4a.40.2" || audio.Audio.SampleRate != 48000 || audio.Audio.Channels != 2 {
		t.Errorf("audio config: %+v", audio.Audio)
	}

	vs, as := got.samples[1], got.samples[2]
	if len(vs) != videoFrames || len(as) != audioFrames {
		t.Fatalf("samples: %d video, %d audio", len(vs), len(as))
	}
	for i, s := range vs {
		if !bytes.Equal(s.Data, videoData(i)) {
			t.Fatalf("video sample %d data mismatch", i)
		}
		if s.IsSync != (i%10 == 0) {
			t.Errorf("video sample %d sync=%v", i, s.IsSync)
		}
		c := video.Chunk(s)
		if d := c.Timestamp - int64(i)*videoStep; d < -11 || d > 11 {
			t.Errorf("video sample %d at %dus", i, c.Timestamp)
		}
	}
	for i, s := range as {
		if !bytes.Equal(s.Data, audioData(i)) {
			t.Fatalf("audio sample %d data mismatch", i)
		}
		c := audio.Chunk(s)
		if d := c.Timestamp - int64(i)*audioStep; d < -21 || d > 21 {
			t.Errorf("audio sample %d at %dus", i, c.Timestamp)
		}
	}
}

func TestProgressiveRoundTrip(t *testing.T) {
	t.Parallel()
	file := writeTestMovie(t, testConfig(false))
	got := demux(t, file, 97)
	checkRoundTrip(t, got)
	// the movie lasts as long as the 50 AAC frames
	if d := got.tracks[0].Duration; d < 1060*time.Millisecond || d > 1075*time.Millisecond {
		t.Errorf("duration %s", d)
	}
}

func TestFragmentedRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := testConfig(true)
	cfg.ChunkSize = 64
	file := writeTestMovie(t, cfg)
	checkRoundTrip(t, demux(t, file, 1000))
}

func TestStableTrackIDs(t *testing.T) {
	t.Parallel()
	file := writeTestMovie(t, testConfig(false))
	a, b := demux(t, file, 4096), demux(t, file, 13)
	for i := range a.tracks {
		if a.tracks[i].ID != b.tracks[i].ID {
			t.Errorf("track %d: id %d vs %d", i, a.tracks[i].ID, b.tracks[i].ID)
		}
	}
}

func TestSeek(t *testing.T) {
	t.Parallel()
	file := writeTestMovie(t, testConfig(false))
	got := demux(t, file, 512, WithSeek(500*time.Millisecond))
	vs := got.samples[1]
	if len(vs) != 20 {
		t.Fatalf("got %d video samples, want 20", len(vs))
	}
	if !vs[0].IsSync || !bytes.Equal(vs[0].Data, videoData(10)) {
		t.Errorf("first sample is not keyframe 10")
	}
	if as := got.samples[2]; len(as) == 0 || len(as) >= audioFrames {
		t.Errorf("audio not trimmed: %d samples", len(as))
	}
}

func TestTruncatedBeforeMoov(t *testing.T) {
	t.Parallel()
	file := writeTestMovie(t, testConfig(false))
	d := NewDemuxer()
	if _, err := d.Write(file[:len(file)/2]); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Close(); !errors.Is(err, container.ErrNoTracks) {
		t.Fatalf("got %v", err)
	}
	if _, err := d.Tracks().Wait(context.Background()); !errors.Is(err, container.ErrNoTracks) {
		t.Errorf("tracks: %v", err)
	}
}

func TestUnsupportedCodec(t *testing.T) {
	t.Parallel()
	_, err := NewMuxer(MuxerConfig{Video: &av.VideoConfig{Codec: "theora"}}, func(av.Blob) {})
	if !errors.Is(err, container.ErrUnsupportedCodec) {
		t.Fatalf("got %v", err)
	}
	_, err = NewMuxer(MuxerConfig{Audio: &av.AudioConfig{Codec: "vorbis", SampleRate: 48000, Channels: 2}}, func(av.Blob) {})
	if !errors.Is(err, container.ErrUnsupportedCodec) {
		t.Fatalf("got %v", err)
	}
}

func TestMuxerCodecMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		codec string
		want  string
	}{
		{"vp09.00.21.08", "vp09.00.21.08"},
		{"vp9", "vp09.00.31.08"},
		{"av01.0.04M.08", "av01.0.04M.08"},
	}
	for _, tt := range tests {
		cfg := MuxerConfig{Video: &av.VideoConfig{Codec: tt.codec, CodedWidth: 64, CodedHeight: 64}}
		var blobs []av.Blob
		m, err := NewMuxer(cfg, func(b av.Blob) { blobs = append(blobs, b) })
		if err != nil {
			t.Fatal(err)
		}
		m.Write(av.EncodedChunk{Video: &av.Encoded{Chunk: av.CodedChunk{Type: av.Key, Data: []byte{1, 2, 3}, Duration: 40000}}})
		if err := m.Close(); err != nil {
			t.Fatal(err)
		}
		got := demux(t, assemble(blobs), 1<<20)
		if c := got.tracks[0].Video.Codec; c != tt.want {
			t.Errorf("%s: demuxed codec %s, want %s", tt.codec, c, tt.want)
		}
	}
}

func TestOpusTrack(t *testing.T) {
	t.Parallel()
	cfg := MuxerConfig{Audio: &av.AudioConfig{Codec: "opus", SampleRate: 48000, Channels: 2}, Streaming: true}
	var blobs []av.Blob
	m, err := NewMuxer(cfg, func(b av.Blob) { blobs = append(blobs, b) })
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		m.Write(av.EncodedChunk{Audio: &av.Encoded{Chunk: av.CodedChunk{Type: av.Key, Timestamp: int64(i) * 20000, Duration: 20000, Data: []byte{0xfc, byte(i)}}}})
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	got := demux(t, assemble(blobs), 256)
	a := got.tracks[0]
	if a.Audio.Codec != "opus" || a.Audio.SampleRate != 48000 || a.Audio.Channels != 2 {
		t.Errorf("audio: %+v", a.Audio)
	}
	if n := len(got.samples[a.ID]); n != 100 {
		t.Errorf("got %d samples", n)
	}
}
