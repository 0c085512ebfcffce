package format

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/format/mkv"
	"github.com/schahriar/mfx/format/mp4"
	"github.com/schahriar/mfx/stage"
)

func TestNewParser(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mime string
		want any
		err  error
	}{
		{"video/mp4", &mp4.Demuxer{}, nil},
		{`video/webm; codecs="vp8,opus"`, &mkv.Demuxer{}, nil},
		{"video/x-matroska", &mkv.Demuxer{}, nil},
		{"video/ogg", nil, ErrUnsupportedContainer},
	}
	for _, tt := range tests {
		m, err := av.ParseMIME(tt.mime)
		if err != nil {
			t.Fatal(err)
		}
		p, err := NewParser(m, ParserOptions{})
		if !errors.Is(err, tt.err) {
			t.Errorf("%s: got error %v, want %v", tt.mime, err, tt.err)
			continue
		}
		switch tt.want.(type) {
		case *mp4.Demuxer:
			if _, ok := p.(*mp4.Demuxer); !ok {
				t.Errorf("%s: got %T", tt.mime, p)
			}
		case *mkv.Demuxer:
			if _, ok := p.(*mkv.Demuxer); !ok {
				t.Errorf("%s: got %T", tt.mime, p)
			}
		}
	}
}

type blobCounter struct{ blobs, bytes atomic.Int64 }

func (c *blobCounter) BlobEmitted(_ string, n int) {
	c.blobs.Add(1)
	c.bytes.Add(int64(n))
}

// muxFile runs chunks through a mux stage and assembles the output file.
func muxFile(t *testing.T, cfg Config, frames int) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := NewMuxStage(cfg, stage.WithHighWaterMark(4, 4))
	if err != nil {
		t.Fatal(err)
	}
	go s.Run(ctx)
	go func() {
		defer s.CloseInput()
		for i := 0; i < frames; i++ {
			c := av.EncodedChunk{}
			if cfg.Video != nil {
				typ := av.Delta
				if i%5 == 0 {
					typ = av.Key
				}
				c.Video = &av.Encoded{Chunk: av.CodedChunk{Type: typ, Timestamp: int64(i) * 40000, Duration: 40000, Data: bytes.Repeat([]byte{byte(i)}, 64)}}
			}
			if cfg.Audio != nil {
				c.Audio = &av.Encoded{Chunk: av.CodedChunk{Type: av.Key, Timestamp: int64(i) * 20000, Duration: 20000, Data: []byte{0xfc, byte(i)}}}
			}
			if err := s.Write(ctx, c); err != nil {
				return
			}
		}
	}()
	blobs, err := stage.Collect[av.Blob](ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	var file []byte
	for _, b := range blobs {
		if b.MimeType == "" {
			t.Errorf("blob without mime type")
		}
		if end := int(b.End()); end > len(file) {
			file = append(file, make([]byte, end-len(file))...)
		}
		copy(file[b.ByteOffset:], b.Bytes)
	}
	return file
}

func demuxFile(t *testing.T, file []byte, mime string) ([]*av.Track, map[uint64]int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m, err := av.ParseMIME(mime)
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewParser(m, ParserOptions{})
	if err != nil {
		t.Fatal(err)
	}
	d := NewDemuxStage(p, stage.WithHighWaterMark(2, 2))
	go d.Run(ctx)
	go Feed(ctx, bytes.NewReader(file), d)
	counts := map[uint64]int{}
	batches, err := stage.Collect[container.Batch](ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range batches {
		counts[b.Track.ID] += len(b.Samples)
	}
	if err := d.Err(); err != nil {
		t.Fatal(err)
	}
	tracks, err := d.Tracks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return tracks, counts
}

func TestStagesRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"webm", Config{
			MimeType: "video/webm",
			Video:    &av.VideoConfig{Codec: "vp8", CodedWidth: 64, CodedHeight: 64},
			Audio:    &av.AudioConfig{Codec: "opus", SampleRate: 48000, Channels: 2},
		}},
		{"webm streaming", Config{
			MimeType:  "video/webm",
			Video:     &av.VideoConfig{Codec: "vp8", CodedWidth: 64, CodedHeight: 64},
			Streaming: true,
			ChunkSize: 100,
		}},
		{"mp4", Config{
			MimeType: "video/mp4",
			Video:    &av.VideoConfig{Codec: "vp09.00.10.08", CodedWidth: 64, CodedHeight: 64},
			Audio:    &av.AudioConfig{Codec: "opus", SampleRate: 48000, Channels: 2},
		}},
		{"fragmented mp4", Config{
			MimeType:  "video/mp4",
			Audio:     &av.AudioConfig{Codec: "opus", SampleRate: 48000, Channels: 1},
			Streaming: true,
			ChunkSize: 256,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			obs := &blobCounter{}
			tt.cfg.Observer = obs
			file := muxFile(t, tt.cfg, 20)
			if obs.blobs.Load() == 0 || obs.bytes.Load() < int64(len(file)) {
				t.Errorf("observer saw %d blobs, %d bytes for a %d byte file", obs.blobs.Load(), obs.bytes.Load(), len(file))
			}
			want := 0
			if tt.cfg.Video != nil {
				want++
			}
			if tt.cfg.Audio != nil {
				want++
			}
			tracks, counts := demuxFile(t, file, tt.cfg.MimeType)
			if len(tracks) != want {
				t.Fatalf("got %d tracks, want %d", len(tracks), want)
			}
			for _, tr := range tracks {
				if counts[tr.ID] != 20 {
					t.Errorf("%s: %d samples, want 20", tr, counts[tr.ID])
				}
			}
		})
	}
}

func TestMuxStageUnsupportedCodec(t *testing.T) {
	t.Parallel()
	_, err := NewMuxStage(Config{MimeType: "video/webm", Audio: &av.AudioConfig{Codec: "mp4a.40.2"}})
	if !errors.Is(err, container.ErrUnsupportedCodec) {
		t.Errorf("got %v", err)
	}
	_, err = NewMuxStage(Config{MimeType: "video/avi", Audio: &av.AudioConfig{Codec: "opus"}})
	if !errors.Is(err, ErrUnsupportedContainer) {
		t.Errorf("got %v", err)
	}
}

func TestDemuxStageParseError(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, _ := av.ParseMIME("video/webm")
	p, _ := NewParser(m, ParserOptions{})
	d := NewDemuxStage(p)
	go d.Run(ctx)
	// a zero byte can never start an element id
	go Feed(ctx, bytes.NewReader(make([]byte, 32)), d)
	if _, err := stage.Discard[container.Batch](ctx, d); err != nil {
		t.Fatal(err)
	}
	if d.Err() == nil {
		t.Errorf("stage did not enter void mode")
	}
	if _, err := d.Tracks(ctx); err == nil {
		t.Errorf("tracks resolved on a broken stream")
	}
}

func TestResolveMIME(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{MimeType: "video/webm", Video: &av.VideoConfig{Codec: "vp9", CodedWidth: 640, CodedHeight: 360}}
	file := muxFile(t, cfg, 25)

	m, _ := av.ParseMIME("video/webm")
	got, replay, err := ResolveMIME(ctx, bytes.NewReader(file), m, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix([]byte(got.VideoCodec), []byte("vp09.00.")) {
		t.Errorf("codec %q", got.VideoCodec)
	}
	var replayed bytes.Buffer
	if _, err := replayed.ReadFrom(replay); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(replayed.Bytes(), file) {
		t.Errorf("replay differs from input")
	}

	known, _ := av.ParseMIME(`video/webm; codecs="vp8"`)
	r := bytes.NewReader(file)
	got, replay, err = ResolveMIME(ctx, r, known, nil)
	if err != nil || got != known || replay != r {
		t.Errorf("known codec was probed: %v %v", got, err)
	}
}
