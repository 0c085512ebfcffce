package codec_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec"
	"github.com/schahriar/mfx/codec/codectest"
	"github.com/schahriar/mfx/stage"
)

func videoTrack(duration time.Duration) *av.Track {
	return av.NewTrack(av.Track{
		ID:       1,
		Kind:     av.Video,
		Video:    &av.VideoConfig{Codec: "vp8", CodedWidth: 320, CodedHeight: 240},
		Duration: duration,
	}, nil)
}

func decodeAll(t *testing.T, s *stage.Stage[av.CodedChunk, av.Frame], chunks []av.CodedChunk) []av.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go s.Run(ctx)
	go func() {
		defer s.CloseInput()
		for _, c := range chunks {
			if err := s.Write(ctx, c); err != nil {
				return
			}
		}
	}()
	frames, err := stage.Collect[av.Frame](ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	return frames
}

func chunks(n int, step int64) []av.CodedChunk {
	out := make([]av.CodedChunk, n)
	for i := range out {
		out[i] = av.CodedChunk{Type: av.Delta, Timestamp: int64(i) * step, Duration: step, Data: []byte{byte(i)}}
	}
	out[0].Type = av.Key
	return out
}

func TestVideoDecoderStage(t *testing.T) {
	t.Parallel()
	for _, notify := range []bool{false, true} {
		f := &codectest.Decoders{Behavior: codectest.Behavior{Delay: 200 * time.Microsecond, Notify: notify}}
		s := codec.NewDecoderStage(videoTrack(2*time.Second), f.Factory, codec.Options{})
		frames := decodeAll(t, s, chunks(50, 40000))
		if len(frames) != 50 {
			t.Fatalf("notify=%v: got %d frames", notify, len(frames))
		}
		for i, fr := range frames {
			if fr.Kind != av.Video || fr.Timestamp != int64(i)*40000 || fr.Duration != 40000 {
				t.Errorf("frame %d: %s %d+%d", i, fr.Kind, fr.Timestamp, fr.Duration)
			}
			if fr.Context.Duration != 2*time.Second {
				t.Errorf("frame %d lost its container context", i)
			}
		}
		d := f.Created()[0]
		if got := d.MaxQueueDepth(); got > codec.MaxQueueDepth+1 {
			t.Errorf("queue reached %d", got)
		}
		if !d.Closed() {
			t.Errorf("decoder not closed after flush")
		}
		if cfg := d.Config(); cfg.Video == nil || cfg.Video.Codec != "vp8" {
			t.Errorf("configured with %+v", cfg)
		}
	}
}

func TestAudioDecoderStageKeepsDurations(t *testing.T) {
	t.Parallel()
	track := av.NewTrack(av.Track{ID: 2, Kind: av.Audio, Audio: &av.AudioConfig{Codec: "opus", SampleRate: 48000, Channels: 2}}, nil)
	f := &codectest.Decoders{}
	frames := decodeAll(t, codec.NewDecoderStage(track, f.Factory, codec.Options{}), chunks(10, 20000))
	if len(frames) != 10 {
		t.Fatalf("got %d frames", len(frames))
	}
	for _, fr := range frames {
		if fr.Kind != av.Audio || fr.Duration != 20000 || fr.SampleRate != 48000 {
			t.Errorf("frame %+v", fr)
		}
	}
}

func TestDecoderStageErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	tests := []struct {
		name     string
		behavior codectest.Behavior
	}{
		{"async error", codectest.Behavior{FailAt: 3, Fail: boom}},
		{"configure", codectest.Behavior{ConfigureErr: boom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &codectest.Decoders{Behavior: tt.behavior}
			s := codec.NewDecoderStage(videoTrack(0), f.Factory, codec.Options{})
			decodeAll(t, s, chunks(20, 40000))
			if !errors.Is(s.Err(), boom) {
				t.Errorf("stage error %v", s.Err())
			}
			select {
			case err := <-s.Errors():
				if !errors.Is(err, boom) {
					t.Errorf("published %v", err)
				}
			default:
				t.Errorf("nothing published")
			}
			<-s.Done()
			deadline := time.Now().Add(time.Second)
			for _, d := range f.Created() {
				for !d.Closed() && time.Now().Before(deadline) {
					time.Sleep(time.Millisecond)
				}
				if !d.Closed() {
					t.Errorf("decoder left open")
				}
			}
		})
	}
}

func TestEncoderStageKeyframes(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f := &codectest.Encoders{Behavior: codectest.Behavior{Description: []byte{1, 2}}}
	s := codec.NewEncoderStage(codec.EncoderConfig{Config: codec.Config{Video: &av.VideoConfig{Codec: "vp8"}}}, f.Factory, codec.Options{})
	go s.Run(ctx)
	seconds := []int64{0, 10, 20, 31, 40, 61, 62}
	go func() {
		defer s.CloseInput()
		for _, sec := range seconds {
			s.Write(ctx, av.Frame{Kind: av.Video, Timestamp: sec * 1000000, Width: 64, Height: 48, Data: [][]byte{{byte(sec)}}})
		}
	}()
	out, err := stage.Collect[av.EncodedChunk](ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(seconds) {
		t.Fatalf("got %d chunks", len(out))
	}
	var keys []int64
	for i, c := range out {
		if c.Video == nil || c.Audio != nil {
			t.Fatalf("chunk %d: %+v", i, c)
		}
		if c.Video.Chunk.IsKey() {
			keys = append(keys, c.Video.Chunk.Timestamp/1000000)
		}
		if (i == 0) != (len(c.Video.Metadata.Description) > 0) {
			t.Errorf("chunk %d description %x", i, c.Video.Metadata.Description)
		}
	}
	want := []int64{0, 31, 61}
	if len(keys) != len(want) {
		t.Fatalf("keyframes at %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keyframes at %v, want %v", keys, want)
		}
	}
	cfg := f.Created()[0].Config()
	if cfg.Video.CodedWidth != 64 || cfg.Video.CodedHeight != 48 {
		t.Errorf("geometry not taken from the first frame: %+v", cfg.Video)
	}
}

func TestAudioEncoderStage(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f := &codectest.Encoders{Behavior: codectest.Behavior{Notify: true}}
	s := codec.NewEncoderStage(codec.EncoderConfig{Config: codec.Config{Audio: &av.AudioConfig{Codec: "opus"}}}, f.Factory, codec.Options{})
	go s.Run(ctx)
	go func() {
		defer s.CloseInput()
		for i := 0; i < 30; i++ {
			s.Write(ctx, av.Frame{Kind: av.Audio, Timestamp: int64(i) * 20000, Duration: 20000, SampleRate: 48000, Channels: 1})
		}
	}()
	n, err := stage.Discard[av.EncodedChunk](ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if n != 30 {
		t.Errorf("got %d chunks", n)
	}
	enc := f.Created()[0]
	if len(enc.Keyframes()) != 0 {
		t.Errorf("audio keyframes requested")
	}
	if a := enc.Config().Audio; a.SampleRate != 48000 || a.Channels != 1 {
		t.Errorf("audio config %+v", a)
	}
}
