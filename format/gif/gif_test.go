package gif

import (
	"bytes"
	"context"
	"errors"
	"image/gif"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
)

func i420(w, h int, luma byte) []byte {
	cw, ch := (w+1)/2, (h+1)/2
	b := bytes.Repeat([]byte{luma}, w*h)
	return append(b, bytes.Repeat([]byte{128}, 2*cw*ch)...)
}

func encode(t *testing.T, cfg Config, in []av.Frame) (*stage.Stage[av.Frame, av.Blob], []av.Blob) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := NewEncoderStage(cfg)
	go s.Run(ctx)
	go func() {
		defer s.CloseInput()
		for _, f := range in {
			if err := s.Write(ctx, f); err != nil {
				return
			}
		}
	}()
	blobs, err := stage.Collect[av.Blob](ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	return s, blobs
}

func TestEncoderStage(t *testing.T) {
	t.Parallel()
	var released atomic.Int32
	var in []av.Frame
	for i := 0; i < 10; i++ {
		f := av.Frame{Kind: av.Video, Timestamp: int64(i) * 100000, Duration: 100000, Width: 16, Height: 8, Data: [][]byte{i420(16, 8, byte(i * 25))}}
		in = append(in, av.NewFrame(f, func() { released.Add(1) }))
		in = append(in, av.NewFrame(av.Frame{Kind: av.Audio, Timestamp: int64(i) * 100000}, func() { released.Add(1) }))
	}
	s, blobs := encode(t, Config{FrameRate: 5}, in)
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	if len(blobs) != 1 || blobs[0].MimeType != MimeType || blobs[0].ByteOffset != 0 {
		t.Fatalf("got %d blobs: %+v", len(blobs), blobs)
	}
	g, err := gif.DecodeAll(bytes.NewReader(blobs[0].Bytes))
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Image) != 5 {
		t.Errorf("got %d frames at 5fps from 1s, want 5", len(g.Image))
	}
	for i, d := range g.Delay {
		if d != 20 {
			t.Errorf("frame %d delay %d, want 20", i, d)
		}
	}
	if b := g.Image[0].Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("canvas %v", b)
	}
	if n := released.Load(); n != 20 {
		t.Errorf("released %d frames, want 20", n)
	}
}

func TestEncoderStageWithoutFrames(t *testing.T) {
	t.Parallel()
	s, blobs := encode(t, Config{}, nil)
	if len(blobs) != 0 {
		t.Errorf("got %d blobs", len(blobs))
	}
	if err := s.Err(); !errors.Is(err, ErrNoFrames) {
		t.Errorf("got %v, want ErrNoFrames", err)
	}
}

func TestImage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		f    av.Frame
		ok   bool
	}{
		{"contiguous i420", av.Frame{Width: 3, Height: 3, Data: [][]byte{i420(3, 3, 0)}}, true},
		{"planes", av.Frame{Width: 4, Height: 2, Data: [][]byte{make([]byte, 8), make([]byte, 2), make([]byte, 2)}}, true},
		{"rgba", av.Frame{Width: 2, Height: 2, Data: [][]byte{make([]byte, 16)}}, true},
		{"short", av.Frame{Width: 4, Height: 4, Data: [][]byte{make([]byte, 10)}}, false},
		{"short planes", av.Frame{Width: 4, Height: 2, Data: [][]byte{make([]byte, 8), make([]byte, 1), make([]byte, 2)}}, false},
		{"no size", av.Frame{Data: [][]byte{{1}}}, false},
	}
	for _, tt := range tests {
		img, err := Image(tt.f)
		if (err == nil) != tt.ok {
			t.Errorf("%s: err = %v", tt.name, err)
			continue
		}
		if err != nil && !errors.Is(err, ErrFrameLayout) {
			t.Errorf("%s: err = %v", tt.name, err)
		}
		if err == nil && (img.Bounds().Dx() != tt.f.Width || img.Bounds().Dy() != tt.f.Height) {
			t.Errorf("%s: bounds %v", tt.name, img.Bounds())
		}
	}
}
