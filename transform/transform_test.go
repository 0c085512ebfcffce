package transform

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
)

func runFrames(t *testing.T, s *stage.Stage[av.Frame, av.Frame], in []av.Frame) []av.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go s.Run(ctx)
	go func() {
		defer s.CloseInput()
		for _, f := range in {
			if err := s.Write(ctx, f); err != nil {
				return
			}
		}
	}()
	out, err := stage.Collect[av.Frame](ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestTrim(t *testing.T) {
	t.Parallel()
	var released atomic.Int32
	var in []av.Frame
	for ts := int64(0); ts < 3000000; ts += 250000 {
		in = append(in, av.NewFrame(av.Frame{Kind: av.Video, Timestamp: ts, Duration: 250000}, func() { released.Add(1) }))
	}
	out := runFrames(t, NewTrim(Trim{Start: time.Second, End: 2 * time.Second}), in)
	if len(out) != 4 {
		t.Fatalf("kept %d frames, want 4", len(out))
	}
	for i, f := range out {
		if want := int64(i) * 250000; f.Timestamp != want {
			t.Errorf("frame %d at %d, want %d", i, f.Timestamp, want)
		}
	}
	if n := released.Load(); n != int32(len(in)-4) {
		t.Errorf("released %d dropped frames, want %d", n, len(in)-4)
	}
}

func TestTrimKeep(t *testing.T) {
	t.Parallel()
	tests := []struct {
		trim Trim
		ts   int64
		want bool
	}{
		{Trim{Start: time.Second, End: 2 * time.Second}, 999999, false},
		{Trim{Start: time.Second, End: 2 * time.Second}, 1000000, true},
		{Trim{Start: time.Second, End: 2 * time.Second}, 1999999, true},
		{Trim{Start: time.Second, End: 2 * time.Second}, 2000000, false},
		{Trim{Start: time.Second}, 90000000, true},
		{Trim{}, 0, true},
	}
	for _, tt := range tests {
		if got := tt.trim.Keep(tt.ts); got != tt.want {
			t.Errorf("%+v.Keep(%d) = %v, want %v", tt.trim, tt.ts, got, tt.want)
		}
	}
}

func TestFrameRateAdjuster(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		fps  int
		in   [][2]int64 // timestamp, duration
		want []int64
	}{
		{"fill", 25, [][2]int64{{0, 100000}, {100000, 40000}}, []int64{0, 40000, 80000, 120000}},
		{"drop", 10, [][2]int64{{0, 40000}, {40000, 40000}, {80000, 40000}, {120000, 40000}}, []int64{0, 100000}},
		{"same rate", 25, [][2]int64{{0, 40000}, {40000, 40000}}, []int64{0, 40000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewFrameRateAdjuster(tt.fps)
			var got []av.Frame
			for _, f := range tt.in {
				got = append(got, r.Adjust(av.Frame{Kind: av.Video, Timestamp: f[0], Duration: f[1]})...)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d frames, want %d", len(got), len(tt.want))
			}
			for i, ts := range tt.want {
				if got[i].Timestamp != ts || got[i].Duration != 1000000/int64(tt.fps) {
					t.Errorf("frame %d: %d+%d", i, got[i].Timestamp, got[i].Duration)
				}
			}
		})
	}
}

func TestFrameRateReleasesOnce(t *testing.T) {
	t.Parallel()
	var released atomic.Int32
	f := av.NewFrame(av.Frame{Kind: av.Video, Duration: 120000}, func() { released.Add(1) })
	out := runFrames(t, NewFrameRate(25), []av.Frame{f})
	if len(out) != 3 {
		t.Fatalf("got %d frames", len(out))
	}
	for i, f := range out {
		f.Release()
		if want := int32(0); i < 2 && released.Load() != want {
			t.Fatalf("payload released with %d copies alive", 2-i)
		}
	}
	if released.Load() != 1 {
		t.Errorf("released %d times", released.Load())
	}
}

func TestSample(t *testing.T) {
	t.Parallel()
	var released atomic.Int32
	var in []av.Frame
	for i := 0; i < 10; i++ {
		in = append(in, av.NewFrame(av.Frame{Kind: av.Video, Timestamp: int64(i) * 1000}, func() { released.Add(1) }))
	}
	out := runFrames(t, NewSample(EveryNth(3)), in)
	if len(out) != 4 {
		t.Fatalf("kept %d frames, want 4", len(out))
	}
	for i, f := range out {
		if want := int64(i) * 3000; f.Timestamp != want {
			t.Errorf("frame %d at %d, want %d", i, f.Timestamp, want)
		}
	}
	if n := released.Load(); n != 6 {
		t.Errorf("released %d rejected frames, want 6", n)
	}
}

func TestTee(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var released atomic.Int32
	tee := NewTee()
	go tee.Run(ctx)
	go tee.Branch.Run(ctx)
	go func() {
		defer tee.CloseInput()
		for i := 0; i < 5; i++ {
			f := av.NewFrame(av.Frame{Kind: av.Video, Timestamp: int64(i)}, func() { released.Add(1) })
			if err := tee.Write(ctx, f); err != nil {
				return
			}
		}
	}()
	branch := make(chan []av.Frame, 1)
	go func() {
		frames, _ := stage.Collect[av.Frame](ctx, tee.Branch)
		branch <- frames
	}()
	main, err := stage.Collect[av.Frame](ctx, tee)
	if err != nil {
		t.Fatal(err)
	}
	clones := <-branch
	if len(main) != 5 || len(clones) != 5 {
		t.Fatalf("got %d frames and %d clones", len(main), len(clones))
	}
	for _, f := range main {
		f.Release()
	}
	if n := released.Load(); n != 0 {
		t.Errorf("payload released with %d clones outstanding", n)
	}
	for _, f := range clones {
		f.Release()
	}
	if n := released.Load(); n != 5 {
		t.Errorf("released %d payloads, want 5", n)
	}
}

func TestTeeCancelledBranch(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var released atomic.Int32
	tee := NewTee(stage.WithHighWaterMark(2, 2))
	tee.Branch.Cancel()
	var in []av.Frame
	for i := 0; i < 20; i++ {
		in = append(in, av.NewFrame(av.Frame{Kind: av.Video, Timestamp: int64(i)}, func() { released.Add(1) }))
	}
	go tee.Run(ctx)
	go func() {
		defer tee.CloseInput()
		for _, f := range in {
			if err := tee.Write(ctx, f); err != nil {
				return
			}
		}
	}()
	out, err := stage.Collect[av.Frame](ctx, tee)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 20 {
		t.Fatalf("got %d frames after the branch was cancelled", len(out))
	}
	for _, f := range out {
		f.Release()
	}
	if n := released.Load(); n != 20 {
		t.Errorf("released %d payloads, want 20", n)
	}
}
