package timing

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
)

type discards struct{ n atomic.Int32 }

func (d *discards) FrameDiscarded(string) { d.n.Add(1) }

func frames(duration time.Duration, ts ...int64) []av.Frame {
	out := make([]av.Frame, len(ts))
	for i, t := range ts {
		out[i] = av.Frame{Kind: av.Video, Timestamp: t, Context: av.ContainerContext{Duration: duration}}
	}
	return out
}

func run(r *Reconstructor, in []av.Frame) []av.Frame {
	var out []av.Frame
	for _, f := range in {
		if o, ok := r.Push(f); ok {
			out = append(out, o)
		}
	}
	if o, ok := r.End(); ok {
		out = append(out, o)
	}
	return out
}

func TestReconstructor(t *testing.T) {
	t.Parallel()
	type want struct{ ts, dur int64 }
	tests := []struct {
		name     string
		duration time.Duration
		in       []int64
		want     []want
		dropped  int32
	}{
		{
			name:     "regular",
			duration: 100 * time.Millisecond,
			in:       []int64{0, 33000, 66000},
			want:     []want{{0, 33000}, {33000, 33000}, {66000, 34000}},
		},
		{
			name:     "last frame past container end",
			duration: 50 * time.Millisecond,
			in:       []int64{0, 40000, 50000},
			want:     []want{{0, 40000}, {40000, 10000}, {50000, 0}},
		},
		{
			name:     "out of bound",
			duration: 100 * time.Millisecond,
			in:       []int64{-10, 0, 40000, 200000},
			want:     []want{{0, 40000}, {40000, 60000}},
			dropped:  2,
		},
		{
			name:     "out of order drops the held frame",
			duration: 200 * time.Millisecond,
			in:       []int64{0, 40000, 120000, 80000, 160000},
			want:     []want{{0, 40000}, {40000, 80000}, {80000, 80000}, {160000, 40000}},
			dropped:  1,
		},
		{
			name:     "frame behind the last emitted one",
			duration: 200 * time.Millisecond,
			in:       []int64{0, 40000, 80000, 20000, 120000},
			want:     []want{{0, 40000}, {40000, 40000}, {120000, 80000}},
			dropped:  2,
		},
		{
			name: "unknown duration averages the tail",
			in:   []int64{0, 10000, 30000, 60000, 100000},
			want: []want{{0, 10000}, {10000, 20000}, {30000, 30000}, {60000, 40000}, {100000, 30000}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			obs := &discards{}
			got := run(New(nil, obs), frames(tt.duration, tt.in...))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d frames, want %d", len(got), len(tt.want))
			}
			for i, w := range tt.want {
				if got[i].Timestamp != w.ts || got[i].Duration != w.dur {
					t.Errorf("frame %d: got %d+%d, want %d+%d", i, got[i].Timestamp, got[i].Duration, w.ts, w.dur)
				}
			}
			if n := obs.n.Load(); n != tt.dropped {
				t.Errorf("dropped %d, want %d", n, tt.dropped)
			}
		})
	}
}

func TestReconstructorReleasesDiscarded(t *testing.T) {
	t.Parallel()
	var released atomic.Int32
	r := New(nil, nil)
	f := av.NewFrame(av.Frame{Timestamp: -1}, func() { released.Add(1) })
	if _, ok := r.Push(f); ok {
		t.Fatal("out of bound frame emitted")
	}
	if released.Load() != 1 {
		t.Errorf("discarded frame not released")
	}
}

func TestStageMonotonic(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := NewStage(nil, nil)
	go s.Run(ctx)
	go func() {
		defer s.CloseInput()
		for _, f := range frames(time.Second, 0, 33000, 99000, 66000, 132000, 165000, 150000, 198000) {
			s.Write(ctx, f)
		}
	}()
	out, err := stage.Collect[av.Frame](ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(out); i++ {
		if out[i].Timestamp <= out[i-1].Timestamp {
			t.Errorf("timestamp %d after %d", out[i].Timestamp, out[i-1].Timestamp)
		}
	}
	if last := out[len(out)-1]; last.End() != 1000000 {
		t.Errorf("last frame ends at %d", last.End())
	}
}
