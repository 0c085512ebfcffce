// Package transform holds the frame stages applied after decoding.
package transform

import (
	"context"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
)

// Trim keeps frames starting in [Start, End) and moves them so that Start
// becomes zero. A zero End keeps everything after Start.
type Trim struct {
	Start time.Duration
	End   time.Duration
}

func (t Trim) IsZero() bool { return t.Start == 0 && t.End == 0 }

// Keep reports whether a frame starting at ts µs survives the trim.
func (t Trim) Keep(ts int64) bool {
	if ts < t.Start.Microseconds() {
		return false
	}
	return t.End <= 0 || ts < t.End.Microseconds()
}

func NewTrim(t Trim, opts ...stage.Option) *stage.Stage[av.Frame, av.Frame] {
	shift := t.Start.Microseconds()
	return stage.New[av.Frame, av.Frame]("trim", stage.Funcs[av.Frame, av.Frame]{
		TransformFunc: func(ctx context.Context, f av.Frame, c *stage.Controller[av.Frame]) error {
			if !t.Keep(f.Timestamp) {
				return stage.ErrDiscard
			}
			return c.Queue(ctx, f.WithTimestamp(f.Timestamp-shift))
		},
	}, opts...)
}

// FrameRate resamples video to a constant rate. Frames spanning several
// slots are repeated, frames landing in an already filled slot are dropped.
type FrameRate struct {
	step    int64
	next    int64
	started bool
}

func NewFrameRateAdjuster(fps int) *FrameRate {
	return &FrameRate{step: 1000000 / int64(fps)}
}

// Adjust returns the frames to emit in place of f. Every returned frame
// holds its own reference to f's payload; f itself is released.
func (r *FrameRate) Adjust(f av.Frame) []av.Frame {
	defer f.Release()
	if !r.started {
		r.next, r.started = f.Timestamp, true
	}
	end := f.End()
	if f.Duration <= 0 {
		end = f.Timestamp + 1
	}
	var out []av.Frame
	for ; r.next < end; r.next += r.step {
		out = append(out, f.Clone().WithTimestamp(r.next).WithDuration(r.step))
	}
	return out
}

// NewFrameRate returns a stage resampling to fps frames per second. A
// non-positive fps forwards frames untouched.
func NewFrameRate(fps int, opts ...stage.Option) *stage.Stage[av.Frame, av.Frame] {
	if fps <= 0 {
		return stage.Passthrough[av.Frame]("framerate", opts...)
	}
	r := NewFrameRateAdjuster(fps)
	return stage.New[av.Frame, av.Frame]("framerate", stage.Funcs[av.Frame, av.Frame]{
		TransformFunc: func(ctx context.Context, f av.Frame, c *stage.Controller[av.Frame]) error {
			frames := r.Adjust(f)
			for i, out := range frames {
				if err := c.Queue(ctx, out); err != nil {
					for _, rest := range frames[i+1:] {
						rest.Release()
					}
					return err
				}
			}
			return nil
		},
	}, opts...)
}
