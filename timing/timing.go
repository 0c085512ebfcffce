// Package timing reconstructs per-frame durations of decoded video.
//
// Decoders report presentation timestamps only. A Reconstructor holds one
// frame back and gives it the distance to the next frame as its duration.
// Frames that do not advance time are dropped, which keeps the output
// monotonic at the cost of the occasional B-frame reordering.
package timing

import (
	"context"
	"log/slog"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
)

// Discard reasons reported to the Observer.
const (
	OutOfBound = "out_of_bound"
	OutOfOrder = "out_of_order"
)

// window is the number of emitted durations averaged for a last frame whose
// container duration is unknown.
const window = 3

type Observer interface {
	FrameDiscarded(reason string)
}

type nopObserver struct{}

func (nopObserver) FrameDiscarded(string) {}

type Reconstructor struct {
	log *slog.Logger
	obs Observer

	pending    av.Frame
	hasPending bool
	last       int64
	emitted    bool

	durations [window]int64
	n         int
}

func New(log *slog.Logger, obs Observer) *Reconstructor {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Reconstructor{log: log.With("component", "timing"), obs: obs}
}

// Push accepts the next frame in output order and returns the previous one
// with its duration set, if any.
func (r *Reconstructor) Push(f av.Frame) (av.Frame, bool) {
	if d := f.Context.Duration.Microseconds(); f.Timestamp < 0 || (d > 0 && f.Timestamp > d) {
		r.discard(f, OutOfBound)
		return av.Frame{}, false
	}
	if !r.hasPending {
		r.hold(f)
		return av.Frame{}, false
	}
	d := f.Timestamp - r.pending.Timestamp
	if d <= 0 {
		r.discard(r.pending, OutOfOrder)
		r.hasPending = false
		r.hold(f)
		return av.Frame{}, false
	}
	out := r.emit(r.pending, d)
	r.pending = f
	return out, true
}

// End returns the held frame. Its duration runs to the end of the container
// or, when that is unknown, is the mean of the last emitted durations.
func (r *Reconstructor) End() (av.Frame, bool) {
	if !r.hasPending {
		return av.Frame{}, false
	}
	f := r.pending
	r.hasPending = false
	r.pending = av.Frame{}
	var d int64
	if total := f.Context.Duration.Microseconds(); total > 0 {
		d = max(total-f.Timestamp, 0)
	} else if r.n > 0 {
		var sum int64
		k := min(r.n, window)
		for _, v := range r.durations[:k] {
			sum += v
		}
		d = sum / int64(k)
	}
	return r.emit(f, d), true
}

func (r *Reconstructor) hold(f av.Frame) {
	if r.emitted && f.Timestamp <= r.last {
		r.discard(f, OutOfOrder)
		return
	}
	r.pending, r.hasPending = f, true
}

func (r *Reconstructor) emit(f av.Frame, d int64) av.Frame {
	r.durations[r.n%window] = d
	r.n++
	r.last, r.emitted = f.Timestamp, true
	return f.WithDuration(d)
}

func (r *Reconstructor) discard(f av.Frame, reason string) {
	r.log.Warn("discarding frame", "reason", reason, "timestamp", f.Timestamp)
	r.obs.FrameDiscarded(reason)
	f.Release()
}

// NewStage runs a Reconstructor as a stage.
func NewStage(log *slog.Logger, obs Observer, opts ...stage.Option) *stage.Stage[av.Frame, av.Frame] {
	r := New(log, obs)
	return stage.New[av.Frame, av.Frame]("timing", stage.Funcs[av.Frame, av.Frame]{
		TransformFunc: func(ctx context.Context, f av.Frame, c *stage.Controller[av.Frame]) error {
			if out, ok := r.Push(f); ok {
				return c.Queue(ctx, out)
			}
			return nil
		},
		FlushFunc: func(ctx context.Context, c *stage.Controller[av.Frame]) error {
			if out, ok := r.End(); ok {
				return c.Queue(ctx, out)
			}
			return nil
		},
	}, append([]stage.Option{stage.WithLogger(log)}, opts...)...)
}
