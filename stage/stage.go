// Package stage implements the bounded, backpressure aware processing step
// every part of the pipeline is built on.
//
// A Stage owns an input ring and an output ring, each bounded by a high
// water mark. Writers block while the input is full, the transform blocks in
// Controller.Queue while the output is full, and items queued before any
// consumer reads stay in the output ring. The first error returned by the
// transform or flush function puts the stage into void mode: the error is
// published on Errors, remaining input is released without being processed
// and the output is closed after the buffered items drain.
package stage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/schahriar/mfx/av"
)

var (
	// ErrClosed is returned when writing to a stage whose input was closed or
	// queueing to a stage whose output was closed.
	ErrClosed = errors.New("stage: closed")
	// ErrDiscard returned from a transform drops the current item without
	// entering void mode. The item is released.
	ErrDiscard = errors.New("stage: discard")
)

const DefaultHighWaterMark = 60

type Transformer[In, Out any] interface {
	Transform(ctx context.Context, in In, c *Controller[Out]) error
	Flush(ctx context.Context, c *Controller[Out]) error
}

// Funcs adapts plain functions to a Transformer. A nil FlushFunc is a no-op.
type Funcs[In, Out any] struct {
	TransformFunc func(ctx context.Context, in In, c *Controller[Out]) error
	FlushFunc     func(ctx context.Context, c *Controller[Out]) error
}

func (f Funcs[In, Out]) Transform(ctx context.Context, in In, c *Controller[Out]) error {
	return f.TransformFunc(ctx, in, c)
}

func (f Funcs[In, Out]) Flush(ctx context.Context, c *Controller[Out]) error {
	if f.FlushFunc == nil {
		return nil
	}
	return f.FlushFunc(ctx, c)
}

type Stage[In, Out any] struct {
	name string
	id   uuid.UUID
	t    Transformer[In, Out]
	in   *ring[In]
	out  *ring[Out]
	ctl  *Controller[Out]
	log  *slog.Logger
	obs  Observer

	stallTimeout  time.Duration
	stallInterval time.Duration
	stallRepeat   time.Duration

	void      atomic.Bool
	cancelled atomic.Bool
	errs      chan error
	errOnce   sync.Once
	cause     error
	done      chan struct{}
}

func New[In, Out any](name string, t Transformer[In, Out], opts ...Option) *Stage[In, Out] {
	o := options{
		inHWM:         DefaultHighWaterMark,
		outHWM:        DefaultHighWaterMark,
		stallTimeout:  10 * time.Second,
		stallInterval: time.Second,
		stallRepeat:   30 * time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.obs == nil {
		o.obs = nopObserver{}
	}
	s := &Stage[In, Out]{
		name:          name,
		id:            uuid.New(),
		t:             t,
		in:            newRing[In](o.inHWM),
		out:           newRing[Out](o.outHWM),
		obs:           o.obs,
		stallTimeout:  o.stallTimeout,
		stallInterval: o.stallInterval,
		stallRepeat:   o.stallRepeat,
		errs:          make(chan error, 8),
		done:          make(chan struct{}),
	}
	s.log = o.log.With("component", "stage", "stage", name, "id", s.id.String())
	s.ctl = &Controller[Out]{out: s.out, fail: s.fail}
	s.log.Debug("stage defined", "in_hwm", o.inHWM, "out_hwm", o.outHWM)
	return s
}

func (s *Stage[In, Out]) Name() string  { return s.name }
func (s *Stage[In, Out]) ID() uuid.UUID { return s.id }
func (s *Stage[In, Out]) Void() bool    { return s.void.Load() }
func (s *Stage[In, Out]) Controller() *Controller[Out] {
	return s.ctl
}

// Errors delivers errors reported by the transform, flush or an
// asynchronous producer. At most a few are buffered; later ones are dropped.
func (s *Stage[In, Out]) Errors() <-chan error { return s.errs }

// Err returns the error that put the stage into void mode.
func (s *Stage[In, Out]) Err() error {
	if !s.void.Load() {
		return nil
	}
	return s.cause
}

// Done is closed once Run returns.
func (s *Stage[In, Out]) Done() <-chan struct{} { return s.done }

// Buffered reports the number of items held by the input and output rings.
func (s *Stage[In, Out]) Buffered() (in, out int) {
	return s.in.len(), s.out.len()
}

// Write hands v to the stage, blocking while the input is at its high water
// mark.
func (s *Stage[In, Out]) Write(ctx context.Context, v In) error {
	return s.in.push(ctx, v)
}

// CloseInput signals end of input. The stage flushes once the remaining
// input is processed.
func (s *Stage[In, Out]) CloseInput() {
	s.in.close()
}

// Read returns the next output item or io.EOF once the stage has flushed and
// the output is drained.
func (s *Stage[In, Out]) Read(ctx context.Context) (Out, error) {
	return s.out.pop(ctx)
}

// Cancel discards the stage from the consumer side. Buffered items on both
// sides are released and the transform stops receiving input.
func (s *Stage[In, Out]) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	s.in.close()
	s.out.close()
	n := 0
	for _, v := range s.in.drain() {
		av.Release(v)
		n++
	}
	for _, v := range s.out.drain() {
		av.Release(v)
		n++
	}
	if n > 0 {
		s.obs.Discarded(s.name, n)
	}
	s.log.Debug("stage cancelled", "released", n)
}

func (s *Stage[In, Out]) fail(err error) {
	if err == nil {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
	s.errOnce.Do(func() {
		s.cause = err
		s.void.Store(true)
		s.obs.Voided(s.name)
		s.log.Error("transform failed, sinking into void", "error", err)
	})
}

// Run processes input until it is closed and drained, then flushes. It only
// returns an error when ctx is done; transform failures are reported on
// Errors.
func (s *Stage[In, Out]) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.out.close()

	wctx, stop := context.WithCancel(ctx)
	defer stop()
	go s.watch(wctx)

	for {
		v, err := s.in.pop(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			s.Cancel()
			return err
		}
		if s.void.Load() || s.cancelled.Load() {
			av.Release(v)
			s.obs.Discarded(s.name, 1)
			continue
		}
		if err := s.out.waitSpace(ctx); err != nil {
			av.Release(v)
			s.Cancel()
			return err
		}
		if err := s.t.Transform(ctx, v, s.ctl); err != nil {
			switch {
			case errors.Is(err, ErrDiscard):
				av.Release(v)
				s.obs.Discarded(s.name, 1)
			case ctx.Err() != nil:
				s.Cancel()
				return ctx.Err()
			case errors.Is(err, ErrClosed) && s.cancelled.Load():
			default:
				s.fail(err)
			}
		}
	}

	if s.void.Load() || s.cancelled.Load() {
		return nil
	}
	if err := s.t.Flush(ctx, s.ctl); err != nil {
		if ctx.Err() != nil {
			s.Cancel()
			return ctx.Err()
		}
		s.fail(err)
	}
	s.log.Debug("stage flushed")
	return nil
}

// Controller is the output handle passed to transform and flush functions.
// It may also be used by asynchronous producers such as codec callbacks.
type Controller[Out any] struct {
	out  *ring[Out]
	fail func(error)
}

// Queue appends v to the output, blocking while the output is at its high
// water mark. v is released when it cannot be queued.
func (c *Controller[Out]) Queue(ctx context.Context, v Out) error {
	if err := c.out.push(ctx, v); err != nil {
		av.Release(v)
		return err
	}
	return nil
}

// Ready blocks until the output has room for at least one item.
func (c *Controller[Out]) Ready(ctx context.Context) error {
	return c.out.waitSpace(ctx)
}

// DesiredSize is the number of items the output accepts before blocking.
func (c *Controller[Out]) DesiredSize() int {
	return c.out.free()
}

// Error reports an asynchronous failure and puts the stage into void mode.
func (c *Controller[Out]) Error(err error) {
	c.fail(err)
}
