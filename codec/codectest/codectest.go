// Package codectest provides software stand-ins for codec capabilities.
//
// The fakes behave like asynchronous codecs: submitted work is processed on
// a goroutine and delivered through the callbacks, with an observable queue
// depth. Decoded frames carry the chunk payload; encoded chunks carry the
// first plane of the frame.
package codectest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec"
)

var ErrClosed = errors.New("codectest: closed")

// Behavior configures the fakes created by a factory.
type Behavior struct {
	// Delay is spent on every item before it is output.
	Delay time.Duration
	// FailAt reports Fail through the error callback when the item with this
	// index (starting at 1) is processed.
	FailAt int
	Fail   error
	// ConfigureErr is returned from Configure.
	ConfigureErr error
	// Notify makes the fakes implement codec.Notifier.
	Notify bool
	// Description is attached to the first encoded chunk.
	Description []byte
}

// worker is the asynchronous core shared by the fakes.
type worker struct {
	b     Behavior
	items chan func()
	wg    sync.WaitGroup
	depth atomic.Int32
	max   atomic.Int32
	n     atomic.Int32
	fail  func(error)

	dequeued  chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	exited    chan struct{}
}

func newWorker(b Behavior, fail func(error)) *worker {
	w := &worker{
		b:        b,
		items:    make(chan func(), 1024),
		fail:     fail,
		dequeued: make(chan struct{}, 1),
		exited:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *worker) run() {
	defer close(w.exited)
	for item := range w.items {
		if w.b.Delay > 0 {
			time.Sleep(w.b.Delay)
		}
		w.depth.Add(-1)
		select {
		case w.dequeued <- struct{}{}:
		default:
		}
		if n := w.n.Add(1); w.b.FailAt > 0 && int(n) == w.b.FailAt {
			w.fail(w.b.Fail)
		} else {
			item()
		}
		w.wg.Done()
	}
}

func (w *worker) submit(item func()) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.wg.Add(1)
	if d := w.depth.Add(1); d > w.max.Load() {
		w.max.Store(d)
	}
	w.items <- item
	return nil
}

func (w *worker) flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *worker) close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.items)
	})
	<-w.exited
	return nil
}

func (w *worker) QueueDepth() int { return int(w.depth.Load()) }

// MaxQueueDepth is the deepest the queue has been.
func (w *worker) MaxQueueDepth() int { return int(w.max.Load()) }

// Processed is the number of items taken off the queue.
func (w *worker) Processed() int { return int(w.n.Load()) }

func (w *worker) Closed() bool { return w.closed.Load() }

type Decoder struct {
	*worker
	cb  codec.DecoderCallbacks
	cfg codec.Config
}

func (d *Decoder) Configure(cfg codec.Config) error {
	d.cfg = cfg
	return d.b.ConfigureErr
}

func (d *Decoder) Config() codec.Config { return d.cfg }

func (d *Decoder) Decode(c av.CodedChunk) error {
	return d.submit(func() {
		f := av.Frame{Timestamp: c.Timestamp, Data: [][]byte{c.Data}}
		if v := d.cfg.Video; v != nil {
			f.Kind, f.Width, f.Height = av.Video, v.CodedWidth, v.CodedHeight
		}
		if a := d.cfg.Audio; a != nil {
			f.Kind, f.SampleRate, f.Channels = av.Audio, a.SampleRate, a.Channels
			f.Duration = c.Duration
		}
		d.cb.Output(f)
	})
}

func (d *Decoder) Flush(ctx context.Context) error { return d.flush(ctx) }
func (d *Decoder) Close() error                    { return d.close() }

type notifyingDecoder struct{ *Decoder }

func (d notifyingDecoder) Dequeued() <-chan struct{} { return d.dequeued }

// Decoders is a codec.DecoderFactory source that keeps every decoder it
// created.
type Decoders struct {
	Behavior

	mu      sync.Mutex
	created []*Decoder
}

func (f *Decoders) Factory(kind av.Kind, cb codec.DecoderCallbacks) (codec.Decoder, error) {
	d := &Decoder{worker: newWorker(f.Behavior, cb.Error), cb: cb}
	f.mu.Lock()
	f.created = append(f.created, d)
	f.mu.Unlock()
	if f.Notify {
		return notifyingDecoder{d}, nil
	}
	return d, nil
}

func (f *Decoders) Created() []*Decoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Decoder(nil), f.created...)
}

type Encoder struct {
	*worker
	kind av.Kind
	cb   codec.EncoderCallbacks
	cfg  codec.EncoderConfig

	mu   sync.Mutex
	keys []int64
	sent bool
}

func (e *Encoder) Configure(cfg codec.EncoderConfig) error {
	e.cfg = cfg
	return e.b.ConfigureErr
}

func (e *Encoder) Config() codec.EncoderConfig { return e.cfg }

func (e *Encoder) Encode(f av.Frame, keyFrame bool) error {
	var data []byte
	if len(f.Data) > 0 {
		data = append(data, f.Data[0]...)
	}
	if keyFrame {
		e.mu.Lock()
		e.keys = append(e.keys, f.Timestamp)
		e.mu.Unlock()
	}
	ts, dur := f.Timestamp, f.Duration
	return e.submit(func() {
		typ := av.Delta
		if keyFrame || e.kind == av.Audio {
			typ = av.Key
		}
		out := av.Encoded{Chunk: av.CodedChunk{Type: typ, Timestamp: ts, Duration: dur, Data: data}}
		if !e.sent {
			out.Metadata.Description = e.b.Description
			e.sent = true
		}
		e.cb.Output(out)
	})
}

// Keyframes lists the timestamps keyframes were requested at.
func (e *Encoder) Keyframes() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.keys...)
}

func (e *Encoder) Flush(ctx context.Context) error { return e.flush(ctx) }
func (e *Encoder) Close() error                    { return e.close() }

type notifyingEncoder struct{ *Encoder }

func (e notifyingEncoder) Dequeued() <-chan struct{} { return e.dequeued }

type Encoders struct {
	Behavior

	mu      sync.Mutex
	created []*Encoder
}

func (f *Encoders) Factory(kind av.Kind, cb codec.EncoderCallbacks) (codec.Encoder, error) {
	e := &Encoder{worker: newWorker(f.Behavior, cb.Error), kind: kind, cb: cb}
	f.mu.Lock()
	f.created = append(f.created, e)
	f.mu.Unlock()
	if f.Notify {
		return notifyingEncoder{e}, nil
	}
	return e, nil
}

func (f *Encoders) Created() []*Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Encoder(nil), f.created...)
}
