// Package codec defines the decoder and encoder capabilities the pipeline
// drives and the coordinators running them as stages.
//
// A capability is asynchronous: Decode and Encode only submit work and
// results arrive through the callbacks it was created with. Coordinators
// configure the capability on the first item, keep its internal queue short
// and report its errors through the stage.
package codec

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
	"github.com/schahriar/mfx/timing"
)

const (
	// HighWaterMark bounds the input and output of codec stages.
	HighWaterMark = 10
	// MaxQueueDepth is the number of items a capability may hold before
	// coordinators stop submitting.
	MaxQueueDepth = 10
	// KeyframeInterval is the longest run of video without a keyframe.
	KeyframeInterval = 30 * time.Second

	notifiedPollInterval = 50 * time.Millisecond
)

var ErrQueueTimeout = errors.New("codec: queue did not drain")

// Config carries exactly one of Video and Audio.
type Config struct {
	Video *av.VideoConfig
	Audio *av.AudioConfig
}

func (c Config) Kind() av.Kind {
	if c.Video != nil {
		return av.Video
	}
	return av.Audio
}

type Decoder interface {
	Configure(cfg Config) error
	Decode(c av.CodedChunk) error
	// Flush returns once every submitted chunk has been output.
	Flush(ctx context.Context) error
	Close() error
	QueueDepth() int
}

type EncoderConfig struct {
	Config
	// Bitrate in bits per second, 0 lets the encoder pick.
	Bitrate int
}

type Encoder interface {
	Configure(cfg EncoderConfig) error
	Encode(f av.Frame, keyFrame bool) error
	Flush(ctx context.Context) error
	Close() error
	QueueDepth() int
}

// Notifier is implemented by capabilities that signal when their queue
// shrinks. Coordinators poll QueueDepth otherwise.
type Notifier interface {
	Dequeued() <-chan struct{}
}

type DecoderCallbacks struct {
	Output func(av.Frame)
	Error  func(error)
}

type EncoderCallbacks struct {
	Output func(av.Encoded)
	Error  func(error)
}

type DecoderFactory func(kind av.Kind, cb DecoderCallbacks) (Decoder, error)

type EncoderFactory func(kind av.Kind, cb EncoderCallbacks) (Encoder, error)

// Options are shared by every coordinator.
type Options struct {
	Logger   *slog.Logger
	Observer stage.Observer
	Timing   timing.Observer
	// HighWaterMark overrides the stage bounds when positive.
	HighWaterMark int
	// StallTimeout is how long a stage output may stay full before a stall
	// is reported.
	StallTimeout time.Duration
	// PollInterval is the queue depth polling period, 1ms by default.
	PollInterval time.Duration
	// QueueTimeout caps a single wait for the queue to drain, 30s by
	// default.
	QueueTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.HighWaterMark <= 0 {
		o.HighWaterMark = HighWaterMark
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Millisecond
	}
	if o.QueueTimeout <= 0 {
		o.QueueTimeout = 30 * time.Second
	}
	return o
}

func (o Options) stageOptions() []stage.Option {
	opts := []stage.Option{
		stage.WithHighWaterMark(o.HighWaterMark, o.HighWaterMark),
		stage.WithLogger(o.Logger),
	}
	if o.Observer != nil {
		opts = append(opts, stage.WithObserver(o.Observer))
	}
	if o.StallTimeout > 0 {
		opts = append(opts, stage.WithStallDetection(o.StallTimeout, min(o.StallTimeout, time.Second), 0))
	}
	return opts
}

type queued interface {
	QueueDepth() int
}

// waitQueue blocks while q holds more than MaxQueueDepth items.
func waitQueue(ctx context.Context, q queued, o Options) error {
	if q.QueueDepth() <= MaxQueueDepth {
		return nil
	}
	var dequeued <-chan struct{}
	interval := o.PollInterval
	if n, ok := q.(Notifier); ok {
		// polling only covers a missed notification
		dequeued, interval = n.Dequeued(), notifiedPollInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	deadline := time.NewTimer(o.QueueTimeout)
	defer deadline.Stop()
	for q.QueueDepth() > MaxQueueDepth {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrQueueTimeout
		case <-dequeued:
		case <-tick.C:
		}
	}
	return nil
}

// runContext remembers the context of the running stage so that codec
// callbacks can queue output with it.
type runContext struct {
	mu  sync.Mutex
	ctx context.Context
}

func (r *runContext) set(ctx context.Context) {
	r.mu.Lock()
	if r.ctx == nil {
		r.ctx = ctx
	}
	r.mu.Unlock()
}

func (r *runContext) get() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}
