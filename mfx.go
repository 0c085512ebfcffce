// Package mfx wires demuxers, codec coordinators, timing and transform
// stages and muxers into decode and encode pipelines.
//
// Every step is a stage.Stage: output buffers up to its high water mark
// before anyone reads it and upstream work pauses while it is full. Each
// track output returned by Decode must therefore either be read to the end
// or cancelled.
package mfx

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schahriar/mfx/format"
	"github.com/schahriar/mfx/stage"
	"github.com/schahriar/mfx/timing"
)

var (
	ErrNoDecoders = errors.New("mfx: no decoder factory")
	ErrNoEncoders = errors.New("mfx: no encoder factory")
	ErrNoOutput   = errors.New("mfx: neither video nor audio configured")
)

// runner is the part of a stage the orchestrator drives regardless of its
// item types.
type runner interface {
	Name() string
	Run(ctx context.Context) error
	Cancel()
	Err() error
}

// pipeline runs a set of stages and the goroutines moving items between
// them.
type pipeline struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
	g      errgroup.Group
	stages []runner
}

func newPipeline(ctx context.Context, log *slog.Logger) *pipeline {
	ctx, cancel := context.WithCancel(ctx)
	return &pipeline{ctx: ctx, cancel: cancel, log: log}
}

func (p *pipeline) start(r runner) {
	p.stages = append(p.stages, r)
	p.g.Go(func() error { return r.Run(p.ctx) })
}

type source[T any] interface {
	stage.Source[T]
	Cancel()
}

// link moves src into dst. When dst stops accepting items src is cancelled
// so nothing upstream blocks on it.
func link[T any](p *pipeline, src source[T], dst stage.Sink[T]) {
	p.g.Go(func() error {
		if err := stage.Pipe[T](p.ctx, src, dst); err != nil {
			src.Cancel()
			if !errors.Is(err, stage.ErrClosed) {
				return err
			}
		}
		return nil
	})
}

// wait blocks until every goroutine returned and reports the errors of all
// failed stages joined.
func (p *pipeline) wait() error {
	defer p.cancel()
	errs := []error{p.g.Wait()}
	for _, s := range p.stages {
		if err := s.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *pipeline) close() {
	p.cancel()
	for _, s := range p.stages {
		s.Cancel()
	}
}

func stageOptions(log *slog.Logger, obs stage.Observer, hwm int, stall time.Duration) []stage.Option {
	opts := []stage.Option{stage.WithLogger(log)}
	if obs != nil {
		opts = append(opts, stage.WithObserver(obs))
	}
	if hwm > 0 {
		opts = append(opts, stage.WithHighWaterMark(hwm, hwm))
	}
	if stall > 0 {
		opts = append(opts, stage.WithStallDetection(stall, min(stall, time.Second), 0))
	}
	return opts
}

func timingObserver(obs stage.Observer) timing.Observer {
	if t, ok := obs.(timing.Observer); ok {
		return t
	}
	return nil
}

func blobObserver(obs stage.Observer) format.Observer {
	if b, ok := obs.(format.Observer); ok {
		return b
	}
	return nil
}

func logger(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
