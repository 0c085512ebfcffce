package stage

import (
	"log/slog"
	"time"
)

type options struct {
	inHWM         int
	outHWM        int
	log           *slog.Logger
	obs           Observer
	stallTimeout  time.Duration
	stallInterval time.Duration
	stallRepeat   time.Duration
}

type Option func(*options)

// WithHighWaterMark sets the input and output capacities. Values below 1
// keep the default.
func WithHighWaterMark(in, out int) Option {
	return func(o *options) {
		if in > 0 {
			o.inHWM = in
		}
		if out > 0 {
			o.outHWM = out
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.obs = obs
	}
}

// WithStallDetection sets how long the output may stay full before a stall
// is reported, how often it is checked and how long to wait before reporting
// the same stall again.
func WithStallDetection(timeout, interval, repeat time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.stallTimeout = timeout
		}
		if interval > 0 {
			o.stallInterval = interval
		}
		if repeat > 0 {
			o.stallRepeat = repeat
		}
	}
}

// Observer receives stage level measurements.
type Observer interface {
	QueueDepth(stage string, in, out int)
	Stalled(stage string)
	Voided(stage string)
	Discarded(stage string, n int)
}

type nopObserver struct{}

func (nopObserver) QueueDepth(string, int, int) {}
func (nopObserver) Stalled(string)              {}
func (nopObserver) Voided(string)               {}
func (nopObserver) Discarded(string, int)       {}
