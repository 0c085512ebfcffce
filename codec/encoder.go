package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
)

// NewEncoderStage returns a stage encoding frames into muxer input. Missing
// geometry and audio parameters are taken from the first frame. Video gets a
// keyframe on the first frame and at least every KeyframeInterval.
func NewEncoderStage(cfg EncoderConfig, factory EncoderFactory, o Options) *stage.Stage[av.Frame, av.EncodedChunk] {
	o = o.withDefaults()
	kind := cfg.Kind()
	e := &encoder{
		kind:    kind,
		cfg:     cfg,
		factory: factory,
		opts:    o,
		log:     o.Logger.With("component", "encoder", "kind", kind.String()),
	}
	s := stage.New[av.Frame, av.EncodedChunk](kind.String()+"-encoder", e, o.stageOptions()...)
	e.done = s.Done()
	return s
}

type encoder struct {
	kind    av.Kind
	cfg     EncoderConfig
	factory EncoderFactory
	opts    Options
	log     *slog.Logger
	done    <-chan struct{}

	rc        runContext
	ctl       *stage.Controller[av.EncodedChunk]
	enc       Encoder
	closeOnce sync.Once

	started bool
	lastKey int64
}

func (e *encoder) configure(f av.Frame, c *stage.Controller[av.EncodedChunk]) error {
	e.ctl = c
	cfg := e.cfg
	if v := cfg.Video; v != nil {
		vc := *v
		if vc.CodedWidth == 0 || vc.CodedHeight == 0 {
			vc.CodedWidth, vc.CodedHeight = f.Width, f.Height
		}
		cfg.Video = &vc
	}
	if a := cfg.Audio; a != nil {
		ac := *a
		if ac.SampleRate == 0 {
			ac.SampleRate = f.SampleRate
		}
		if ac.Channels == 0 {
			ac.Channels = f.Channels
		}
		cfg.Audio = &ac
	}
	enc, err := e.factory(e.kind, EncoderCallbacks{Output: e.output, Error: c.Error})
	if err != nil {
		return fmt.Errorf("codec: create %s encoder: %w", e.kind, err)
	}
	if err := enc.Configure(cfg); err != nil {
		enc.Close()
		return fmt.Errorf("codec: configure %s encoder: %w", e.kind, err)
	}
	e.enc = enc
	go func() {
		<-e.done
		e.shutdown()
	}()
	e.log.Debug("encoder configured", "bitrate", cfg.Bitrate)
	return nil
}

func (e *encoder) shutdown() error {
	var err error
	e.closeOnce.Do(func() { err = e.enc.Close() })
	return err
}

// keyFrame decides whether the video frame at ts must be a keyframe.
func (e *encoder) keyFrame(ts int64) bool {
	if e.kind != av.Video {
		return false
	}
	if e.started && ts-e.lastKey < KeyframeInterval.Microseconds() {
		return false
	}
	e.started, e.lastKey = true, ts
	return true
}

func (e *encoder) Transform(ctx context.Context, f av.Frame, ctl *stage.Controller[av.EncodedChunk]) error {
	defer f.Release()
	e.rc.set(ctx)
	if e.enc == nil {
		if err := e.configure(f, ctl); err != nil {
			return err
		}
	}
	if err := ctl.Ready(ctx); err != nil {
		return err
	}
	if err := waitQueue(ctx, e.enc, e.opts); err != nil {
		return err
	}
	return e.enc.Encode(f, e.keyFrame(f.Timestamp))
}

func (e *encoder) output(enc av.Encoded) {
	c := av.EncodedChunk{}
	if e.kind == av.Video {
		c.Video = &enc
	} else {
		c.Audio = &enc
	}
	if err := e.ctl.Queue(e.rc.get(), c); err != nil && !errors.Is(err, stage.ErrClosed) {
		e.log.Debug("dropping encoded chunk", "error", err)
	}
}

func (e *encoder) Flush(ctx context.Context, _ *stage.Controller[av.EncodedChunk]) error {
	if e.enc == nil {
		return nil
	}
	return errors.Join(e.enc.Flush(ctx), e.shutdown())
}
