package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
	"github.com/schahriar/mfx/timing"
)

// NewDecoderStage returns a stage decoding the chunks of track. Video
// frames leave with reconstructed durations.
func NewDecoderStage(track *av.Track, factory DecoderFactory, o Options) *stage.Stage[av.CodedChunk, av.Frame] {
	o = o.withDefaults()
	d := &decoder{
		track:   track,
		factory: factory,
		opts:    o,
		log:     o.Logger.With("component", "decoder", "track", track.ID, "kind", track.Kind.String()),
	}
	if track.Kind == av.Video {
		d.rec = timing.New(o.Logger, o.Timing)
	}
	s := stage.New[av.CodedChunk, av.Frame](track.Kind.String()+"-decoder", d, o.stageOptions()...)
	d.done = s.Done()
	return s
}

type decoder struct {
	track   *av.Track
	factory DecoderFactory
	opts    Options
	log     *slog.Logger
	done    <-chan struct{}

	rc        runContext
	ctl       *stage.Controller[av.Frame]
	dec       Decoder
	closeOnce sync.Once

	mu  sync.Mutex
	rec *timing.Reconstructor
}

func (d *decoder) configure(c *stage.Controller[av.Frame]) error {
	d.ctl = c
	dec, err := d.factory(d.track.Kind, DecoderCallbacks{Output: d.output, Error: c.Error})
	if err != nil {
		return fmt.Errorf("codec: create %s decoder: %w", d.track.Kind, err)
	}
	cfg := Config{Video: d.track.Video, Audio: d.track.Audio}
	if err := dec.Configure(cfg); err != nil {
		dec.Close()
		return fmt.Errorf("codec: configure %s: %w", d.track.Codec(), err)
	}
	d.dec = dec
	go func() {
		<-d.done
		d.shutdown()
	}()
	d.log.Debug("decoder configured", "codec", d.track.Codec())
	return nil
}

func (d *decoder) shutdown() error {
	var err error
	d.closeOnce.Do(func() { err = d.dec.Close() })
	return err
}

func (d *decoder) Transform(ctx context.Context, c av.CodedChunk, ctl *stage.Controller[av.Frame]) error {
	d.rc.set(ctx)
	if d.dec == nil {
		if err := d.configure(ctl); err != nil {
			return err
		}
	}
	if err := ctl.Ready(ctx); err != nil {
		return err
	}
	if err := waitQueue(ctx, d.dec, d.opts); err != nil {
		return err
	}
	return d.dec.Decode(c)
}

func (d *decoder) output(f av.Frame) {
	f.Kind = d.track.Kind
	if f.Context == (av.ContainerContext{}) {
		f.Context = d.track.Context()
	}
	if d.rec != nil {
		d.mu.Lock()
		out, ok := d.rec.Push(f)
		d.mu.Unlock()
		if !ok {
			return
		}
		f = out
	}
	if err := d.ctl.Queue(d.rc.get(), f); err != nil && !errors.Is(err, stage.ErrClosed) {
		d.log.Debug("dropping decoded frame", "error", err)
	}
}

func (d *decoder) Flush(ctx context.Context, ctl *stage.Controller[av.Frame]) error {
	if d.dec == nil {
		return nil
	}
	err := d.dec.Flush(ctx)
	if d.rec != nil {
		d.mu.Lock()
		last, ok := d.rec.End()
		d.mu.Unlock()
		if ok {
			if qerr := ctl.Queue(ctx, last); qerr != nil {
				err = errors.Join(err, qerr)
			}
		}
	}
	return errors.Join(err, d.shutdown())
}
