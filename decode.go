package mfx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec"
	"github.com/schahriar/mfx/format"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/stage"
	"github.com/schahriar/mfx/transform"
)

type DecodeOptions struct {
	// Trim keeps frames in [Start, End) and moves Start to zero. For MP4
	// input extraction begins at the sync sample before Start.
	Trim transform.Trim
	// FrameRate resamples video to a constant rate when positive.
	FrameRate int
	Decoders  codec.DecoderFactory
	Logger    *slog.Logger
	// Observer receives stage metrics. It is also told about timing
	// discards when it implements timing.Observer.
	Observer stage.Observer
	// HighWaterMark bounds the demux, frame rate and trim stages.
	HighWaterMark int
	// CodecHighWaterMark bounds decoder stages, codec.HighWaterMark when
	// zero.
	CodecHighWaterMark int
	// StallTimeout is how long a stage output may stay full before it is
	// reported as stalled, 10s when zero.
	StallTimeout time.Duration
}

// TrackOutput is the decoded frame stream of one track.
type TrackOutput struct {
	Track  *av.Track
	Frames *stage.Stage[av.Frame, av.Frame]

	chain []runner
}

// Cancel stops decoding the track and releases every frame it buffered.
func (t *TrackOutput) Cancel() {
	for i := len(t.chain) - 1; i >= 0; i-- {
		t.chain[i].Cancel()
	}
}

// Read returns the next frame or io.EOF.
func (t *TrackOutput) Read(ctx context.Context) (av.Frame, error) {
	return t.Frames.Read(ctx)
}

type DecodeResult struct {
	// Video and Audio are the first track of each kind, nil when absent.
	Video       *TrackOutput
	Audio       *TrackOutput
	VideoTracks []*TrackOutput
	AudioTracks []*TrackOutput

	p *pipeline
}

// Wait blocks until every track finished and returns the failures of all
// of them joined. A failing track does not stop the others.
func (r *DecodeResult) Wait() error { return r.p.wait() }

// Close cancels every track.
func (r *DecodeResult) Close() { r.p.close() }

// Decode demultiplexes r and decodes every track on its own chain of
// stages. It returns once the container's tracks are known.
func Decode(ctx context.Context, r io.Reader, mimeType string, opts DecodeOptions) (*DecodeResult, error) {
	if opts.Decoders == nil {
		return nil, ErrNoDecoders
	}
	log := logger(opts.Logger).With("component", "decode")
	m, err := av.ParseMIME(mimeType)
	if err != nil {
		return nil, err
	}
	m, r, err = format.ResolveMIME(ctx, r, m, log)
	if err != nil {
		return nil, fmt.Errorf("mfx: probe: %w", err)
	}
	parser, err := format.NewParser(m, format.ParserOptions{Seek: opts.Trim.Start, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}

	p := newPipeline(ctx, log)
	sopts := stageOptions(logger(opts.Logger), opts.Observer, opts.HighWaterMark, opts.StallTimeout)
	demux := format.NewDemuxStage(parser, sopts...)
	p.start(demux)
	p.g.Go(func() error { return format.Feed(p.ctx, r, demux) })

	tracks, err := demux.Tracks(ctx)
	if err != nil {
		p.close()
		p.wait()
		return nil, err
	}

	res := &DecodeResult{p: p}
	routes := make(map[uint64]*stage.Stage[av.CodedChunk, av.Frame], len(tracks))
	for _, t := range tracks {
		out, dec := decodeTrack(p, t, opts)
		routes[t.ID] = dec
		switch t.Kind {
		case av.Video:
			res.VideoTracks = append(res.VideoTracks, out)
		case av.Audio:
			res.AudioTracks = append(res.AudioTracks, out)
		}
		log.Debug("decoding track", "track", t.String())
	}
	if len(res.VideoTracks) > 0 {
		res.Video = res.VideoTracks[0]
	}
	if len(res.AudioTracks) > 0 {
		res.Audio = res.AudioTracks[0]
	}
	p.g.Go(func() error { return split(p.ctx, demux, routes, log) })
	return res, nil
}

// decodeTrack starts decoder, frame rate and trim stages for t.
func decodeTrack(p *pipeline, t *av.Track, opts DecodeOptions) (*TrackOutput, *stage.Stage[av.CodedChunk, av.Frame]) {
	log := logger(opts.Logger)
	dec := codec.NewDecoderStage(t, opts.Decoders, codec.Options{
		Logger:        log,
		Observer:      opts.Observer,
		Timing:        timingObserver(opts.Observer),
		HighWaterMark: opts.CodecHighWaterMark,
		StallTimeout:  opts.StallTimeout,
	})
	out := &TrackOutput{Track: t, chain: []runner{dec}}
	p.start(dec)
	var last source[av.Frame] = dec
	sopts := stageOptions(log, opts.Observer, opts.HighWaterMark, opts.StallTimeout)
	if t.Kind == av.Video && opts.FrameRate > 0 {
		fr := transform.NewFrameRate(opts.FrameRate, sopts...)
		p.start(fr)
		link[av.Frame](p, last, fr)
		out.chain = append(out.chain, fr)
		last = fr
	}
	trim := transform.NewTrim(opts.Trim, sopts...)
	p.start(trim)
	link[av.Frame](p, last, trim)
	out.chain = append(out.chain, trim)
	out.Frames = trim
	return out, dec
}

// split routes demuxed samples to the decoder of their track and closes
// every decoder once the container is exhausted. A track whose decoder
// stopped accepting input is skipped from then on.
func split(ctx context.Context, demux *format.Demux, routes map[uint64]*stage.Stage[av.CodedChunk, av.Frame], log *slog.Logger) error {
	defer func() {
		for _, dec := range routes {
			dec.CloseInput()
		}
	}()
	dead := make(map[uint64]bool)
	for {
		b, err := demux.Read(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			demux.Cancel()
			return err
		}
		id := b.Track.ID
		dec, ok := routes[id]
		if !ok || dead[id] {
			continue
		}
		if err := writeBatch(ctx, dec, b); err != nil {
			if ctx.Err() != nil {
				demux.Cancel()
				return ctx.Err()
			}
			dead[id] = true
			log.Debug("track stopped accepting samples", "track", id, "error", err)
		}
	}
}

func writeBatch(ctx context.Context, dst stage.Sink[av.CodedChunk], b container.Batch) error {
	for _, s := range b.Samples {
		if err := dst.Write(ctx, b.Track.Chunk(s)); err != nil {
			if errors.Is(err, stage.ErrClosed) {
				return err
			}
			return fmt.Errorf("mfx: track %d: %w", b.Track.ID, err)
		}
	}
	return nil
}
