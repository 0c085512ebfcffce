package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schahriar/mfx"
	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format/gif"
	"github.com/schahriar/mfx/internal/config"
	"github.com/schahriar/mfx/internal/metrics"
	"github.com/schahriar/mfx/stage"
	"github.com/schahriar/mfx/transform"
)

var errNoCodecs = errors.New("transcode needs a build with the cgo_enabled tag")

func transcode(ctx context.Context, cfg config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("transcode", flag.ExitOnError)
	var o outputFlags
	o.register(fs, cfg)
	videoCodec := fs.String("video-codec", "vp8", "output video codec")
	audioCodec := fs.String("audio-codec", "opus", "output audio codec")
	videoBitrate := fs.Int("video-bitrate", 0, "video bitrate in bits per second")
	fps := fs.Int("fps", 0, "resample video to this frame rate")
	start := fs.Duration("start", 0, "trim start")
	end := fs.Duration("end", 0, "trim end, 0 keeps the rest")
	if err := o.parse(fs, args); err != nil {
		return err
	}
	toGIF := o.outMIME == gif.MimeType
	if decoders == nil || (encoders == nil && !toGIF) {
		return errNoCodecs
	}
	in, err := os.Open(o.in)
	if err != nil {
		return err
	}
	defer in.Close()

	met := metrics.New()
	dec, err := mfx.Decode(ctx, in, o.inMIME, mfx.DecodeOptions{
		Trim:          transform.Trim{Start: *start, End: *end},
		FrameRate:     *fps,
		Decoders:      decoders,
		Logger:        log,
		Observer:      met,
		HighWaterMark: cfg.HighWaterMark,
		StallTimeout:  cfg.StallTimeout,
	})
	if err != nil {
		return err
	}
	defer dec.Close()
	if toGIF {
		return transcodeGIF(ctx, cfg, log, o, dec, *fps)
	}
	opts := mfx.EncodeOptions{
		MimeType:      o.outMIME,
		Streaming:     o.streaming,
		ChunkSize:     o.chunkSize,
		VideoBitrate:  *videoBitrate,
		Encoders:      encoders,
		Logger:        log,
		Observer:      met,
		HighWaterMark: cfg.HighWaterMark,
		StallTimeout:  cfg.StallTimeout,
	}
	if dec.Video != nil {
		v := dec.Video.Track.Video
		opts.Video = &av.VideoConfig{Codec: *videoCodec, CodedWidth: v.CodedWidth, CodedHeight: v.CodedHeight}
	}
	if dec.Audio != nil {
		a := dec.Audio.Track.Audio
		opts.Audio = &av.AudioConfig{Codec: *audioCodec, SampleRate: a.SampleRate, Channels: a.Channels}
	}
	enc, err := mfx.EncodeFrames(ctx, opts)
	if err != nil {
		return err
	}
	defer enc.Close()
	for _, t := range dec.VideoTracks[min(1, len(dec.VideoTracks)):] {
		t.Cancel()
	}
	for _, t := range dec.AudioTracks[min(1, len(dec.AudioTracks)):] {
		t.Cancel()
	}

	began := time.Now()
	var g errgroup.Group
	if dec.Video != nil {
		g.Go(func() error { return stage.Pipe[av.Frame](ctx, dec.Video, enc.Video) })
	}
	if dec.Audio != nil {
		g.Go(func() error { return stage.Pipe[av.Frame](ctx, dec.Audio, enc.Audio) })
	}
	g.Go(dec.Wait)
	n, err := writeFile(ctx, cfg, log, o.out, enc, func() error {
		return errors.Join(g.Wait(), enc.Wait())
	})
	if err != nil {
		return err
	}
	log.Info("transcoded", "path", o.out, "bytes", n, "took", time.Since(began).Round(time.Millisecond))
	return nil
}

// transcodeGIF renders the first video track. Every other track is
// cancelled.
func transcodeGIF(ctx context.Context, cfg config.Config, log *slog.Logger, o outputFlags, dec *mfx.DecodeResult, fps int) error {
	for _, t := range dec.AudioTracks {
		t.Cancel()
	}
	for _, t := range dec.VideoTracks[min(1, len(dec.VideoTracks)):] {
		t.Cancel()
	}
	if dec.Video == nil {
		return mfx.ErrNoOutput
	}
	if fps <= 0 {
		fps = gif.DefaultFrameRate
	}
	enc, err := mfx.EncodeGIF(ctx, fps, mfx.EncodeOptions{
		Video:        dec.Video.Track.Video,
		Logger:       log,
		StallTimeout: cfg.StallTimeout,
	})
	if err != nil {
		return err
	}
	defer enc.Cancel()
	var g errgroup.Group
	g.Go(func() error { return stage.Pipe[av.Frame](ctx, dec.Video, enc) })
	g.Go(dec.Wait)
	n, err := writeFile(ctx, cfg, log, o.out, enc, func() error {
		if err := g.Wait(); err != nil {
			return err
		}
		<-enc.Done()
		return enc.Err()
	})
	if err != nil {
		return err
	}
	log.Info("rendered gif", "path", o.out, "bytes", n, "frames_per_second", fps)
	return nil
}
