package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/schahriar/mfx"
	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/internal/config"
	"github.com/schahriar/mfx/internal/metrics"
	"github.com/schahriar/mfx/sink"
	"github.com/schahriar/mfx/stage"
)

type outputFlags struct {
	in, out   string
	inMIME    string
	outMIME   string
	streaming bool
	chunkSize int
}

func (o *outputFlags) register(fs *flag.FlagSet, cfg config.Config) {
	fs.StringVar(&o.inMIME, "mime", "", "input MIME type, derived from the extension when empty")
	fs.StringVar(&o.outMIME, "out-mime", "", "output MIME type, derived from the extension when empty")
	fs.BoolVar(&o.streaming, "streaming", false, "write fragmented MP4 or a live Matroska segment")
	fs.IntVar(&o.chunkSize, "chunk-size", cfg.ChunkSize, "coalesce output into blobs of this many bytes")
}

func (o *outputFlags) parse(fs *flag.FlagSet, args []string) error {
	fs.Parse(args)
	if fs.NArg() != 2 {
		return errors.New("expected an input and an output file")
	}
	o.in, o.out = fs.Arg(0), fs.Arg(1)
	var err error
	if o.inMIME, err = mimeFor(o.in, o.inMIME); err != nil {
		return err
	}
	o.outMIME, err = mimeFor(o.out, o.outMIME)
	return err
}

func remux(ctx context.Context, cfg config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("remux", flag.ExitOnError)
	var o outputFlags
	o.register(fs, cfg)
	if err := o.parse(fs, args); err != nil {
		return err
	}
	in, err := os.Open(o.in)
	if err != nil {
		return err
	}
	defer in.Close()

	met := metrics.New()
	r, err := mfx.Remux(ctx, in, o.inMIME, mfx.EncodeOptions{
		MimeType:      o.outMIME,
		Streaming:     o.streaming,
		ChunkSize:     o.chunkSize,
		Logger:        log,
		Observer:      met,
		HighWaterMark: cfg.HighWaterMark,
		StallTimeout:  cfg.StallTimeout,
	})
	if err != nil {
		return err
	}
	log.Info("remuxing", "video", r.Video, "audio", r.Audio, "to", o.outMIME)
	n, err := writeFile(ctx, cfg, log, o.out, r, r.Wait)
	if err != nil {
		return err
	}
	log.Info("remuxed", "path", o.out, "bytes", n)
	return nil
}

// writeFile copies blobs into path while wait reports the pipeline result.
// The file only appears at path when both succeed.
func writeFile(ctx context.Context, cfg config.Config, log *slog.Logger, path string, src stage.Source[av.Blob], wait func() error) (int64, error) {
	f, err := sink.NewFile(path, sink.WithMinFree(cfg.MinFreeBytes), sink.WithLogger(log))
	if err != nil {
		return 0, err
	}
	var n int64
	var g errgroup.Group
	g.Go(func() error {
		var err error
		n, err = sink.Copy(ctx, f, src)
		return err
	})
	g.Go(wait)
	if err := g.Wait(); err != nil {
		f.Abort()
		return n, err
	}
	return n, f.Close()
}
