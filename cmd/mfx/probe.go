package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format"
	"github.com/schahriar/mfx/format/mkv"
	"github.com/schahriar/mfx/internal/config"
)

func probe(ctx context.Context, cfg config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	mimeType := fs.String("mime", "", "input MIME type, derived from the extension when empty")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("probe takes one file")
	}
	path := fs.Arg(0)
	mt, err := mimeFor(path, *mimeType)
	if err != nil {
		return err
	}
	m, err := av.ParseMIME(mt)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	codec := ""
	if m.Family() == av.FamilyMatroska {
		res, replay, err := format.Probe(ctx, f, mkv.WithMIME(m), mkv.WithLogger(log))
		switch {
		case err == nil:
			codec = fmt.Sprintf("%s (%d kbit/s over %d samples)", res.Codec, res.Bitrate/1000, res.Samples)
		case !errors.Is(err, mkv.ErrNoVideoTrack):
			return err
		}
		r = replay
	}
	tracks, err := readTracks(ctx, r, m, log)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tCODEC\tDETAILS\tDURATION")
	for _, t := range tracks {
		var details string
		switch t.Kind {
		case av.Video:
			details = fmt.Sprintf("%dx%d", t.Video.CodedWidth, t.Video.CodedHeight)
		case av.Audio:
			details = fmt.Sprintf("%dHz %dch", t.Audio.SampleRate, t.Audio.Channels)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Kind, t.Codec(), details, t.Duration)
	}
	if codec != "" {
		fmt.Fprintf(w, "\nderived video codec: %s\n", codec)
	}
	return w.Flush()
}

// readTracks demuxes r until its tracks are known.
func readTracks(ctx context.Context, r io.Reader, m av.MIME, log *slog.Logger) ([]*av.Track, error) {
	p, err := format.NewParser(m, format.ParserOptions{Logger: log})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d := format.NewDemuxStage(p)
	go d.Run(ctx)
	go format.Feed(ctx, r, d)
	defer d.Cancel()
	return d.Tracks(ctx)
}
