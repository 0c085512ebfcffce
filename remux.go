package mfx

import (
	"context"
	"fmt"
	"io"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format"
	"github.com/schahriar/mfx/stage"
)

// Remuxing is a running container to container copy.
type Remuxing struct {
	Video *av.Track
	Audio *av.Track
	Blobs *stage.Stage[av.EncodedChunk, av.Blob]

	p *pipeline
}

func (r *Remuxing) Read(ctx context.Context) (av.Blob, error) {
	return r.Blobs.Read(ctx)
}

func (r *Remuxing) Wait() error { return r.p.wait() }

func (r *Remuxing) Close() { r.p.close() }

// Remux copies the first video and first audio track of r into the
// container named by opts.MimeType without decoding. Video and Audio in
// opts are ignored; they come from the input tracks.
func Remux(ctx context.Context, r io.Reader, mimeType string, opts EncodeOptions) (*Remuxing, error) {
	log := logger(opts.Logger).With("component", "remux")
	m, err := av.ParseMIME(mimeType)
	if err != nil {
		return nil, err
	}
	m, r, err = format.ResolveMIME(ctx, r, m, log)
	if err != nil {
		return nil, fmt.Errorf("mfx: probe: %w", err)
	}
	parser, err := format.NewParser(m, format.ParserOptions{Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	sopts := opts.stageOptions(logger(opts.Logger))
	p := newPipeline(ctx, log)
	demux := format.NewDemuxStage(parser, sopts...)
	p.start(demux)
	p.g.Go(func() error { return format.Feed(p.ctx, r, demux) })

	fail := func(err error) (*Remuxing, error) {
		p.close()
		p.wait()
		return nil, err
	}
	tracks, err := demux.Tracks(ctx)
	if err != nil {
		return fail(err)
	}
	res := &Remuxing{p: p}
	opts.Video, opts.Audio = nil, nil
	for _, t := range tracks {
		switch {
		case t.Kind == av.Video && res.Video == nil:
			res.Video, opts.Video = t, t.Video
		case t.Kind == av.Audio && res.Audio == nil:
			res.Audio, opts.Audio = t, t.Audio
		default:
			log.Info("skipping track", "track", t.String())
		}
	}
	mux, err := format.NewMuxStage(opts.format(), sopts...)
	if err != nil {
		return fail(err)
	}
	res.Blobs = mux
	p.start(mux)
	p.g.Go(func() error { return remux(p.ctx, demux, mux, res.Video, res.Audio) })
	return res, nil
}

// remux turns samples of the selected tracks into encoded chunks. The
// first chunk of each kind carries the track's codec description.
func remux(ctx context.Context, demux *format.Demux, mux stage.Sink[av.EncodedChunk], video, audio *av.Track) error {
	defer mux.CloseInput()
	selected := map[uint64]bool{}
	for _, t := range []*av.Track{video, audio} {
		if t != nil {
			selected[t.ID] = true
		}
	}
	described := map[uint64]bool{}
	for {
		b, err := demux.Read(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			demux.Cancel()
			return err
		}
		if !selected[b.Track.ID] {
			continue
		}
		for _, s := range b.Samples {
			enc := &av.Encoded{Chunk: b.Track.Chunk(s)}
			if !described[b.Track.ID] {
				described[b.Track.ID] = true
				if b.Track.Kind == av.Video {
					enc.Metadata.Description = b.Track.Video.Description
				} else {
					enc.Metadata.Description = b.Track.Audio.Description
				}
			}
			var c av.EncodedChunk
			if b.Track.Kind == av.Video {
				c.Video = enc
			} else {
				c.Audio = enc
			}
			if err := mux.Write(ctx, c); err != nil {
				demux.Cancel()
				return err
			}
		}
	}
}
