package format

import (
	"context"
	"errors"
	"io"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/stage"
)

// ReadSize is the size of the pieces Feed hands to a demux stage.
const ReadSize = 64 << 10

// Demux is a stage turning container bytes into per-track sample batches.
type Demux struct {
	*stage.Stage[[]byte, container.Batch]
	parser container.Parser
}

// NewDemuxStage wraps p in a stage. Parse errors put the stage into void
// mode; batches emitted before the error stay valid.
func NewDemuxStage(p container.Parser, opts ...stage.Option) *Demux {
	queue := func(ctx context.Context, batches []container.Batch, c *stage.Controller[container.Batch]) error {
		for _, b := range batches {
			if err := c.Queue(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}
	s := stage.New[[]byte, container.Batch]("demux", stage.Funcs[[]byte, container.Batch]{
		TransformFunc: func(ctx context.Context, b []byte, c *stage.Controller[container.Batch]) error {
			batches, err := p.Write(b)
			if qerr := queue(ctx, batches, c); qerr != nil {
				return qerr
			}
			return err
		},
		FlushFunc: func(ctx context.Context, c *stage.Controller[container.Batch]) error {
			batches, err := p.Close()
			if qerr := queue(ctx, batches, c); qerr != nil {
				return qerr
			}
			return err
		},
	}, opts...)
	return &Demux{Stage: s, parser: p}
}

func (d *Demux) Parser() container.Parser { return d.parser }

// Tracks blocks until the parser publishes its tracks. A stage that stops
// before that reports why, or container.ErrNoTracks.
func (d *Demux) Tracks(ctx context.Context) ([]*av.Track, error) {
	sig := d.parser.Tracks()
	select {
	case <-sig.Done():
	case <-d.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if sig.Resolved() {
		return sig.Wait(ctx)
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return nil, container.ErrNoTracks
}

// Feed copies r into dst in ReadSize pieces and closes dst's input once r is
// exhausted.
func Feed(ctx context.Context, r io.Reader, dst stage.Sink[[]byte]) error {
	defer dst.CloseInput()
	for {
		b := make([]byte, ReadSize)
		n, err := io.ReadFull(r, b)
		if n > 0 {
			if werr := dst.Write(ctx, b[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
