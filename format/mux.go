package format

import (
	"context"
	"sync"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/stage"
)

// blobQueue collects muxer output until the stage can queue it. Matroska
// emits from its writer goroutine, so access is locked.
type blobQueue struct {
	mu    sync.Mutex
	blobs []av.Blob
	obs   Observer
}

func (q *blobQueue) emit(b av.Blob) {
	q.mu.Lock()
	q.blobs = append(q.blobs, b)
	q.mu.Unlock()
	if q.obs != nil {
		q.obs.BlobEmitted(b.MimeType, len(b.Bytes))
	}
}

func (q *blobQueue) drain(ctx context.Context, c *stage.Controller[av.Blob]) error {
	q.mu.Lock()
	blobs := q.blobs
	q.blobs = nil
	q.mu.Unlock()
	for _, b := range blobs {
		if err := c.Queue(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// NewMuxStage returns a stage turning encoded chunks into output blobs.
// Unsupported codecs fail here with container.ErrUnsupportedCodec.
func NewMuxStage(cfg Config, opts ...stage.Option) (*stage.Stage[av.EncodedChunk, av.Blob], error) {
	q := &blobQueue{obs: cfg.Observer}
	m, err := NewMuxer(cfg, q.emit)
	if err != nil {
		return nil, err
	}
	return stage.New[av.EncodedChunk, av.Blob]("mux", muxer{m: m, q: q}, opts...), nil
}

type muxer struct {
	m container.Muxer
	q *blobQueue
}

func (x muxer) Transform(ctx context.Context, c av.EncodedChunk, out *stage.Controller[av.Blob]) error {
	if err := x.m.Write(c); err != nil {
		return err
	}
	return x.q.drain(ctx, out)
}

func (x muxer) Flush(ctx context.Context, out *stage.Controller[av.Blob]) error {
	err := x.m.Close()
	if qerr := x.q.drain(ctx, out); qerr != nil {
		return qerr
	}
	return err
}
