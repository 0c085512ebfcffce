// Package sink delivers muxer output to files, websocket clients and WebRTC
// peers.
package sink

import (
	"context"
	"errors"
	"io"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
)

var (
	ErrDiskFull = errors.New("sink: not enough free disk space")
	// ErrNotContiguous is returned by streaming sinks for blobs that rewrite
	// bytes already sent, as progressive MP4 does when it closes.
	ErrNotContiguous = errors.New("sink: blob does not continue the stream")
	ErrClosed        = errors.New("sink: closed")
)

type BlobWriter interface {
	WriteBlob(ctx context.Context, b av.Blob) error
}

// Copy writes every blob of src to dst and returns the number of bytes
// written.
func Copy(ctx context.Context, dst BlobWriter, src stage.Source[av.Blob]) (int64, error) {
	var n int64
	for {
		b, err := src.Read(ctx)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := dst.WriteBlob(ctx, b); err != nil {
			return n, err
		}
		n += int64(len(b.Bytes))
	}
}
