package format

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format/mkv"
)

// Probe reads all of r through a Matroska prober while keeping a replay
// copy of the bytes. The returned reader yields the same stream again.
func Probe(ctx context.Context, r io.Reader, opts ...mkv.DemuxerOption) (mkv.ProbeResult, io.Reader, error) {
	var replay bytes.Buffer
	p := mkv.NewProber(opts...)
	tee := io.TeeReader(r, &replay)
	buf := make([]byte, ReadSize)
	for {
		if err := ctx.Err(); err != nil {
			return mkv.ProbeResult{}, nil, err
		}
		n, err := tee.Read(buf)
		if n > 0 {
			if perr := p.Write(buf[:n]); perr != nil {
				return mkv.ProbeResult{}, nil, perr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return mkv.ProbeResult{}, nil, err
		}
	}
	res, err := p.Close()
	return res, bytes.NewReader(replay.Bytes()), err
}

// ResolveMIME fills in the video codec of a Matroska MIME type that names
// none by probing r. Other inputs are returned untouched. The returned
// reader must be used in place of r.
func ResolveMIME(ctx context.Context, r io.Reader, m av.MIME, log *slog.Logger) (av.MIME, io.Reader, error) {
	if m.Family() != av.FamilyMatroska || m.VideoCodec != "" {
		return m, r, nil
	}
	if log == nil {
		log = slog.Default()
	}
	log.Warn("no video codec in mime type, probing the full stream", "mime", m.String())
	start := time.Now()
	res, replay, err := Probe(ctx, r, mkv.WithMIME(m), mkv.WithLogger(log))
	switch {
	case errors.Is(err, mkv.ErrNoVideoTrack):
		return m, replay, nil
	case err != nil:
		return m, nil, err
	}
	m.VideoCodec = res.Codec
	log.Info("probed video codec", "codec", res.Codec, "bitrate", res.Bitrate, "took", time.Since(start).Round(time.Millisecond))
	return m, replay, nil
}
