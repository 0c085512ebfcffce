// Package format selects the demuxer and muxer for a MIME type and runs them
// as pipeline stages.
package format

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/format/mkv"
	"github.com/schahriar/mfx/format/mp4"
)

var ErrUnsupportedContainer = errors.New("format: unsupported container")

type ParserOptions struct {
	// Seek starts ISO-BMFF extraction at the sync sample at or before Seek.
	// Matroska ignores it.
	Seek   time.Duration
	Logger *slog.Logger
}

// NewParser returns the push demuxer for the container family of m. Codecs
// named by m override the ones found in Matroska streams.
func NewParser(m av.MIME, opts ParserOptions) (container.Parser, error) {
	switch m.Family() {
	case av.FamilyMP4:
		return mp4.NewDemuxer(mp4.WithSeek(opts.Seek), mp4.WithMIME(m), mp4.WithLogger(opts.Logger)), nil
	case av.FamilyMatroska:
		return mkv.NewDemuxer(mkv.WithMIME(m), mkv.WithLogger(opts.Logger)), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedContainer, m)
}

// Config describes a muxer output.
type Config struct {
	MimeType string
	Video    *av.VideoConfig
	Audio    *av.AudioConfig
	// Streaming produces output whose bytes never change once emitted:
	// fragmented MP4 or a live Matroska segment.
	Streaming bool
	// ChunkSize coalesces contiguous output into blobs of this many bytes.
	ChunkSize int
	Logger    *slog.Logger
	Observer  Observer
}

// Observer is told about every blob a mux stage emits.
type Observer interface {
	BlobEmitted(mime string, bytes int)
}

// MIME renders the full MIME type of the configured output, codecs
// included.
func (c Config) MIME() (av.MIME, error) {
	m, err := av.ParseMIME(c.MimeType)
	if err != nil {
		return m, err
	}
	if c.Video != nil {
		m.VideoCodec = c.Video.Codec
	}
	if c.Audio != nil {
		m.AudioCodec = c.Audio.Codec
	}
	return m, nil
}

// NewMuxer returns the muxer for the container family of cfg.MimeType.
func NewMuxer(cfg Config, emit container.Emit) (container.Muxer, error) {
	m, err := cfg.MIME()
	if err != nil {
		return nil, err
	}
	mime := m.String()
	switch m.Family() {
	case av.FamilyMP4:
		return mp4.NewMuxer(mp4.MuxerConfig{
			Video:     cfg.Video,
			Audio:     cfg.Audio,
			Streaming: cfg.Streaming,
			ChunkSize: cfg.ChunkSize,
			MimeType:  mime,
			Logger:    cfg.Logger,
		}, emit)
	case av.FamilyMatroska:
		return mkv.NewMuxer(mkv.MuxerConfig{
			Video:     cfg.Video,
			Audio:     cfg.Audio,
			Streaming: cfg.Streaming,
			ChunkSize: cfg.ChunkSize,
			MimeType:  mime,
			Logger:    cfg.Logger,
		}, emit)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedContainer, m)
}
