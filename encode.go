package mfx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec"
	"github.com/schahriar/mfx/format"
	"github.com/schahriar/mfx/format/gif"
	"github.com/schahriar/mfx/stage"
)

type EncodeOptions struct {
	// MimeType selects the output container, e.g. "video/webm" or
	// "video/mp4". Codecs are taken from Video and Audio.
	MimeType  string
	Video     *av.VideoConfig
	Audio     *av.AudioConfig
	Streaming bool
	ChunkSize int
	// Bitrate is handed to encoders created by EncodeFrames.
	VideoBitrate int
	AudioBitrate int
	Encoders     codec.EncoderFactory
	Logger       *slog.Logger
	// Observer receives stage metrics and, when it implements
	// format.Observer, every emitted blob.
	Observer stage.Observer
	// HighWaterMark bounds the mux stage.
	HighWaterMark int
	// CodecHighWaterMark bounds encoder stages, codec.HighWaterMark when
	// zero.
	CodecHighWaterMark int
	StallTimeout       time.Duration
}

func (o EncodeOptions) stageOptions(log *slog.Logger) []stage.Option {
	return stageOptions(log, o.Observer, o.HighWaterMark, o.StallTimeout)
}

func (o EncodeOptions) format() format.Config {
	return format.Config{
		MimeType:  o.MimeType,
		Video:     o.Video,
		Audio:     o.Audio,
		Streaming: o.Streaming,
		ChunkSize: o.ChunkSize,
		Logger:    o.Logger,
		Observer:  blobObserver(o.Observer),
	}
}

// Encode returns a running mux stage. Write encoded chunks to it, close its
// input and read blobs until io.EOF. Blobs carry the byte offset they
// belong at; progressive output rewrites earlier ranges on close.
func Encode(ctx context.Context, opts EncodeOptions) (*stage.Stage[av.EncodedChunk, av.Blob], error) {
	if opts.Video == nil && opts.Audio == nil {
		return nil, ErrNoOutput
	}
	mux, err := format.NewMuxStage(opts.format(), opts.stageOptions(logger(opts.Logger))...)
	if err != nil {
		return nil, err
	}
	go mux.Run(ctx)
	return mux, nil
}

// EncodeGIF returns a running GIF encoder sized by opts.Video. Write video
// frames to it, close its input and read the single image/gif blob. No
// encoder factory is involved.
func EncodeGIF(ctx context.Context, fps int, opts EncodeOptions) (*stage.Stage[av.Frame, av.Blob], error) {
	if opts.Video == nil {
		return nil, ErrNoOutput
	}
	log := logger(opts.Logger)
	s := gif.NewEncoderStage(gif.Config{
		Width:     opts.Video.CodedWidth,
		Height:    opts.Video.CodedHeight,
		FrameRate: fps,
		Logger:    log,
	}, opts.stageOptions(log)...)
	go s.Run(ctx)
	return s, nil
}

// Encoding is a running frame to blob pipeline.
type Encoding struct {
	// Video and Audio accept frames; nil when the kind is not configured.
	Video *stage.Stage[av.Frame, av.EncodedChunk]
	Audio *stage.Stage[av.Frame, av.EncodedChunk]
	Blobs *stage.Stage[av.EncodedChunk, av.Blob]

	p *pipeline
}

// Read returns the next blob or io.EOF.
func (e *Encoding) Read(ctx context.Context) (av.Blob, error) {
	return e.Blobs.Read(ctx)
}

// Wait blocks until the muxer finished and reports every stage failure.
func (e *Encoding) Wait() error { return e.p.wait() }

func (e *Encoding) Close() { e.p.close() }

// EncodeFrames starts an encoder per configured kind in front of a muxer.
// Closing the input of every encoder finalizes the container.
func EncodeFrames(ctx context.Context, opts EncodeOptions) (*Encoding, error) {
	if opts.Encoders == nil {
		return nil, ErrNoEncoders
	}
	if opts.Video == nil && opts.Audio == nil {
		return nil, ErrNoOutput
	}
	log := logger(opts.Logger)
	mux, err := format.NewMuxStage(opts.format(), opts.stageOptions(log)...)
	if err != nil {
		return nil, err
	}
	p := newPipeline(ctx, log.With("component", "encode"))
	e := &Encoding{Blobs: mux, p: p}
	p.start(mux)
	co := codec.Options{
		Logger:        log,
		Observer:      opts.Observer,
		HighWaterMark: opts.CodecHighWaterMark,
		StallTimeout:  opts.StallTimeout,
	}
	var srcs []source[av.EncodedChunk]
	if opts.Video != nil {
		e.Video = codec.NewEncoderStage(codec.EncoderConfig{Config: codec.Config{Video: opts.Video}, Bitrate: opts.VideoBitrate}, opts.Encoders, co)
		p.start(e.Video)
		srcs = append(srcs, e.Video)
	}
	if opts.Audio != nil {
		e.Audio = codec.NewEncoderStage(codec.EncoderConfig{Config: codec.Config{Audio: opts.Audio}, Bitrate: opts.AudioBitrate}, opts.Encoders, co)
		p.start(e.Audio)
		srcs = append(srcs, e.Audio)
	}
	merge(p, mux, srcs...)
	return e, nil
}

// merge moves every source into dst and closes dst's input after the last
// source is exhausted.
func merge[T any](p *pipeline, dst stage.Sink[T], srcs ...source[T]) {
	var wg sync.WaitGroup
	wg.Add(len(srcs))
	for _, src := range srcs {
		p.g.Go(func() error {
			defer wg.Done()
			for {
				v, err := src.Read(p.ctx)
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if err := dst.Write(p.ctx, v); err != nil {
					av.Release(v)
					src.Cancel()
					if errors.Is(err, stage.ErrClosed) {
						return nil
					}
					return err
				}
			}
		})
	}
	p.g.Go(func() error {
		wg.Wait()
		dst.CloseInput()
		return nil
	})
}
