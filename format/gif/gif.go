// Package gif renders decoded video frames into an animated GIF. Frames are
// resampled to a constant rate first, so every GIF frame has the same delay.
package gif

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"log/slog"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
	"github.com/schahriar/mfx/transform"
)

const (
	MimeType         = "image/gif"
	DefaultFrameRate = 1
)

var (
	ErrNoFrames    = errors.New("gif: no frames")
	ErrFrameLayout = errors.New("gif: unsupported frame layout")
)

type Config struct {
	// Width and Height are the canvas size. The first frame's size is used
	// when zero; larger frames are cropped.
	Width  int
	Height int
	// FrameRate is the output rate, DefaultFrameRate when zero.
	FrameRate int
	Logger    *slog.Logger
}

// NewEncoderStage returns a stage consuming video frames and emitting the
// whole GIF as a single blob once its input is closed. Audio frames are
// discarded.
func NewEncoderStage(cfg Config, opts ...stage.Option) *stage.Stage[av.Frame, av.Blob] {
	e := newEncoder(cfg)
	return stage.New[av.Frame, av.Blob]("gif-encoder", stage.Funcs[av.Frame, av.Blob]{
		TransformFunc: func(ctx context.Context, f av.Frame, c *stage.Controller[av.Blob]) error {
			if f.Kind != av.Video {
				return stage.ErrDiscard
			}
			return e.add(f)
		},
		FlushFunc: func(ctx context.Context, c *stage.Controller[av.Blob]) error {
			b, err := e.encode()
			if err != nil {
				return err
			}
			return c.Queue(ctx, av.Blob{Bytes: b, MimeType: MimeType})
		},
	}, opts...)
}

type encoder struct {
	cfg   Config
	log   *slog.Logger
	rate  *transform.FrameRate
	delay int
	anim  gif.GIF
}

func newEncoder(cfg Config) *encoder {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &encoder{
		cfg:   cfg,
		log:   log.With("component", "gif-encoder"),
		rate:  transform.NewFrameRateAdjuster(cfg.FrameRate),
		delay: max(100/cfg.FrameRate, 1),
	}
}

func (e *encoder) add(f av.Frame) error {
	if e.cfg.Width <= 0 || e.cfg.Height <= 0 {
		e.cfg.Width, e.cfg.Height = f.Width, f.Height
	}
	frames := e.rate.Adjust(f)
	defer func() {
		for _, fr := range frames {
			fr.Release()
		}
	}()
	for _, fr := range frames {
		src, err := Image(fr)
		if err != nil {
			return err
		}
		dst := image.NewPaletted(image.Rect(0, 0, e.cfg.Width, e.cfg.Height), palette.Plan9)
		draw.FloydSteinberg.Draw(dst, dst.Bounds(), src, src.Bounds().Min)
		e.anim.Image = append(e.anim.Image, dst)
		e.anim.Delay = append(e.anim.Delay, e.delay)
	}
	return nil
}

func (e *encoder) encode() ([]byte, error) {
	if len(e.anim.Image) == 0 {
		return nil, ErrNoFrames
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, &e.anim); err != nil {
		return nil, fmt.Errorf("gif: %w", err)
	}
	e.log.Debug("encoded", "frames", len(e.anim.Image), "bytes", buf.Len())
	return buf.Bytes(), nil
}

// Image wraps the payload of a decoded video frame. Frames hold either
// three I420 planes, one contiguous I420 buffer or packed RGBA.
func Image(f av.Frame) (image.Image, error) {
	w, h := f.Width, f.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameLayout, w, h)
	}
	cw, ch := (w+1)/2, (h+1)/2
	rect := image.Rect(0, 0, w, h)
	var y, u, v []byte
	switch {
	case len(f.Data) == 3:
		y, u, v = f.Data[0], f.Data[1], f.Data[2]
	case len(f.Data) == 1 && len(f.Data[0]) == w*h*4:
		return &image.RGBA{Pix: f.Data[0], Stride: w * 4, Rect: rect}, nil
	case len(f.Data) == 1 && len(f.Data[0]) >= w*h+2*cw*ch:
		d := f.Data[0]
		y, u, v = d[:w*h], d[w*h:w*h+cw*ch], d[w*h+cw*ch:w*h+2*cw*ch]
	default:
		return nil, fmt.Errorf("%w: %d planes for %dx%d", ErrFrameLayout, len(f.Data), w, h)
	}
	if len(y) < w*h || len(u) < cw*ch || len(v) < cw*ch {
		return nil, fmt.Errorf("%w: short planes for %dx%d", ErrFrameLayout, w, h)
	}
	return &image.YCbCr{
		Y:              y,
		Cb:             u,
		Cr:             v,
		YStride:        w,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           rect,
	}, nil
}
