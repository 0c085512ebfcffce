package stage

import (
	"context"
	"io"

	"github.com/schahriar/mfx/av"
)

// Source is the readable side of a stage.
type Source[T any] interface {
	Read(ctx context.Context) (T, error)
}

// Sink is the writable side of a stage.
type Sink[T any] interface {
	Write(ctx context.Context, v T) error
	CloseInput()
}

// Pipe copies src into dst until src is exhausted, then closes dst's input.
func Pipe[T any](ctx context.Context, src Source[T], dst Sink[T]) error {
	defer dst.CloseInput()
	for {
		v, err := src.Read(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := dst.Write(ctx, v); err != nil {
			av.Release(v)
			return err
		}
	}
}

// Collect reads src to the end.
func Collect[T any](ctx context.Context, src Source[T]) ([]T, error) {
	var items []T
	for {
		v, err := src.Read(ctx)
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, v)
	}
}

// Discard reads src to the end, releasing every item.
func Discard[T any](ctx context.Context, src Source[T]) (n int, err error) {
	for {
		v, err := src.Read(ctx)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		av.Release(v)
		n++
	}
}

// Passthrough returns a stage that forwards its input unchanged.
func Passthrough[T any](name string, opts ...Option) *Stage[T, T] {
	return New[T, T](name, Funcs[T, T]{
		TransformFunc: func(ctx context.Context, v T, c *Controller[T]) error {
			return c.Queue(ctx, v)
		},
	}, opts...)
}
