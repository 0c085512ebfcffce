package transform

import (
	"context"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
)

// NewSample forwards the frames keep accepts. i counts every frame seen,
// starting at 0. Rejected frames are released.
func NewSample(keep func(f av.Frame, i int) bool, opts ...stage.Option) *stage.Stage[av.Frame, av.Frame] {
	i := 0
	return stage.New[av.Frame, av.Frame]("sample", stage.Funcs[av.Frame, av.Frame]{
		TransformFunc: func(ctx context.Context, f av.Frame, c *stage.Controller[av.Frame]) error {
			n := i
			i++
			if !keep(f, n) {
				return stage.ErrDiscard
			}
			return c.Queue(ctx, f)
		},
	}, opts...)
}

// EveryNth keeps the first frame and every nth after it.
func EveryNth(n int) func(av.Frame, int) bool {
	return func(_ av.Frame, i int) bool {
		return n <= 1 || i%n == 0
	}
}
