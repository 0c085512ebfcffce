package transform

import (
	"context"
	"errors"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
)

// Tee forwards every frame and hands a clone of it to Branch. Both stages
// must be run and both outputs read or cancelled. A cancelled branch stops
// receiving clones without affecting the main output.
type Tee struct {
	*stage.Stage[av.Frame, av.Frame]
	Branch *stage.Stage[av.Frame, av.Frame]
}

func NewTee(opts ...stage.Option) *Tee {
	branch := stage.Passthrough[av.Frame]("tee-branch", opts...)
	dead := false
	main := stage.New[av.Frame, av.Frame]("tee", stage.Funcs[av.Frame, av.Frame]{
		TransformFunc: func(ctx context.Context, f av.Frame, c *stage.Controller[av.Frame]) error {
			if !dead {
				clone := f.Clone()
				if err := branch.Write(ctx, clone); err != nil {
					clone.Release()
					if !errors.Is(err, stage.ErrClosed) {
						f.Release()
						return err
					}
					dead = true
				}
			}
			return c.Queue(ctx, f)
		},
	}, opts...)
	return &Tee{Stage: main, Branch: branch}
}

// Run runs the main stage and ends the branch input once it returns.
func (t *Tee) Run(ctx context.Context) error {
	defer t.Branch.CloseInput()
	return t.Stage.Run(ctx)
}
