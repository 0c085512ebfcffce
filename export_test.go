package mfx

import (
	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/stage"
)

// DecoderStage returns the decoder at the head of a track's chain.
func DecoderStage(t *TrackOutput) *stage.Stage[av.CodedChunk, av.Frame] {
	return t.chain[0].(*stage.Stage[av.CodedChunk, av.Frame])
}
