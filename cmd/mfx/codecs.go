//go:build !cgo_enabled

package main

import "github.com/schahriar/mfx/codec"

var (
	decoders codec.DecoderFactory
	encoders codec.EncoderFactory
)
