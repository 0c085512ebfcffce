//go:build cgo_enabled

package main

import "github.com/schahriar/mfx/codec/astiav"

var (
	decoders = astiav.NewDecoderFactory()
	encoders = astiav.NewEncoderFactory()
)
