// Package astiav provides FFmpeg backed decoder and encoder capabilities
// through go-astiav. It is only available when built with the cgo_enabled
// tag and FFmpeg development libraries installed.
//
// Frames are exchanged as one contiguous buffer in the codec's native
// layout: YUV 4:2:0 for video, the codec's sample format for audio.
// Timestamps use a microsecond time base.
package astiav
