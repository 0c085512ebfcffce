package mkv

import (
	"time"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec/opus"
)

// trackEntry collects the fields of a TrackEntry while it is parsed.
type trackEntry struct {
	number          uint64
	typ             uint64
	codecID         string
	private         []byte
	defaultDuration uint64 // ns
	codecDelay      uint64 // ns
	width, height   int
	rate            float64
	channels        int
}

// stream is the demuxer state of one track.
type stream struct {
	track   *av.Track
	opus    bool
	started bool
	// µs, 0 when unknown
	defaultDuration int64
}

// frameDuration returns the duration of one frame in µs, 0 when unknown.
func (s *stream) frameDuration(frame []byte) int64 {
	if s.opus {
		if d, err := opus.PacketDuration(frame); err == nil {
			return d.Microseconds()
		}
	}
	return s.defaultDuration
}

// Matroska dates count nanoseconds from the millennium.
var epoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
