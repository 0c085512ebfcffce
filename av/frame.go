package av

import (
	"sync"
	"sync/atomic"
	"time"
)

// Releaser is implemented by values holding buffers that must be returned
// once a stage drops them.
type Releaser interface {
	Release()
}

// Release calls Release on v if it holds resources.
func Release(v any) {
	if r, ok := v.(Releaser); ok {
		r.Release()
	}
}

// ContainerContext travels with decoded frames so end of stream and bound
// checks do not need the container.
type ContainerContext struct {
	Duration  time.Duration
	CreatedAt time.Time
}

// Frame is a decoded picture or block of audio. Timestamp and Duration are
// in microseconds.
type Frame struct {
	Kind      Kind
	Timestamp int64
	Duration  int64

	Width  int
	Height int

	SampleRate     int
	Channels       int
	NumberOfFrames int

	Data    [][]byte
	Context ContainerContext

	handle *handle
}

type handle struct {
	once   sync.Once
	shared *payload
}

type payload struct {
	refs    atomic.Int32
	release func()
}

// NewFrame attaches release to f. Revised copies share the same handle so
// the payload is released once.
func NewFrame(f Frame, release func()) Frame {
	if release != nil {
		p := &payload{release: release}
		p.refs.Store(1)
		f.handle = &handle{shared: p}
	}
	return f
}

// Clone returns a copy of f holding its own reference to the payload. The
// payload is released once f and every clone have been released.
func (f Frame) Clone() Frame {
	if f.handle != nil {
		f.handle.shared.refs.Add(1)
		f.handle = &handle{shared: f.handle.shared}
	}
	return f
}

func (f Frame) Release() {
	if h := f.handle; h != nil {
		h.once.Do(func() {
			if h.shared.refs.Add(-1) == 0 {
				h.shared.release()
			}
		})
	}
}

func (f Frame) WithDuration(d int64) Frame {
	f.Duration = d
	return f
}

func (f Frame) WithTimestamp(ts int64) Frame {
	f.Timestamp = ts
	return f
}

// End is the timestamp right after the frame.
func (f Frame) End() int64 {
	return f.Timestamp + f.Duration
}
