// Package container holds the contracts shared by the ISO-BMFF and
// Matroska demuxers and muxers.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/schahriar/mfx/av"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrNoTracks         = errors.New("container: no tracks found")
)

// UnsupportedCodec wraps ErrUnsupportedCodec with the offending codec.
func UnsupportedCodec(format, codec string) error {
	return fmt.Errorf("%s: %w %q", format, ErrUnsupportedCodec, codec)
}

// State is the demuxer lifecycle.
type State int32

const (
	Accumulating State = iota
	TracksReady
	Streaming
	Flushed
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case TracksReady:
		return "tracks-ready"
	case Streaming:
		return "streaming"
	case Flushed:
		return "flushed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Batch is a run of samples belonging to one track, in decode order.
type Batch struct {
	Track   *av.Track
	Samples []av.Sample
}

// Signal is a one-shot value resolved exactly once.
type Signal[T any] struct {
	once sync.Once
	done chan struct{}
	v    T
	err  error
}

func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{done: make(chan struct{})}
}

// Resolve sets the value. Only the first call has an effect; it reports
// whether this call resolved the signal.
func (s *Signal[T]) Resolve(v T, err error) (resolved bool) {
	s.once.Do(func() {
		s.v, s.err = v, err
		close(s.done)
		resolved = true
	})
	return
}

func (s *Signal[T]) Done() <-chan struct{} { return s.done }

func (s *Signal[T]) Resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal resolves or ctx is done.
func (s *Signal[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		return s.v, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Parser is a push based demuxer. Write appends input bytes and returns the
// batches that became complete; Close marks end of input and returns what
// remains. Tracks resolves before the first batch is returned.
type Parser interface {
	Write(b []byte) ([]Batch, error)
	Close() ([]Batch, error)
	Tracks() *Signal[[]*av.Track]
	State() State
}

// Muxer consumes encoded chunks and reports container bytes through the
// callback it was constructed with. Close finalizes the container and returns
// once every byte has been reported.
type Muxer interface {
	Write(c av.EncodedChunk) error
	Close() error
}

// Emit receives muxer output in the order it was produced.
type Emit func(av.Blob)
