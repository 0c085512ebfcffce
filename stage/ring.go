package stage

import (
	"context"
	"io"
	"sync"
)

// ring is a bounded FIFO shared by one producer and one consumer. Waiters
// block on a broadcast channel that is replaced on every state change.
type ring[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int
	n       int
	closed  bool
	changed chan struct{}
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity), changed: make(chan struct{})}
}

func (r *ring[T]) signal() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *ring[T]) wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// push blocks until there is room for v.
func (r *ring[T]) push(ctx context.Context, v T) error {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return ErrClosed
		}
		if r.n < len(r.buf) {
			r.buf[(r.head+r.n)%len(r.buf)] = v
			r.n++
			r.signal()
			r.mu.Unlock()
			return nil
		}
		ch := r.changed
		r.mu.Unlock()
		if err := r.wait(ctx, ch); err != nil {
			return err
		}
	}
}

// pop blocks until an item is available. It returns io.EOF once the ring is
// closed and empty.
func (r *ring[T]) pop(ctx context.Context) (v T, err error) {
	for {
		r.mu.Lock()
		if r.n > 0 {
			v = r.buf[r.head]
			var zero T
			r.buf[r.head] = zero
			r.head = (r.head + 1) % len(r.buf)
			r.n--
			r.signal()
			r.mu.Unlock()
			return v, nil
		}
		if r.closed {
			r.mu.Unlock()
			return v, io.EOF
		}
		ch := r.changed
		r.mu.Unlock()
		if err = r.wait(ctx, ch); err != nil {
			return v, err
		}
	}
}

// waitSpace blocks until the ring has room or is closed.
func (r *ring[T]) waitSpace(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.closed || r.n < len(r.buf) {
			r.mu.Unlock()
			return nil
		}
		ch := r.changed
		r.mu.Unlock()
		if err := r.wait(ctx, ch); err != nil {
			return err
		}
	}
}

func (r *ring[T]) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.signal()
	}
}

// drain empties the ring and returns what it held.
func (r *ring[T]) drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]T, 0, r.n)
	var zero T
	for r.n > 0 {
		items = append(items, r.buf[r.head])
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.n--
	}
	r.signal()
	return items
}

func (r *ring[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *ring[T]) free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.n
}

func (r *ring[T]) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
