package stage

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type counter struct {
	stalled, voided, discarded atomic.Int32
}

func (c *counter) QueueDepth(string, int, int) {}
func (c *counter) Stalled(string)              { c.stalled.Add(1) }
func (c *counter) Voided(string)               { c.voided.Add(1) }
func (c *counter) Discarded(_ string, n int)   { c.discarded.Add(int32(n)) }

type item struct {
	v        int
	released *atomic.Int32
}

func (i item) Release() {
	if i.released != nil {
		i.released.Add(1)
	}
}

func double() Funcs[int, int] {
	return Funcs[int, int]{
		TransformFunc: func(ctx context.Context, v int, c *Controller[int]) error {
			return c.Queue(ctx, v*2)
		},
	}
}

func TestStageTransformAndFlush(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New[int, int]("double", Funcs[int, int]{
		TransformFunc: double().TransformFunc,
		FlushFunc: func(ctx context.Context, c *Controller[int]) error {
			return c.Queue(ctx, -1)
		},
	})
	go s.Run(ctx)
	go func() {
		for i := 1; i <= 3; i++ {
			s.Write(ctx, i)
		}
		s.CloseInput()
	}()
	got, err := Collect[int](ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{2, 4, 6, -1}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestStageBuffersBeforeConsumer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New[int, int]("buffer", double(), WithHighWaterMark(4, 4))
	go s.Run(ctx)
	for i := 0; i < 4; i++ {
		if err := s.Write(ctx, i); err != nil {
			t.Fatal(err)
		}
	}
	deadline := time.Now().Add(time.Second)
	for {
		if _, out := s.Buffered(); out == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("output never filled")
		}
		time.Sleep(time.Millisecond)
	}
	s.CloseInput()
	got, _ := Collect[int](ctx, s)
	if len(got) != 4 || got[3] != 6 {
		t.Errorf("got %v", got)
	}
}

func TestStageBackpressureBound(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	const hwm = 3
	s := New[int, int]("bound", double(), WithHighWaterMark(hwm, hwm))
	go s.Run(ctx)

	var max atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := s.Write(ctx, i); err != nil {
				return
			}
			in, out := s.Buffered()
			if n := int32(in + out); n > max.Load() {
				max.Store(n)
			}
		}
		s.CloseInput()
	}()
	n := 0
	for {
		time.Sleep(100 * time.Microsecond)
		_, err := s.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	wg.Wait()
	if n != 50 {
		t.Errorf("read %d items, want 50", n)
	}
	// one item may be held by the transform between the rings
	if m := max.Load(); m > 2*hwm+1 {
		t.Errorf("buffered %d items, capacity is %d", m, 2*hwm)
	}
}

func TestStageVoidMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	obs := &counter{}
	var released atomic.Int32
	boom := errors.New("boom")
	flushed := false
	s := New[item, int]("void", Funcs[item, int]{
		TransformFunc: func(ctx context.Context, in item, c *Controller[int]) error {
			if in.v == 2 {
				return boom
			}
			return c.Queue(ctx, in.v)
		},
		FlushFunc: func(context.Context, *Controller[int]) error {
			flushed = true
			return nil
		},
	}, WithObserver(obs))
	go s.Run(ctx)
	for i := 1; i <= 5; i++ {
		s.Write(ctx, item{v: i, released: &released})
	}
	s.CloseInput()
	got, err := Collect[int](ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("got %v, want [1]", got)
	}
	if !errors.Is(s.Err(), boom) || !s.Void() {
		t.Errorf("Err() = %v", s.Err())
	}
	select {
	case err := <-s.Errors():
		if !errors.Is(err, boom) {
			t.Errorf("Errors() delivered %v", err)
		}
	default:
		t.Error("no error delivered")
	}
	if flushed {
		t.Error("flush ran in void mode")
	}
	if released.Load() != 3 {
		t.Errorf("released %d items, want 3", released.Load())
	}
	if obs.voided.Load() != 1 {
		t.Errorf("voided %d, want 1", obs.voided.Load())
	}
}

func TestStageDiscard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var released atomic.Int32
	s := New[item, int]("odd", Funcs[item, int]{
		TransformFunc: func(ctx context.Context, in item, c *Controller[int]) error {
			if in.v%2 == 0 {
				return ErrDiscard
			}
			return c.Queue(ctx, in.v)
		},
	})
	go s.Run(ctx)
	for i := 1; i <= 4; i++ {
		s.Write(ctx, item{v: i, released: &released})
	}
	s.CloseInput()
	got, _ := Collect[int](ctx, s)
	if len(got) != 2 || s.Void() {
		t.Errorf("got %v void %v", got, s.Void())
	}
	if released.Load() != 2 {
		t.Errorf("released %d, want 2", released.Load())
	}
}

func TestStageCancelReleasesBuffered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var released atomic.Int32
	s := Passthrough[item]("cancel", WithHighWaterMark(8, 8))
	go s.Run(ctx)
	for i := 0; i < 4; i++ {
		s.Write(ctx, item{v: i, released: &released})
	}
	deadline := time.Now().Add(time.Second)
	for {
		if _, out := s.Buffered(); out == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("output never filled")
		}
		time.Sleep(time.Millisecond)
	}
	s.Cancel()
	<-s.Done()
	if released.Load() != 4 {
		t.Errorf("released %d, want 4", released.Load())
	}
	if err := s.Write(ctx, item{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after cancel = %v", err)
	}
}

func TestStageStallDetection(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := &counter{}
	s := New[int, int]("stall", double(),
		WithHighWaterMark(1, 1),
		WithObserver(obs),
		WithStallDetection(20*time.Millisecond, 5*time.Millisecond, time.Hour),
	)
	go s.Run(ctx)
	s.Write(ctx, 1)
	deadline := time.Now().Add(2 * time.Second)
	for obs.stalled.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stall never reported")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := obs.stalled.Load(); n != 1 {
		t.Errorf("stall reported %d times, want 1", n)
	}
}

func TestPipe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := New[int, int]("a", double())
	b := New[int, int]("b", double())
	go a.Run(ctx)
	go b.Run(ctx)
	go Pipe[int](ctx, a, b)
	go func() {
		a.Write(ctx, 1)
		a.Write(ctx, 2)
		a.CloseInput()
	}()
	got, _ := Collect[int](ctx, b)
	if len(got) != 2 || got[0] != 4 || got[1] != 8 {
		t.Errorf("got %v, want [4 8]", got)
	}
}
