// Package tasks supervises fire-and-forget work: every task is tracked until
// it finishes, failures are logged, and Shutdown drains what is in flight.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned by Go once Shutdown has begun.
	ErrClosed = errors.New("tasks: group is shutting down")
	// ErrFull is returned by Go when the limit of running tasks is reached.
	ErrFull = errors.New("tasks: too many running tasks")
)

// Group runs tasks in their own goroutines. A limit bounds how many run at
// once; Go fails with ErrFull rather than wait for a free slot.
type Group struct {
	log zerolog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	eg       errgroup.Group
	active   atomic.Int64
}

// New returns a group running at most limit tasks concurrently. A limit of
// zero or less means no limit.
func New(limit int, log zerolog.Logger) *Group {
	g := &Group{log: log}
	if limit > 0 {
		g.eg.SetLimit(limit)
	}
	return g
}

// Go schedules fn. The error fn returns, or a panic it raises, is logged and
// otherwise discarded.
func (g *Group) Go(ctx context.Context, name string, fn func(context.Context) error) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.inflight.Add(1)
	g.mu.Unlock()

	started := g.eg.TryGo(func() error {
		defer g.inflight.Done()
		g.active.Add(1)
		defer g.active.Add(-1)
		if err := g.run(ctx, fn); err != nil {
			g.log.Error().Err(err).Str("task", name).Msg("background task failed")
		}
		return nil
	})
	if !started {
		g.inflight.Done()
		return ErrFull
	}
	return nil
}

func (g *Group) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Len reports how many tasks are running right now.
func (g *Group) Len() int {
	return int(g.active.Load())
}

// Closed reports whether Shutdown has been called.
func (g *Group) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Shutdown stops accepting tasks and waits for the tracked ones to finish,
// or for ctx to end, whichever comes first.
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		_ = g.eg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
