package tasks

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestShutdownDrains(t *testing.T) {
	g := New(0, zerolog.Nop())
	var finished atomic.Int32
	for i := 0; i < 10; i++ {
		err := g.Go(context.Background(), "sleep", func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			finished.Add(1)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if finished.Load() != 10 {
		t.Fatalf("finished = %d, want 10", finished.Load())
	}
	if g.Len() != 0 {
		t.Fatalf("Len = %d after drain", g.Len())
	}
}

func TestGoAfterShutdown(t *testing.T) {
	g := New(0, zerolog.Nop())
	if err := g.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !g.Closed() {
		t.Fatal("group should report closed")
	}
	err := g.Go(context.Background(), "late", func(context.Context) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestShutdownTimeout(t *testing.T) {
	g := New(0, zerolog.Nop())
	release := make(chan struct{})
	defer close(release)
	_ = g.Go(context.Background(), "stuck", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestFailuresAreLogged(t *testing.T) {
	var buf bytes.Buffer
	g := New(2, zerolog.New(zerolog.SyncWriter(&buf)))
	_ = g.Go(context.Background(), "fails", func(context.Context) error { return errors.New("boom") })
	_ = g.Go(context.Background(), "panics", func(context.Context) error { panic("kaput") })
	if err := g.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "boom") || !strings.Contains(out, "kaput") {
		t.Fatalf("log output missing failures: %s", out)
	}
}

func TestLimit(t *testing.T) {
	g := New(1, zerolog.Nop())
	release := make(chan struct{})
	var ran atomic.Int32
	block := func(context.Context) error {
		<-release
		ran.Add(1)
		return nil
	}

	if err := g.Go(context.Background(), "first", block); err != nil {
		t.Fatal(err)
	}
	if err := g.Go(context.Background(), "second", block); !errors.Is(err, ErrFull) {
		t.Fatalf("err = %v, want ErrFull", err)
	}
	close(release)
	if err := g.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ran.Load() != 1 {
		t.Fatalf("ran = %d, want 1", ran.Load())
	}
}
