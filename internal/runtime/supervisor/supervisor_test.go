package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStopCancelsAndWaits(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	exited := make(chan struct{})
	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		close(exited)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-exited:
	default:
		t.Fatal("Stop returned before the goroutine exited")
	}
	// A context.Canceled return is a clean exit, not a failure.
	if err := s.Err(); err != nil {
		t.Fatalf("Err = %v, want nil", err)
	}
}

func TestFirstErrorWinsAndCancels(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return boom })
	s.Go("bystander", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Err(); !errors.Is(err, boom) {
		t.Fatalf("Err = %v, want wrapped boom", err)
	}
}

func TestPanicIsRecorded(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("panicking", func(ctx context.Context) error {
		panic("kaboom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	err := s.Err()
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Err = %v, want recovered panic", err)
	}
}

func TestStopTimesOutOnStuckGoroutine(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	release := make(chan struct{})
	defer close(release)
	s.Go0("stuck", func(ctx context.Context) {
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); err == nil {
		t.Fatal("expected deadline error from Stop")
	}
}
