package sched

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureSettlesOnce(t *testing.T) {
	t.Parallel()

	first := errors.New("first")
	f := newFuture()
	f.settle(first)
	f.settle(nil)
	f.settle(errors.New("second"))

	if err := f.Err(); !errors.Is(err, first) {
		t.Fatalf("Err = %v, want %v", err, first)
	}
}

func TestFutureErrBeforeSettle(t *testing.T) {
	t.Parallel()

	f := newFuture()
	if err := f.Err(); err != nil {
		t.Fatalf("Err on pending future = %v, want nil", err)
	}
}

func TestFutureWaitContext(t *testing.T) {
	t.Parallel()

	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}

	f.settle(nil)
	if err := f.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after settle = %v, want nil", err)
	}
}

func TestResolvedFuture(t *testing.T) {
	t.Parallel()

	f := resolvedFuture()
	select {
	case <-f.Done():
	default:
		t.Fatal("resolved future not settled")
	}
	if err := f.Err(); err != nil {
		t.Fatalf("Err = %v, want nil", err)
	}
}

func TestHookSetOrderAndRemoval(t *testing.T) {
	t.Parallel()

	var h hookSet[func()]
	var got []int

	h.add(func() { got = append(got, 1) })
	rm := h.add(func() { got = append(got, 2) })
	h.add(func() { got = append(got, 3) })

	for _, fn := range h.snapshot() {
		fn()
	}
	rm()
	rm() // idempotent
	for _, fn := range h.snapshot() {
		fn()
	}

	want := []int{1, 2, 3, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}
