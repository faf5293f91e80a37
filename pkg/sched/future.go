package sched

import (
	"context"
	"sync"
)

// Future settles exactly once with a success (nil) or an error.
//
// It is handed out by PushAsync (per-task outcome), StartAsync/StopAsync
// (queue went idle) and Completion (queue/group drained). Futures created
// for an already-true condition come back settled, so Wait returns without
// blocking.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture() *Future {
	f := newFuture()
	f.settle(nil)
	return f
}

func (f *Future) settle(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed when the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the settled error, or nil if the future is still pending
// (or settled successfully). Only meaningful once Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
