package sched

import (
	"time"

	"slotq/pkg/logx"
)

// NoTimeout disables the engine's DefaultTimeout for a single task.
const NoTimeout time.Duration = -1

// Config controls an Engine.
//
// The zero value is usable: one slot, no default timeout, auto-start on
// admission, deferred re-dispatch, silent logger.
type Config struct {
	// MaxConcurrent caps the number of in-flight tasks. A task pushed with
	// RunImmediately may exceed the cap by one. <= 0 means 1.
	MaxConcurrent int

	// DefaultTimeout applies to tasks that don't set TaskOptions.Timeout.
	// 0 disables timeouts by default.
	DefaultTimeout time.Duration

	// ManualStart disables the scheduling attempt normally triggered by each
	// admission; callers drive dispatch through Start/StartAsync instead.
	ManualStart bool

	// SyncDispatch makes the engine re-dispatch inline (re-entrant) after a
	// task finishes instead of handing the next attempt to a fresh goroutine.
	SyncDispatch bool

	Logger logx.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.Logger.IsZero() {
		c.Logger = logx.Nop()
	}
	return c
}

// TaskOptions are per-admission overrides.
type TaskOptions struct {
	// Timeout overrides Config.DefaultTimeout for this task.
	// 0 keeps the engine default; NoTimeout disables it.
	Timeout time.Duration

	// RunImmediately inserts the task at the front of the queue and lets it
	// dispatch even when all slots are taken (at most one slot over the cap).
	RunImmediately bool
}

func firstOption(opts []TaskOptions) TaskOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return TaskOptions{}
}
