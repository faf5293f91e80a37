// Package sched implements a bounded-concurrency task scheduler.
//
// An Engine admits units of work (opaque payloads routed to a shared
// processor, or self-contained callables), runs at most MaxConcurrent of
// them at a time, and emits a deterministic per-task lifecycle event
// sequence: taskStarted, then exactly one of taskCompleted/taskFailed/
// taskTimedOut, then taskFinished. Engine-level started/finished/stopped
// events bracket each run of the queue.
//
// Timeouts abandon bookkeeping only: the slot is freed and the task's
// future is rejected, but the underlying invocation is never interrupted
// and keeps running unobserved. Work that must stop on timeout has to be
// made cancelable or idempotent by the caller.
//
// Groups (see CreateGroup) are filtered views over one engine: several
// call sites can push through their own group and track completion of
// just their subset while the parent engine stays the sole scheduler.
package sched
