package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"slotq/pkg/logx"
)

// TaskFunc is the payload shape of callable-routed engines.
//
// The ctx passed in is the engine's base context. It is NOT canceled on
// timeout or graceful stop; see the package docs on abandonment.
type TaskFunc func(ctx context.Context) error

// record is the per-admission bookkeeping object. Its pointer identity is
// the caller-invisible token groups filter on, so equal-valued payloads
// in flight at the same time can never be confused with each other.
type record[T any] struct {
	payload T
	opt     TaskOptions
	timeout time.Duration // resolved at admission; 0 = none

	fut *Future // nil unless admitted via PushAsync

	// guarded by Engine.mu
	done      bool
	timer     *time.Timer
	startedAt time.Time
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeTimedOut
)

// Engine schedules admitted tasks into at most MaxConcurrent slots.
//
// The two task shapes of the public API (item-routed and callable-routed)
// share this one implementation, parameterized by the process function.
type Engine[T any] struct {
	cfg     Config
	log     logx.Logger
	process func(context.Context, T) error

	// itemRouted engines publish taskAdded on admission; callable-routed
	// engines have no admission channel.
	itemRouted bool

	mu           sync.Mutex
	pending      []*record[T]
	runningCount int
	finishing    int // tasks whose terminal events are still emitting
	timers       map[*record[T]]*time.Timer
	running      bool
	stopping     bool
	idleFut      *Future   // shared StartAsync/StopAsync future
	completion   []*Future // settled on the next "finished" emission

	// Listener lists. The record-level lists are shared by the public On*
	// adapters and by group overlays, so one emission walks a single
	// subscription-ordered list.
	addedHooks    hookSet[func(*record[T])]
	startedHooks  hookSet[func(*record[T])]
	completeHooks hookSet[func(*record[T])]
	timeoutHooks  hookSet[func(*record[T])]
	failedHooks   hookSet[func(*record[T], error)]
	finishedHooks hookSet[func(*record[T], error)]

	runHooks  hookSet[func()] // started
	stopHooks hookSet[func()] // stopped
	doneHooks hookSet[func()] // finished
}

// New returns an item-routed engine: every pushed payload is handed to
// process. Panics if process is nil.
func New[T any](process func(ctx context.Context, payload T) error, cfg Config) *Engine[T] {
	if process == nil {
		panic("sched: nil process func")
	}
	cfg = cfg.withDefaults()
	return &Engine[T]{
		cfg:        cfg,
		log:        cfg.Logger,
		process:    process,
		itemRouted: true,
		timers:     make(map[*record[T]]*time.Timer),
	}
}

// NewFuncEngine returns a callable-routed engine: each pushed TaskFunc is
// its own unit of work.
func NewFuncEngine(cfg Config) *Engine[TaskFunc] {
	cfg = cfg.withDefaults()
	return &Engine[TaskFunc]{
		cfg: cfg,
		log: cfg.Logger,
		process: func(ctx context.Context, fn TaskFunc) error {
			if fn == nil {
				return errors.New("sched: nil task func")
			}
			return fn(ctx)
		},
		timers: make(map[*record[TaskFunc]]*time.Timer),
	}
}

// ---- admission ----

// Push admits a payload. Unless ManualStart is set, admission triggers one
// scheduling attempt.
func (e *Engine[T]) Push(payload T, opts ...TaskOptions) {
	e.enqueue(e.newRecord(payload, firstOption(opts)))
}

// PushAsync admits a payload and returns a Future that settles with nil
// when the task completes, or with the task's error when it fails or
// times out.
func (e *Engine[T]) PushAsync(payload T, opts ...TaskOptions) *Future {
	rec := e.newRecord(payload, firstOption(opts))
	rec.fut = newFuture()
	e.enqueue(rec)
	return rec.fut
}

func (e *Engine[T]) newRecord(payload T, opt TaskOptions) *record[T] {
	d := opt.Timeout
	if d == 0 {
		d = e.cfg.DefaultTimeout
	}
	if d < 0 {
		d = 0
	}
	return &record[T]{payload: payload, opt: opt, timeout: d}
}

func (e *Engine[T]) enqueue(rec *record[T]) {
	e.mu.Lock()
	if rec.opt.RunImmediately {
		e.pending = append([]*record[T]{rec}, e.pending...)
	} else {
		e.pending = append(e.pending, rec)
	}
	e.mu.Unlock()

	// taskAdded fires before the record can ever be dispatched.
	if e.itemRouted {
		for _, fn := range e.addedHooks.snapshot() {
			fn(rec)
		}
	}
	e.log.Debug("task.queued", logx.Bool("immediate", rec.opt.RunImmediately), logx.Duration("timeout", rec.timeout))

	if !e.cfg.ManualStart {
		e.dispatch()
	}
}

// ---- scheduling ----

// Start performs one scheduling attempt. A single attempt dispatches at
// most one record; saturating several free slots takes one attempt per
// admission (or repeated Start calls). The engine never loops to fill all
// slots from a single trigger.
func (e *Engine[T]) Start() { e.dispatch() }

func (e *Engine[T]) dispatch() {
	e.mu.Lock()
	if e.stopping || len(e.pending) == 0 {
		e.mu.Unlock()
		return
	}
	head := e.pending[0]
	// RunImmediately on the frontmost record is the only way past the cap.
	if e.runningCount >= e.cfg.MaxConcurrent && !head.opt.RunImmediately {
		e.mu.Unlock()
		return
	}
	e.pending = e.pending[1:]
	e.runningCount++
	wasIdle := !e.running
	e.running = true
	head.startedAt = time.Now()
	e.mu.Unlock()

	if wasIdle {
		e.log.Debug("engine started")
		for _, fn := range e.runHooks.snapshot() {
			fn()
		}
	}
	for _, fn := range e.startedHooks.snapshot() {
		fn(head)
	}
	e.log.Debug("task.started")

	if d := head.timeout; d > 0 {
		t := time.AfterFunc(d, func() {
			e.finish(head, outcomeTimedOut, &TimeoutError{After: d})
		})
		e.mu.Lock()
		if head.done {
			// Outcome already raced in; the timer never counts.
			t.Stop()
		} else {
			head.timer = t
			e.timers[head] = t
		}
		e.mu.Unlock()
	}

	go e.invoke(head)
}

func (e *Engine[T]) invoke(rec *record[T]) {
	err := e.safeProcess(rec)
	if err != nil {
		e.finish(rec, outcomeFailed, err)
		return
	}
	e.finish(rec, outcomeCompleted, nil)
}

func (e *Engine[T]) safeProcess(rec *record[T]) (err error) {
	// One panicking task must not kill the engine or leak its slot.
	defer func() {
		if r := recover(); r != nil {
			err = normalizePanic(r)
		}
	}()
	return e.process(context.Background(), rec.payload)
}

// finish resolves a record's outcome. Three callers race here (invocation
// success, invocation failure, timeout timer); the first one wins and the
// slot is released exactly once.
func (e *Engine[T]) finish(rec *record[T], out outcome, err error) {
	e.mu.Lock()
	if rec.done {
		e.mu.Unlock()
		return
	}
	rec.done = true
	e.runningCount--
	e.finishing++
	if t := rec.timer; t != nil {
		t.Stop()
		rec.timer = nil
	}
	delete(e.timers, rec)
	elapsed := time.Since(rec.startedAt)
	e.mu.Unlock()

	switch out {
	case outcomeTimedOut:
		e.log.Warn("task.timeout", logx.Duration("after", rec.timeout))
		for _, fn := range e.timeoutHooks.snapshot() {
			fn(rec)
		}
	case outcomeFailed:
		e.log.Warn("task.failed", logx.Err(err), logx.Duration("dur", elapsed))
		for _, fn := range e.failedHooks.snapshot() {
			fn(rec, err)
		}
	default:
		e.log.Debug("task.completed", logx.Duration("dur", elapsed))
		for _, fn := range e.completeHooks.snapshot() {
			fn(rec)
		}
	}
	for _, fn := range e.finishedHooks.snapshot() {
		fn(rec, err)
	}

	if rec.fut != nil {
		rec.fut.settle(err)
	}

	// A listener may have called Stop (or pushed new work) during the
	// emissions above, so the continuation is decided on live state, not
	// on what was true when the outcome was determined.
	e.mu.Lock()
	e.finishing--
	length := len(e.pending) + e.runningCount
	idle := e.runningCount == 0 && e.finishing == 0
	stopping := e.stopping
	running := e.running
	e.mu.Unlock()

	if !running {
		return
	}
	if length == 0 || stopping {
		if idle {
			e.finalize()
		}
		// Not idle: another task's terminal events are still emitting;
		// that goroutine finalizes when it is done.
		return
	}
	if e.cfg.SyncDispatch {
		e.dispatch()
		return
	}
	// Deferred attempt: lets continuations on the just-settled future run
	// before the next task starts.
	go e.dispatch()
}

// finalize resets the running state and emits the shutdown tail:
// "finished" (only when nothing is left) then, always, "stopped".
func (e *Engine[T]) finalize() {
	e.mu.Lock()
	if !e.running || e.runningCount > 0 || e.finishing > 0 {
		e.mu.Unlock()
		return
	}
	if len(e.pending) > 0 && !e.stopping {
		// New work raced in between the last finish and finalization;
		// the queue keeps going.
		e.mu.Unlock()
		return
	}
	e.running = false
	e.stopping = false
	for rec, t := range e.timers {
		t.Stop()
		rec.timer = nil
	}
	clear(e.timers)
	length := len(e.pending) + e.runningCount
	idleFut := e.idleFut
	e.idleFut = nil
	var comps []*Future
	if length == 0 {
		comps = e.completion
		e.completion = nil
	}
	e.mu.Unlock()

	if length == 0 {
		for _, fn := range e.doneHooks.snapshot() {
			fn()
		}
		for _, f := range comps {
			f.settle(nil)
		}
	}
	for _, fn := range e.stopHooks.snapshot() {
		fn()
	}
	if idleFut != nil {
		idleFut.settle(nil)
	}
	e.log.Debug("engine stopped", logx.Int("left", length))
}

// ---- lifecycle ----

// StartAsync attempts to start and returns a Future that settles when the
// engine goes idle again. While such a wait is outstanding (from either
// StartAsync or StopAsync), the same Future is returned.
func (e *Engine[T]) StartAsync() *Future {
	e.mu.Lock()
	if !e.running && len(e.pending) == 0 {
		e.mu.Unlock()
		return resolvedFuture()
	}
	f := e.idleFut
	if f == nil {
		f = newFuture()
		e.idleFut = f
	}
	e.mu.Unlock()

	e.dispatch()
	return f
}

// Stop requests a graceful stop: in-flight tasks finish, nothing new is
// dispatched. Calling it twice is harmless.
func (e *Engine[T]) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.stopping = true
	idle := e.runningCount == 0 && e.finishing == 0
	e.mu.Unlock()

	e.log.Debug("stop requested")
	if idle {
		e.finalize()
	}
}

// StopAsync requests a graceful stop and returns a Future settled once
// shutdown finalizes. Repeated calls while one is outstanding return the
// same Future; on an idle engine the Future comes back settled.
func (e *Engine[T]) StopAsync() *Future {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return resolvedFuture()
	}
	e.stopping = true
	f := e.idleFut
	if f == nil {
		f = newFuture()
		e.idleFut = f
	}
	idle := e.runningCount == 0 && e.finishing == 0
	e.mu.Unlock()

	if idle {
		e.finalize()
	}
	return f
}

// Completion returns a Future settled on the engine's next "finished"
// emission, or an already-settled one when nothing is admitted right now.
func (e *Engine[T]) Completion() *Future {
	e.mu.Lock()
	if len(e.pending)+e.runningCount == 0 {
		e.mu.Unlock()
		return resolvedFuture()
	}
	f := newFuture()
	e.completion = append(e.completion, f)
	e.mu.Unlock()
	return f
}

// Len is the number of admitted-but-not-finished tasks (pending + running).
func (e *Engine[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) + e.runningCount
}

// Running reports whether the engine currently has work in motion.
func (e *Engine[T]) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ---- listeners ----
//
// Each On* registers a listener and returns its remove func. Listeners on
// one task's events always run in order; with MaxConcurrent > 1, listeners
// for different tasks may run concurrently.

// OnTaskAdded fires on admission, before the task can be dispatched.
// Only item-routed engines publish it.
func (e *Engine[T]) OnTaskAdded(fn func(payload T)) (remove func()) {
	return e.addedHooks.add(func(r *record[T]) { fn(r.payload) })
}

func (e *Engine[T]) OnTaskStarted(fn func(payload T)) (remove func()) {
	return e.startedHooks.add(func(r *record[T]) { fn(r.payload) })
}

func (e *Engine[T]) OnTaskCompleted(fn func(payload T)) (remove func()) {
	return e.completeHooks.add(func(r *record[T]) { fn(r.payload) })
}

func (e *Engine[T]) OnTaskTimedOut(fn func(payload T)) (remove func()) {
	return e.timeoutHooks.add(func(r *record[T]) { fn(r.payload) })
}

func (e *Engine[T]) OnTaskFailed(fn func(err error, payload T)) (remove func()) {
	return e.failedHooks.add(func(r *record[T], err error) { fn(err, r.payload) })
}

// OnTaskFinished fires after the terminal event with the task's error
// (nil on success).
func (e *Engine[T]) OnTaskFinished(fn func(err error, payload T)) (remove func()) {
	return e.finishedHooks.add(func(r *record[T], err error) { fn(err, r.payload) })
}

// OnStarted fires when the engine leaves idle.
func (e *Engine[T]) OnStarted(fn func()) (remove func()) {
	return e.runHooks.add(fn)
}

// OnFinished fires when the engine drains completely (length reached 0).
func (e *Engine[T]) OnFinished(fn func()) (remove func()) {
	return e.doneHooks.add(fn)
}

// OnStopped fires whenever the engine returns to idle, drained or not.
func (e *Engine[T]) OnStopped(fn func()) (remove func()) {
	return e.stopHooks.add(fn)
}
