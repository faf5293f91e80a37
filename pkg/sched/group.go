package sched

import "sync"

// Group is a filtered view over one Engine's event stream: tasks pushed
// through the group are tracked in the group's own pending/active sets and
// re-emitted on the group's listeners, while everything else on the parent
// engine is ignored. The parent stays the sole scheduler; the group never
// queues or dispatches on its own.
//
// Filtering keys on the admission token (the internal record), not on
// payload equality, so equal-valued payloads pushed through different
// groups can't cross-talk.
type Group[T any] struct {
	engine *Engine[T]

	mu         sync.Mutex
	pending    map[*record[T]]struct{}
	active     map[*record[T]]struct{}
	destroyed  bool
	completion []*Future
	detach     []func()

	startedHooks  hookSet[func(T)]
	completeHooks hookSet[func(T)]
	timeoutHooks  hookSet[func(T)]
	failedHooks   hookSet[func(error, T)]
	finishedHooks hookSet[func(error, T)]
	doneHooks     hookSet[func()]
}

// CreateGroup attaches a new Group to the engine. The group subscribes to
// the engine's five per-task channels and keeps the handles so Destroy can
// detach them.
func (e *Engine[T]) CreateGroup() *Group[T] {
	g := &Group[T]{
		engine:  e,
		pending: make(map[*record[T]]struct{}),
		active:  make(map[*record[T]]struct{}),
	}
	g.detach = []func(){
		e.startedHooks.add(g.taskStarted),
		e.completeHooks.add(g.taskCompleted),
		e.timeoutHooks.add(g.taskTimedOut),
		e.failedHooks.add(g.taskFailed),
		e.finishedHooks.add(g.taskFinished),
	}
	return g
}

// Push records the payload in the group's pending set, then delegates to
// the parent engine with the same options.
func (g *Group[T]) Push(payload T, opts ...TaskOptions) {
	rec := g.engine.newRecord(payload, firstOption(opts))
	g.track(rec)
	g.engine.enqueue(rec)
}

// PushAsync is Push with the parent engine's per-task Future.
func (g *Group[T]) PushAsync(payload T, opts ...TaskOptions) *Future {
	rec := g.engine.newRecord(payload, firstOption(opts))
	rec.fut = newFuture()
	g.track(rec)
	g.engine.enqueue(rec)
	return rec.fut
}

// track must run before the record is enqueued: with auto-start the engine
// may dispatch (and emit taskStarted) from inside enqueue.
func (g *Group[T]) track(rec *record[T]) {
	g.mu.Lock()
	if !g.destroyed {
		g.pending[rec] = struct{}{}
	}
	g.mu.Unlock()
}

func (g *Group[T]) taskStarted(rec *record[T]) {
	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return
	}
	if _, ok := g.pending[rec]; !ok {
		// Someone else's task; drop silently.
		g.mu.Unlock()
		return
	}
	delete(g.pending, rec)
	g.active[rec] = struct{}{}
	g.mu.Unlock()

	for _, fn := range g.startedHooks.snapshot() {
		fn(rec.payload)
	}
}

func (g *Group[T]) isActive(rec *record[T]) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.destroyed {
		return false
	}
	_, ok := g.active[rec]
	return ok
}

func (g *Group[T]) taskCompleted(rec *record[T]) {
	if !g.isActive(rec) {
		return
	}
	for _, fn := range g.completeHooks.snapshot() {
		fn(rec.payload)
	}
}

func (g *Group[T]) taskTimedOut(rec *record[T]) {
	if !g.isActive(rec) {
		return
	}
	for _, fn := range g.timeoutHooks.snapshot() {
		fn(rec.payload)
	}
}

func (g *Group[T]) taskFailed(rec *record[T], err error) {
	if !g.isActive(rec) {
		return
	}
	for _, fn := range g.failedHooks.snapshot() {
		fn(err, rec.payload)
	}
}

func (g *Group[T]) taskFinished(rec *record[T], err error) {
	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return
	}
	if _, ok := g.active[rec]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.active, rec)
	drained := len(g.pending)+len(g.active) == 0
	var comps []*Future
	if drained {
		comps = g.completion
		g.completion = nil
	}
	g.mu.Unlock()

	for _, fn := range g.finishedHooks.snapshot() {
		fn(err, rec.payload)
	}
	if drained {
		for _, fn := range g.doneHooks.snapshot() {
			fn()
		}
		for _, f := range comps {
			f.settle(nil)
		}
	}
}

// Completion returns a Future settled on the group's next "finished"
// emission, or already settled when the group is empty.
//
// Caveat: if the group is destroyed first, an outstanding Completion
// Future never settles.
func (g *Group[T]) Completion() *Future {
	g.mu.Lock()
	if len(g.pending)+len(g.active) == 0 {
		g.mu.Unlock()
		return resolvedFuture()
	}
	f := newFuture()
	g.completion = append(g.completion, f)
	g.mu.Unlock()
	return f
}

// Destroy detaches the group from the parent engine. Tasks already pushed
// through the group keep running (and keep occupying engine slots), but
// the group stops tracking and stops emitting. Push after Destroy still
// delegates to the engine, untracked.
func (g *Group[T]) Destroy() {
	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return
	}
	g.destroyed = true
	det := g.detach
	g.detach = nil
	g.mu.Unlock()

	for _, off := range det {
		off()
	}
}

// Len is the number of tasks pushed through this group and not yet
// finished.
func (g *Group[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending) + len(g.active)
}

// Active reports whether the group is still attached (false after Destroy).
func (g *Group[T]) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.destroyed
}

// ---- listeners ----

func (g *Group[T]) OnTaskStarted(fn func(payload T)) (remove func()) {
	return g.startedHooks.add(fn)
}

func (g *Group[T]) OnTaskCompleted(fn func(payload T)) (remove func()) {
	return g.completeHooks.add(fn)
}

func (g *Group[T]) OnTaskTimedOut(fn func(payload T)) (remove func()) {
	return g.timeoutHooks.add(fn)
}

func (g *Group[T]) OnTaskFailed(fn func(err error, payload T)) (remove func()) {
	return g.failedHooks.add(fn)
}

func (g *Group[T]) OnTaskFinished(fn func(err error, payload T)) (remove func()) {
	return g.finishedHooks.add(fn)
}

// OnFinished fires when the group's own length reaches zero.
func (g *Group[T]) OnFinished(fn func()) (remove func()) {
	return g.doneHooks.add(fn)
}
