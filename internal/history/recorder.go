package history

import (
	"context"
	"sync"
	"time"

	"slotq/internal/jobs"
	"slotq/pkg/logx"
	"slotq/pkg/sched"
)

const appendTimeout = 2 * time.Second

// Recorder listens to engine events and writes one row per finished run.
type Recorder struct {
	store    *Store
	log      logx.Logger
	throttle *logx.Throttle

	mu sync.Mutex
	// Start times per job name, FIFO: the same job can run concurrently
	// and engine events only carry the payload, not an invocation handle.
	starts map[string][]time.Time
}

func NewRecorder(store *Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		store:    store,
		log:      log,
		throttle: logx.NewThrottle(1),
		starts:   map[string][]time.Time{},
	}
}

// Attach subscribes to the engine and returns a detach func. A recorder
// may be attached to several engines at once, which happens briefly while
// a replaced engine drains.
func (r *Recorder) Attach(eng *sched.Engine[jobs.Job]) (detach func()) {
	rmStart := eng.OnTaskStarted(func(j jobs.Job) { r.onStarted(j) })
	rmFinish := eng.OnTaskFinished(func(err error, j jobs.Job) { r.onFinished(j, err) })
	return func() {
		rmStart()
		rmFinish()
	}
}

func (r *Recorder) onStarted(j jobs.Job) {
	r.mu.Lock()
	r.starts[j.Name] = append(r.starts[j.Name], time.Now())
	r.mu.Unlock()
}

func (r *Recorder) onFinished(j jobs.Job, runErr error) {
	now := time.Now()

	r.mu.Lock()
	var started time.Time
	if q := r.starts[j.Name]; len(q) > 0 {
		started = q[0]
		if len(q) == 1 {
			delete(r.starts, j.Name)
		} else {
			r.starts[j.Name] = q[1:]
		}
	}
	r.mu.Unlock()
	if started.IsZero() {
		started = now
	}

	run := Run{
		Job:        j.Name,
		StartedAt:  started,
		FinishedAt: now,
		Outcome:    "ok",
		TookMS:     now.Sub(started).Milliseconds(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
		if sched.IsTimeout(runErr) {
			run.Outcome = "timeout"
		} else {
			run.Outcome = "error"
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	err := r.store.Append(ctx, run)
	cancel()
	if err != nil && r.throttle.Allow() {
		r.log.Warn("history append failed", logx.String("job", j.Name), logx.Err(err))
	}
}
