// Package app wires the daemon: config, logging, engine, job triggers,
// and the run-history store.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"slotq/internal/config"
	"slotq/internal/history"
	"slotq/internal/jobs"
	"slotq/internal/runtime/supervisor"
	"slotq/pkg/logx"
	"slotq/pkg/sched"
)

// StopReason labels why the daemon is shutting down, for the final log line.
type StopReason string

const (
	StopSignal StopReason = "signal"
	StopError  StopReason = "error"
)

const engineDrainTimeout = 30 * time.Second

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	store    *history.Store
	recorder *history.Recorder

	runner *jobs.Runner
	jobSvc *jobs.Service

	mu           sync.Mutex
	engine       *sched.Engine[jobs.Job]
	detachEngine func()

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		runner:  jobs.NewRunner(log.With(logx.String("comp", "runner"))),
	}

	if hc := cfg.History; hc != nil && hc.Enabled {
		st, err := history.Open(history.Config{
			Path:        hc.Path,
			Retention:   mustDuration(hc.Retention),
			BusyTimeout: mustDuration(hc.BusyTimeout),
		}, log.With(logx.String("comp", "history")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.recorder = history.NewRecorder(st, log.With(logx.String("comp", "history")))
		log.Info("history enabled", logx.String("path", hc.Path))
	}

	a.engine = a.buildEngine(cfg)
	if a.recorder != nil {
		a.detachEngine = a.recorder.Attach(a.engine)
	}

	a.jobSvc = jobs.New(a.engine, log.With(logx.String("comp", "jobs")))
	if err := a.jobSvc.ValidateSpecs(cfg.Jobs); err != nil {
		return nil, err
	}
	if err := a.jobSvc.Apply(cfg.Jobs); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) buildEngine(cfg *config.Config) *sched.Engine[jobs.Job] {
	return sched.New(a.runner.Run, sched.Config{
		MaxConcurrent:  cfg.Engine.MaxConcurrent,
		DefaultTimeout: cfg.EngineTimeout(),
		SyncDispatch:   cfg.Engine.SyncDispatch,
		Logger:         a.log.With(logx.String("comp", "engine")),
	})
}

// Engine returns the current scheduling engine.
func (a *App) Engine() *sched.Engine[jobs.Job] {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

// Done is closed when the run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed while running, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Transactional reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return a.jobSvc.ValidateSpecs(cfg.Jobs)
	})

	if err := a.jobSvc.Start(); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the latest config matters.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(old, cfg *config.Config) {
	d := config.Diff(old, cfg)
	if !d.Any() {
		a.log.Debug("config reload received, but nothing changed")
		return
	}

	if d.Logging {
		a.logs.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.ConsoleEnabled(),
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}

	if d.History {
		a.log.Warn("history config changed; restart required for changes to take effect")
	}

	if d.Engine {
		a.swapEngine(cfg)
	}

	if d.Jobs {
		if err := a.jobSvc.Apply(cfg.Jobs); err != nil {
			a.log.Warn("failed applying job schedules; keeping previous", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", logx.String("changed", changedList(d)))
}

// swapEngine replaces the engine so new settings take effect. The old
// engine accepts no further pushes and drains in the background.
func (a *App) swapEngine(cfg *config.Config) {
	next := a.buildEngine(cfg)

	a.mu.Lock()
	prev := a.engine
	prevDetach := a.detachEngine
	a.engine = next
	a.detachEngine = nil
	if a.recorder != nil {
		a.detachEngine = a.recorder.Attach(next)
	}
	a.mu.Unlock()

	a.jobSvc.SetEngine(next)

	fut := prev.StopAsync()
	a.sup.Go0("engine.drain", func(c context.Context) {
		select {
		case <-fut.Done():
		case <-c.Done():
		case <-time.After(engineDrainTimeout):
			a.log.Warn("replaced engine did not drain in time",
				logx.Int("pending", prev.Len()))
		}
		if prevDetach != nil {
			prevDetach()
		}
	})
	a.log.Info("engine replaced",
		logx.Int("max_concurrent", cfg.Engine.MaxConcurrent),
		logx.Duration("default_timeout", cfg.EngineTimeout()))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	start := time.Now()

	// Stop triggering first so nothing new is enqueued.
	a.jobSvc.Stop()

	// Let in-flight jobs finish, bounded by the caller's deadline. Jobs
	// still queued at this point are dropped with the process.
	eng := a.Engine()
	fut := eng.StopAsync()
	select {
	case <-fut.Done():
	case <-ctx.Done():
		a.log.Warn("engine drain cut short",
			logx.Int("pending", eng.Len()))
	}

	_ = a.sup.Stop(ctx)

	a.mu.Lock()
	detach := a.detachEngine
	a.detachEngine = nil
	a.mu.Unlock()
	if detach != nil {
		detach()
	}

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("stopped", logx.Duration("took", time.Since(start)))
	return a.logs.Close()
}

func changedList(d config.ChangedSections) string {
	var parts []string
	if d.Logging {
		parts = append(parts, "logging")
	}
	if d.Engine {
		parts = append(parts, "engine")
	}
	if d.History {
		parts = append(parts, "history")
	}
	if d.Jobs {
		parts = append(parts, "jobs")
	}
	return strings.Join(parts, ",")
}

// mustDuration parses a duration the config validator already accepted.
func mustDuration(raw string) time.Duration {
	d, _ := config.ParseDurationField("", raw)
	return d
}
