package jobs

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"slotq/internal/config"
	"slotq/pkg/logx"
	"slotq/pkg/sched"
)

// Service triggers configured jobs on their cron schedules. It only
// enqueues: execution, concurrency limits, and timeouts belong to the
// engine.
type Service struct {
	log logx.Logger
	// SecondOptional allows both 5-field and 6-field (with seconds) specs.
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	engine  *sched.Engine[Job]
	jobs    []config.JobConfig
	entries map[string]cron.EntryID
}

func New(engine *sched.Engine[Job], log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		engine:  engine,
		entries: map[string]cron.EntryID{},
	}
}

// ValidateSpecs checks all cron expressions. The config package cannot do
// this itself without owning the parser.
func (s *Service) ValidateSpecs(jobs []config.JobConfig) error {
	for i, j := range jobs {
		if _, err := s.parser.Parse(strings.TrimSpace(j.Schedule)); err != nil {
			return fmt.Errorf("jobs[%d] (%s): bad schedule %q: %w", i, j.Name, j.Schedule, err)
		}
	}
	return nil
}

// SetEngine swaps the target engine. Used on hot-reload when engine
// settings change and a fresh engine replaces the draining one.
func (s *Service) SetEngine(engine *sched.Engine[Job]) {
	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()
}

// Apply replaces the registered schedules with the given job set.
// Safe to call whether or not the service is started.
func (s *Service) Apply(jobs []config.JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = jobs
	if s.c == nil {
		return nil
	}
	return s.registerLocked()
}

func (s *Service) registerLocked() error {
	for name, id := range s.entries {
		s.c.Remove(id)
		delete(s.entries, name)
	}
	for _, j := range s.jobs {
		if j.Disabled {
			s.log.Debug("job disabled", logx.String("job", j.Name))
			continue
		}
		j := j
		id, err := s.c.AddFunc(strings.TrimSpace(j.Schedule), func() { s.fire(j) })
		if err != nil {
			return fmt.Errorf("register %s: %w", j.Name, err)
		}
		s.entries[j.Name] = id
	}
	s.log.Info("schedules registered", logx.Int("jobs", len(s.entries)))
	return nil
}

func (s *Service) fire(j config.JobConfig) {
	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	if eng == nil {
		return
	}
	eng.Push(Job{
		Name:    j.Name,
		Command: j.Command,
		Args:    j.Args,
		Dir:     j.Dir,
	}, sched.TaskOptions{
		Timeout:        j.JobTimeout(),
		RunImmediately: j.RunImmediately,
	})
}

// Start begins cron triggering with the currently applied job set.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.c = cron.New(cron.WithParser(s.parser))
	if err := s.registerLocked(); err != nil {
		s.c = nil
		return err
	}
	s.c.Start()
	s.log.Info("service started", logx.Int("jobs", len(s.entries)))
	return nil
}

// Stop halts triggering and waits for in-flight cron callbacks (the
// callbacks only enqueue, so this is quick). Queued and running jobs are
// the engine's to drain.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c == nil {
		return
	}
	start := time.Now()
	<-c.Stop().Done()
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}
