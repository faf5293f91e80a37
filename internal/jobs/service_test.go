package jobs

import (
	"context"
	"testing"

	"slotq/internal/config"
	"slotq/pkg/logx"
	"slotq/pkg/sched"
)

func testEngine(t *testing.T) *sched.Engine[Job] {
	t.Helper()
	return sched.New(func(ctx context.Context, j Job) error { return nil },
		sched.Config{ManualStart: true})
}

func TestValidateSpecs(t *testing.T) {
	t.Parallel()

	s := New(testEngine(t), logx.Nop())
	good := []config.JobConfig{
		{Name: "five", Schedule: "*/5 * * * *"},
		{Name: "six", Schedule: "30 */5 * * * *"},
		{Name: "descriptor", Schedule: "@hourly"},
	}
	if err := s.ValidateSpecs(good); err != nil {
		t.Fatalf("valid specs rejected: %v", err)
	}

	bad := []config.JobConfig{{Name: "broken", Schedule: "not a cron"}}
	if err := s.ValidateSpecs(bad); err == nil {
		t.Fatalf("expected error for bad spec")
	}
}

func TestFireEnqueues(t *testing.T) {
	t.Parallel()

	eng := testEngine(t)
	var got Job
	eng.OnTaskAdded(func(j Job) { got = j })

	s := New(eng, logx.Nop())
	s.fire(config.JobConfig{
		Name:    "backup",
		Command: "/usr/local/bin/backup",
		Args:    []string{"--full"},
		Dir:     "/var",
		Timeout: "5s",
	})

	if eng.Len() != 1 {
		t.Fatalf("Len = %d, want 1", eng.Len())
	}
	if got.Name != "backup" || got.Command != "/usr/local/bin/backup" || got.Dir != "/var" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.Args) != 1 || got.Args[0] != "--full" {
		t.Fatalf("unexpected args: %v", got.Args)
	}
}

func TestFireWithoutEngine(t *testing.T) {
	t.Parallel()

	s := New(nil, logx.Nop())
	// must not panic
	s.fire(config.JobConfig{Name: "x", Command: "/bin/true"})
}

func TestStartRegistersEnabledJobsOnly(t *testing.T) {
	t.Parallel()

	s := New(testEngine(t), logx.Nop())
	err := s.Apply([]config.JobConfig{
		{Name: "on", Schedule: "0 0 1 1 *", Command: "/bin/true"},
		{Name: "off", Schedule: "0 0 1 1 *", Command: "/bin/true", Disabled: true},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	s.mu.Lock()
	n := len(s.entries)
	_, hasOn := s.entries["on"]
	s.mu.Unlock()
	if n != 1 || !hasOn {
		t.Fatalf("entries = %d (on=%v), want only the enabled job", n, hasOn)
	}
}

func TestApplyBeforeStartDefersRegistration(t *testing.T) {
	t.Parallel()

	s := New(testEngine(t), logx.Nop())
	if err := s.Apply([]config.JobConfig{{Name: "a", Schedule: "bogus", Command: "/bin/true"}}); err != nil {
		t.Fatalf("apply before start should not parse specs: %v", err)
	}
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatalf("start should surface the bad schedule")
	}
}
