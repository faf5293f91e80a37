package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDecodeYAMLAndValidate(t *testing.T) {
	t.Parallel()

	doc := []byte(`
logging:
  level: debug
  console: false
engine:
  max_concurrent: 4
  default_timeout: 30s
history:
  enabled: true
  path: /tmp/slotq-history.db
  retention: 168h
jobs:
  - name: backup
    schedule: "0 3 * * *"
    command: /usr/local/bin/backup
    args: ["--full"]
    timeout: 15m
  - name: probe
    schedule: "*/5 * * * * *"
    command: /bin/true
    run_immediately: true
`)
	cfg, err := decodeStrict("slotqd.yaml", doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Logging.ConsoleEnabled() {
		t.Fatalf("console should be disabled by explicit false")
	}
	if cfg.Engine.MaxConcurrent != 4 {
		t.Fatalf("max_concurrent = %d, want 4", cfg.Engine.MaxConcurrent)
	}
	if got := cfg.EngineTimeout(); got != 30*time.Second {
		t.Fatalf("engine timeout = %s, want 30s", got)
	}
	if len(cfg.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(cfg.Jobs))
	}
	if got := cfg.Jobs[0].JobTimeout(); got != 15*time.Minute {
		t.Fatalf("job timeout = %s, want 15m", got)
	}
	if !cfg.Jobs[1].RunImmediately {
		t.Fatalf("probe should have run_immediately set")
	}
}

func TestConsoleDefaultsOn(t *testing.T) {
	t.Parallel()

	var l LoggingConfig
	if !l.ConsoleEnabled() {
		t.Fatalf("omitted console should default to enabled")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := decodeStrict("slotqd.yaml", []byte("engine:\n  max_workers: 3\n"))
	if err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"negative cap", Config{Engine: EngineConfig{MaxConcurrent: -1}}},
		{"bad duration", Config{Engine: EngineConfig{DefaultTimeout: "soon"}}},
		{"job missing name", Config{Jobs: []JobConfig{{Schedule: "* * * * *", Command: "/bin/true"}}}},
		{"job missing schedule", Config{Jobs: []JobConfig{{Name: "a", Command: "/bin/true"}}}},
		{"job missing command", Config{Jobs: []JobConfig{{Name: "a", Schedule: "* * * * *"}}}},
		{"duplicate job name", Config{Jobs: []JobConfig{
			{Name: "a", Schedule: "* * * * *", Command: "/bin/true"},
			{Name: "a", Schedule: "* * * * *", Command: "/bin/false"},
		}}},
		{"history enabled without path", Config{History: &HistoryConfig{Enabled: true}}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestManagerLoadAndGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "slotqd.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  max_concurrent: 2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.MaxConcurrent != 2 {
		t.Fatalf("max_concurrent = %d, want 2", cfg.Engine.MaxConcurrent)
	}
	if m.Get() != cfg {
		t.Fatalf("Get should return the committed config")
	}
}

func TestDiffSections(t *testing.T) {
	t.Parallel()

	a := &Config{Engine: EngineConfig{MaxConcurrent: 1}}
	b := &Config{Engine: EngineConfig{MaxConcurrent: 2}}
	d := Diff(a, b)
	if !d.Engine || d.Logging || d.History || d.Jobs {
		t.Fatalf("unexpected diff: %+v", d)
	}
	if Diff(a, a).Any() {
		t.Fatalf("identical configs should not differ")
	}
	if d := Diff(nil, b); !d.Any() || !d.Jobs {
		t.Fatalf("nil old config should mark everything changed: %+v", d)
	}
}
