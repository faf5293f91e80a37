package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the slotqd daemon configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Engine  EngineConfig   `json:"engine"`
	History *HistoryConfig `json:"history,omitempty"`
	Jobs    []JobConfig    `json:"jobs"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`

	// Console is a pointer so "omitted" defaults to true while an explicit
	// false still turns the console sink off.
	Console *bool `json:"console,omitempty"`

	File FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

func (l LoggingConfig) ConsoleEnabled() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}

// EngineConfig maps onto sched.Config.
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent: 1
//   - default_timeout: "0s" (disabled)
//   - sync_dispatch: false
type EngineConfig struct {
	MaxConcurrent int `json:"max_concurrent,omitempty"`

	// DefaultTimeout applies to jobs without their own timeout.
	// Use "0s" to disable.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	SyncDispatch bool `json:"sync_dispatch,omitempty"`
}

// HistoryConfig controls the sqlite run-history store.
type HistoryConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`

	// Retention prunes rows older than this. "0s" keeps everything.
	Retention string `json:"retention,omitempty"`

	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// JobConfig describes one scheduled command.
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"` // cron spec, 5 or 6 fields
	Command  string `json:"command"`

	Args []string `json:"args,omitempty"`
	Dir  string   `json:"dir,omitempty"`

	// Timeout overrides engine.default_timeout for this job.
	Timeout string `json:"timeout,omitempty"`

	// RunImmediately queue-jumps the job and lets it bypass the
	// concurrency cap by one slot.
	RunImmediately bool `json:"run_immediately,omitempty"`

	Disabled bool `json:"disabled,omitempty"`
}

// Validate checks structural problems that no component downstream can
// repair (cron specs are validated by the jobs service, which owns the
// parser).
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := ParseDurationField("engine.default_timeout", c.Engine.DefaultTimeout); err != nil {
		return err
	}
	if c.Engine.MaxConcurrent < 0 {
		return fmt.Errorf("engine.max_concurrent: must be >= 0")
	}
	if h := c.History; h != nil && h.Enabled {
		if strings.TrimSpace(h.Path) == "" {
			return fmt.Errorf("history.path is required when history is enabled")
		}
		if _, err := ParseDurationField("history.retention", h.Retention); err != nil {
			return err
		}
		if _, err := ParseDurationField("history.busy_timeout", h.BusyTimeout); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{}, len(c.Jobs))
	for i, j := range c.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("jobs[%d].name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("jobs[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(j.Schedule) == "" {
			return fmt.Errorf("jobs[%d] (%s): schedule is required", i, name)
		}
		if strings.TrimSpace(j.Command) == "" {
			return fmt.Errorf("jobs[%d] (%s): command is required", i, name)
		}
		if _, err := ParseDurationField(fmt.Sprintf("jobs[%d].timeout", i), j.Timeout); err != nil {
			return err
		}
	}
	return nil
}

// EngineTimeout returns the parsed engine default timeout.
// Validate must have accepted the config first.
func (c *Config) EngineTimeout() time.Duration {
	d, _ := ParseDurationField("engine.default_timeout", c.Engine.DefaultTimeout)
	return d
}

// JobTimeout returns the parsed per-job timeout (0 = inherit engine default).
func (j JobConfig) JobTimeout() time.Duration {
	d, _ := ParseDurationField("timeout", j.Timeout)
	return d
}
