package jobs

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"slotq/pkg/logx"
)

// Job is the payload handed to the scheduling engine: one command
// invocation of a configured job.
type Job struct {
	Name    string
	Command string
	Args    []string
	Dir     string
}

// Runner executes jobs as subprocesses. It is the engine's process
// function for the daemon.
type Runner struct {
	log logx.Logger
}

func NewRunner(log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{log: log}
}

// Run executes the job's command and blocks until it exits.
//
// The engine abandons timed-out invocations rather than cancelling them,
// so ctx here only ends on daemon shutdown; a timed-out process keeps
// running until it exits on its own or the daemon stops.
func (r *Runner) Run(ctx context.Context, j Job) error {
	start := time.Now()
	r.log.Debug("job exec",
		logx.String("job", j.Name),
		logx.String("command", j.Command))

	cmd := exec.CommandContext(ctx, j.Command, j.Args...)
	cmd.Dir = j.Dir
	out, err := cmd.CombinedOutput()
	took := time.Since(start)

	if err != nil {
		r.log.Warn("job exec failed",
			logx.String("job", j.Name),
			logx.Duration("took", took),
			logx.Int("output_bytes", len(out)),
			logx.Err(err))
		if ee, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("%s: exit status %d", j.Name, ee.ExitCode())
		}
		return fmt.Errorf("%s: %w", j.Name, err)
	}

	r.log.Debug("job exec ok",
		logx.String("job", j.Name),
		logx.Duration("took", took),
		logx.Int("output_bytes", len(out)))
	return nil
}
