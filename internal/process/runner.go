// Package process builds and probes invocations of the STREAM
// memory-bandwidth benchmark executable.
package process

import (
	"context"
	"os/exec"
	"time"
)

// Runner creates executable commands for the benchmark.
// This interface allows the supervisor to be process-agnostic.
type Runner interface {
	// BuildCommand returns a ready-to-start command.
	// The command should NOT be started yet.
	BuildCommand(ctx context.Context) (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}

// Result captures the outcome of a blocking benchmark run.
type Result struct {
	PID       int
	ExitCode  int
	StartTime time.Time
	EndTime   time.Time
	Stdout    string
	Stderr    string

	// Diagnostics counts stderr lines per known benchmark error message.
	Diagnostics map[string]int
}

// Success reports whether the benchmark exited with code 0.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	if r == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
