package orchestrator

import (
	"time"

	"github.com/dusk-indust/orchestrate/internal/graph"
)

// Defaults applied by Config.normalize.
const (
	DefaultConcurrency  = 3
	DefaultMaxRetries   = 2
	DefaultPollInterval = 2 * time.Second
)

// Timeouts holds the per-priority liveness deadline for a running attempt.
// A task's own Timeout field, when set, overrides its priority default.
type Timeouts struct {
	High   time.Duration
	Medium time.Duration
	Low    time.Duration
}

// For returns the deadline duration for a priority.
func (t Timeouts) For(p graph.Priority) time.Duration {
	switch p {
	case graph.PriorityHigh:
		return t.High
	case graph.PriorityLow:
		return t.Low
	default:
		return t.Medium
	}
}

// Config holds runtime configuration for one ceremony run.
type Config struct {
	// LedgerPath is where the ceremony's ledger lives.
	LedgerPath string

	// WorkspaceDir is the root under which each attempt gets its own
	// scratch directory.
	WorkspaceDir string

	// Concurrency caps the number of simultaneously running attempts.
	Concurrency int

	// MaxRetries is how many times a failed task is requeued. A task runs
	// at most MaxRetries+1 attempts.
	MaxRetries int

	// PollInterval is the cadence of the monitor loop.
	PollInterval time.Duration

	// Timeouts are the per-priority attempt deadlines.
	Timeouts Timeouts

	// Verbose enables per-attempt progress output.
	Verbose bool
}

// normalize fills zero fields with defaults. MaxRetries is left alone: zero
// is a valid setting (no retries), callers that want the default pass
// DefaultMaxRetries.
func (c *Config) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeouts.High <= 0 {
		c.Timeouts.High = 20 * time.Minute
	}
	if c.Timeouts.Medium <= 0 {
		c.Timeouts.Medium = 10 * time.Minute
	}
	if c.Timeouts.Low <= 0 {
		c.Timeouts.Low = 5 * time.Minute
	}
}

// deadlineFor resolves the liveness deadline for one task attempt.
func (c *Config) deadlineFor(task *graph.Task) time.Duration {
	if task.Timeout > 0 {
		return task.Timeout
	}
	return c.Timeouts.For(task.Priority)
}
