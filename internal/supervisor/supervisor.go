// Package supervisor starts the external execution backend process and
// decides, through an explicit state machine, whether a run executes cells or
// degrades to publish-only when the backend cannot come up.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/vk/runbook/internal/ctxlog"
)

// State of the bootstrap machine.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateReady
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Mode is the execution mode a run proceeds with after bootstrap.
type Mode int

const (
	// ModeExecute runs cells normally.
	ModeExecute Mode = iota
	// ModeSkipExecution publishes structure but records cells as not run.
	// This is the automated-environment fallback for signal-only validation,
	// not a failure mode: skipped cells are not failed cells.
	ModeSkipExecution
)

// Backoff returns the wait before retry attempt n (1-based).
type Backoff func(attempt int) time.Duration

// LinearBackoff grows the wait linearly with the attempt number.
func LinearBackoff(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * base
	}
}

// Launcher starts the backend once and reports whether it came up.
type Launcher func(ctx context.Context) error

// CommandLauncher starts the given command and treats a successful process
// start as a successful launch; the backend announces readiness through the
// shared log, not through its exit status.
func CommandLauncher(command []string) Launcher {
	return func(ctx context.Context) error {
		if len(command) == 0 {
			return fmt.Errorf("no backend command configured")
		}
		cmd := exec.CommandContext(ctx, command[0], command[1:]...)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start backend %q: %w", command[0], err)
		}
		// Reap the process when it exits so it never zombies.
		go func() { _ = cmd.Wait() }()
		return nil
	}
}

// Supervisor retries a backend launch with injected backoff. The environment
// value is threaded through the constructor rather than read from ambient
// globals: in an automated environment ("ci"), exhausted retries degrade to
// ModeSkipExecution instead of failing the run.
type Supervisor struct {
	launch      Launcher
	retries     int
	backoff     Backoff
	environment string

	state State
}

// New creates a Supervisor in StateIdle.
func New(launch Launcher, retries int, backoff Backoff, environment string) *Supervisor {
	if backoff == nil {
		backoff = LinearBackoff(time.Second)
	}
	return &Supervisor{
		launch:      launch,
		retries:     retries,
		backoff:     backoff,
		environment: environment,
		state:       StateIdle,
	}
}

// State returns the machine's current state.
func (s *Supervisor) State() State { return s.state }

// Start drives Idle → Starting → Ready | Retrying | Failed and returns the
// mode the run should proceed with. In a non-automated environment a Failed
// bootstrap is a hard error.
func (s *Supervisor) Start(ctx context.Context) (Mode, error) {
	logger := ctxlog.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= s.retries+1; attempt++ {
		s.state = StateStarting
		logger.Info("🚀 Starting execution backend", "attempt", attempt)

		lastErr = s.launch(ctx)
		if lastErr == nil {
			s.state = StateReady
			logger.Info("Execution backend started.")
			return ModeExecute, nil
		}

		if attempt > s.retries {
			break
		}
		s.state = StateRetrying
		wait := s.backoff(attempt)
		logger.Warn("Backend start failed, retrying.", "error", lastErr, "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			s.state = StateFailed
			return ModeExecute, ctx.Err()
		}
	}

	s.state = StateFailed
	if s.environment == "ci" {
		logger.Warn("Backend unavailable after retries; degrading to publish-only run.", "error", lastErr)
		return ModeSkipExecution, nil
	}
	return ModeExecute, fmt.Errorf("execution backend failed to start after %d attempts: %w", s.retries+1, lastErr)
}
