// Package oracle runs single crash trials against the target program.
//
// A trial launches the configured executable, waits for its image to
// appear in the process table, then polls until it either disappears
// (Crashed), the operator asks for a pause (Paused) or the wait timeout
// elapses (Passed). The target is force-terminated at the end of every
// trial regardless of outcome.
package oracle

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the result of a single trial.
type Outcome string

const (
	// OutcomePassed means the target survived the full wait.
	OutcomePassed Outcome = "passed"

	// OutcomeCrashed means the target died, never appeared or failed to launch.
	OutcomeCrashed Outcome = "crashed"

	// OutcomePaused means the operator interrupted the trial. It carries no
	// verdict.
	OutcomePaused Outcome = "paused"
)

// Validate checks that the outcome is a known value.
func (o Outcome) Validate() error {
	switch o {
	case OutcomePassed, OutcomeCrashed, OutcomePaused:
		return nil
	default:
		return fmt.Errorf("invalid trial outcome: %s", o)
	}
}

// String implements fmt.Stringer.
func (o Outcome) String() string { return string(o) }

// PauseSignal reports whether the operator requested a pause. Requested
// consumes the request.
type PauseSignal interface {
	Requested() bool
}

// PauseFunc adapts a function to PauseSignal.
type PauseFunc func() bool

// Requested implements PauseSignal.
func (f PauseFunc) Requested() bool { return f() }

// NoPause never requests a pause.
var NoPause PauseSignal = PauseFunc(func() bool { return false })

// ProcessTable looks up and kills processes by image name.
type ProcessTable interface {
	// Lookup returns the pid of a running process with the given image.
	Lookup(ctx context.Context, image string) (pid string, found bool, err error)

	// Kill force-terminates pid.
	Kill(ctx context.Context, pid string) error

	// KillByName force-terminates every process matching image.
	KillByName(ctx context.Context, image string) error
}

// Clock abstracts time for the polling loop.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// LaunchError wraps a failure to start the target.
type LaunchError struct {
	Path string
	Err  error
}

// Error implements error.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *LaunchError) Unwrap() error { return e.Err }

// Options configures an Oracle.
type Options struct {
	// Executable is the path of the target program.
	Executable string

	// Args are passed to the target program.
	Args []string

	// WorkDir is the working directory of the target. Empty means the
	// executable's directory.
	WorkDir string

	// ImageName is the process image polled in the process table. Empty
	// means the base name of Executable.
	ImageName string

	// CrashReporterImage is always killed alongside the target. Empty
	// disables it.
	CrashReporterImage string

	// Timeout is how long the target must survive to pass.
	Timeout time.Duration

	// StartupGrace bounds how long the target may take to appear.
	StartupGrace time.Duration

	// AfterCloseDelay is waited after every termination.
	AfterCloseDelay time.Duration

	// Fast shortens the fixed settle and poll delays.
	Fast bool
}

// Default timing values.
const (
	DefaultTimeout       = 11 * time.Second
	DefaultStartupGrace  = 3 * time.Second
	DefaultCrashReporter = "CrashReportClient.exe"

	startupPoll = 100 * time.Millisecond
)

func (o Options) launchSettle() time.Duration {
	if o.Fast {
		return 200 * time.Millisecond
	}
	return 500 * time.Millisecond
}

func (o Options) pollInterval() time.Duration {
	if o.Fast {
		return 100 * time.Millisecond
	}
	return 250 * time.Millisecond
}

func (o Options) closeSettle() time.Duration {
	if o.Fast {
		return 100 * time.Millisecond
	}
	return 300 * time.Millisecond
}
