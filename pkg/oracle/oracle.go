package oracle

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Oracle runs trials against one target program. Only one target instance
// is live at a time; every trial ends with the target terminated. Oracle
// is not safe for concurrent use.
type Oracle struct {
	opts     Options
	image    string
	table    ProcessTable
	launcher Launcher
	pause    PauseSignal
	clock    Clock
	logger   zerolog.Logger
}

// Option customises an Oracle.
type Option func(*Oracle)

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(o *Oracle) { o.launcher = l }
}

// WithPauseSignal sets the operator pause source.
func WithPauseSignal(p PauseSignal) Option {
	return func(o *Oracle) { o.pause = p }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *Oracle) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Oracle) { o.logger = l }
}

// New creates an oracle for the configured executable.
func New(opts Options, table ProcessTable, options ...Option) *Oracle {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.StartupGrace <= 0 {
		opts.StartupGrace = DefaultStartupGrace
	}
	image := opts.ImageName
	if image == "" {
		image = filepath.Base(opts.Executable)
	}

	o := &Oracle{
		opts:     opts,
		image:    image,
		table:    table,
		launcher: ExecLauncher{},
		pause:    NoPause,
		clock:    SystemClock,
		logger:   zerolog.Nop(),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Image returns the process image name the oracle polls for.
func (o *Oracle) Image() string { return o.image }

// Trial launches the target and waits for an outcome. A launch failure is
// returned alongside OutcomeCrashed.
func (o *Oracle) Trial(ctx context.Context) (Outcome, error) {
	h, err := o.Launch(ctx)
	if err != nil {
		o.Terminate(ctx)
		return OutcomeCrashed, err
	}
	return o.Await(ctx, h, o.opts.Timeout), nil
}

// Launch starts the target and waits the launch settle delay.
func (o *Oracle) Launch(ctx context.Context) (*Handle, error) {
	h, err := o.launcher.Start(ctx, o.opts.Executable, o.opts.Args, o.opts.WorkDir)
	if err != nil {
		var le *LaunchError
		if !errors.As(err, &le) {
			err = &LaunchError{Path: o.opts.Executable, Err: err}
		}
		o.logger.Error().Err(err).Str("executable", o.opts.Executable).Msg("Failed to launch target")
		return nil, err
	}
	o.logger.Debug().Int("pid", h.PID).Str("image", o.image).Msg("Target launched")
	o.clock.Sleep(ctx, o.opts.launchSettle())
	return h, nil
}

// Await polls the process table until the target dies, a pause is
// requested or timeout elapses. Context cancellation is reported as
// OutcomePaused.
func (o *Oracle) Await(ctx context.Context, h *Handle, timeout time.Duration) Outcome {
	start := o.clock.Now()

	appeared := false
	for steps := int(o.opts.StartupGrace / startupPoll); steps > 0; steps-- {
		if ctx.Err() != nil || o.pause.Requested() {
			o.logger.Info().Msg("Trial paused during startup")
			o.Terminate(ctx)
			return OutcomePaused
		}
		if o.alive(ctx) {
			appeared = true
			break
		}
		o.clock.Sleep(ctx, startupPoll)
	}
	if !appeared {
		o.logger.Warn().Str("image", o.image).Msg("Target never appeared, treating as crash")
		o.Terminate(ctx)
		return OutcomeCrashed
	}

	for o.clock.Now().Sub(start) < timeout {
		if ctx.Err() != nil || o.pause.Requested() {
			o.logger.Info().Msg("Trial paused")
			o.Terminate(ctx)
			return OutcomePaused
		}
		if !o.alive(ctx) {
			o.logger.Debug().Dur("elapsed", o.clock.Now().Sub(start)).Msg("Target exited during trial")
			o.Terminate(ctx)
			return OutcomeCrashed
		}
		o.clock.Sleep(ctx, o.opts.pollInterval())
	}

	o.Terminate(ctx)
	return OutcomePassed
}

// Terminate force-kills the target and the crash reporter, then waits for
// the close settle delay. Kills are issued even when ctx is cancelled.
func (o *Oracle) Terminate(ctx context.Context) {
	killCtx := context.WithoutCancel(ctx)

	pid, found, err := o.table.Lookup(killCtx, o.image)
	if err != nil {
		o.logger.Warn().Err(err).Str("image", o.image).Msg("Process lookup failed during terminate")
	}
	killed := false
	if found {
		if err := o.table.Kill(killCtx, pid); err != nil {
			o.logger.Warn().Err(err).Str("pid", pid).Msg("Kill by pid failed, falling back to image name")
		} else {
			killed = true
		}
	}
	if !killed {
		if err := o.table.KillByName(killCtx, o.image); err != nil {
			o.logger.Error().Err(err).Str("image", o.image).Msg("Failed to close target")
		}
	}
	if o.opts.CrashReporterImage != "" {
		if err := o.table.KillByName(killCtx, o.opts.CrashReporterImage); err != nil {
			o.logger.Warn().Err(err).Str("image", o.opts.CrashReporterImage).Msg("Failed to close crash reporter")
		}
	}

	o.clock.Sleep(ctx, o.opts.closeSettle())
	if o.opts.AfterCloseDelay > 0 {
		o.clock.Sleep(ctx, o.opts.AfterCloseDelay)
	}
}

// alive reports whether the target image is in the process table. Lookup
// errors count as not alive.
func (o *Oracle) alive(ctx context.Context) bool {
	_, found, err := o.table.Lookup(ctx, o.image)
	if err != nil {
		o.logger.Warn().Err(err).Str("image", o.image).Msg("Process lookup failed")
		return false
	}
	return found
}
