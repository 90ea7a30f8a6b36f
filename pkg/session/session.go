package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/plugsift/plugsift/pkg/config"
	"github.com/plugsift/plugsift/pkg/engine"
	"github.com/plugsift/plugsift/pkg/ledger"
	"github.com/plugsift/plugsift/pkg/oracle"
	"github.com/plugsift/plugsift/pkg/orderfile"
	"github.com/plugsift/plugsift/pkg/plugin"
	"github.com/plugsift/plugsift/pkg/report"
	"github.com/plugsift/plugsift/pkg/stores"
	"github.com/plugsift/plugsift/pkg/telemetry"
)

// Prompter is the interactive surface of a session.
type Prompter interface {
	engine.PauseHandler
	engine.Confirmer

	// Final asks what to do with the failed plugins.
	Final(ctx context.Context) (report.FinalChoice, error)

	Notify(msg string)
	Warn(msg string)
}

// Dependencies are the collaborators of a Session. Oracle and Prompt are
// required; the rest fall back to no-op or default implementations.
type Dependencies struct {
	Oracle    engine.Oracle
	Prompt    Prompter
	Display   *report.Display
	Store     stores.Store
	Telemetry *telemetry.Telemetry
	Log       *telemetry.SessionLog
	Selector  plugin.Selector
	Clock     func() time.Time

	// WatchOrder starts a tamper watcher on the order file.
	WatchOrder bool
}

// Outcome describes how a session ended.
type Outcome struct {
	SessionID  string
	Status     stores.SessionStatus
	Result     *engine.Result
	Candidates *plugin.Candidates
	Backup     *orderfile.Backup
	Restored   *orderfile.Backup
	Choice     report.FinalChoice
	Quarantine *orderfile.QuarantineReport
}

// Session is a single isolation run. It is not reusable.
type Session struct {
	cfg    *config.Config
	deps   Dependencies
	id     string
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
	now    func() time.Time

	journaled bool
}

// New creates a session for cfg.
func New(cfg *config.Config, deps Dependencies) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("session requires a configuration")
	}
	if deps.Oracle == nil || deps.Prompt == nil {
		return nil, errors.New("session requires an oracle and a prompter")
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewNop()
	}
	if deps.Selector == nil {
		deps.Selector = plugin.NewDefaultSelector(cfg.Plugins.PatchKeywords)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	id := uuid.New().String()
	return &Session{
		cfg:    cfg,
		deps:   deps,
		id:     id,
		tel:    deps.Telemetry,
		logger: deps.Telemetry.Logger.NewComponentLogger("session").WithSessionID(id),
		now:    deps.Clock,
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Run executes the session. Operator aborts and cancellation are returned
// as errors matching engine.ErrAborted; every path except an explicit Quit
// leaves the order file as it was before isolation started.
func (s *Session) Run(ctx context.Context) (out *Outcome, err error) {
	out = &Outcome{SessionID: s.id, Status: stores.SessionStatusRunning}
	started := s.now()

	ctx, span := s.tel.Tracer.StartSessionSpan(ctx, s.id, 0)
	defer span.End()
	defer func() {
		s.finish(ctx, out, err)
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
	}()

	s.logger.WithField("order_file", s.cfg.OrderFile).Info("Starting session")
	s.logf("Starting plugin isolation at %s", started.Format("2006-01-02 15-04-05"))

	if err := s.preflight(); err != nil {
		return out, err
	}

	restored, err := s.offerRestore(ctx)
	if err != nil {
		return out, err
	}
	out.Restored = restored

	file, snap, err := orderfile.Open(s.cfg.OrderFile)
	if err != nil {
		return out, engine.NewPermanentError("cannot read order file", err).WithCode(engine.ErrCodeMissingTarget)
	}
	backup, err := orderfile.NewBackups(s.cfg.Paths.Backups()).Create(s.cfg.OrderFile, started)
	if err != nil {
		return out, engine.NewPermanentError("cannot back up order file", err)
	}
	out.Backup = backup
	s.deps.Prompt.Notify(fmt.Sprintf("[BACKUP] Created backup of %s in %s", file.Path(), backup.Session))
	s.logf("Backup created: %s", backup.Path)

	s.journalStart(ctx, started)

	if s.deps.WatchOrder {
		w := orderfile.NewWatcher(file, func(path string) { s.tampered(ctx, path) }, s.logger.Zerolog())
		if err := w.Start(ctx); err != nil {
			s.logger.WithError(err).Warn("Order file watcher unavailable")
		} else {
			defer w.Close()
		}
	}

	required, optional := s.baseline(snap)

	ldg := ledger.New()
	rec := &recorder{
		sessionID: s.id,
		ledger:    ldg,
		display:   s.deps.Display,
		store:     s.deps.Store,
		metrics:   s.tel.Metrics,
		log:       s.deps.Log,
		logger:    s.logger,
		now:       s.now,
	}
	eng, err := engine.New(engine.Options{
		Required:  required,
		Optional:  optional,
		BatchSize: s.cfg.Isolation.BatchSize,
		Turbo:     s.cfg.Isolation.TurboBatch,
		ShowOrder: s.cfg.Display.ShowOrder,
	}, s.deps.Oracle, file, ldg, engine.Dependencies{
		Pause:    s.deps.Prompt,
		Confirm:  s.deps.Prompt,
		Observer: rec,
		Tracer:   s.tel.Tracer.Tracer(),
		Logger:   s.logger.Zerolog(),
	})
	if err != nil {
		return out, err
	}

	if err := s.sanity(ctx, eng, file, snap); err != nil {
		return out, s.abort(file, snap, err)
	}

	cands, err := plugin.Collect(ctx, s.deps.Selector, snap.Entries(),
		plugin.NewSet(plugin.Names(s.cfg.Plugins.Required...)...),
		plugin.NewSet(plugin.Names(s.cfg.Plugins.Optional...)...))
	if err != nil {
		return out, s.abort(file, snap, engine.NewPermanentError("cannot classify plugins", err))
	}
	out.Candidates = cands

	total := len(cands.Main) + len(cands.Patch)
	rec.total = total
	span.SetAttributes(telemetry.AttrCandidates.Int(total))
	s.tel.Metrics.SetCandidates(0, 0, total)
	if s.deps.Display != nil {
		s.deps.Display.SetTotal(total)
		s.deps.Display.SetTurbo(s.cfg.Isolation.TurboBatch)
	}
	if total == 0 {
		s.deps.Prompt.Notify("[INFO] No plugins to test.")
		if err := file.Restore(snap); err != nil {
			return out, engine.NewPermanentError("cannot restore order file", err)
		}
		out.Result = &engine.Result{}
		out.Status = stores.SessionStatusCompleted
		return out, nil
	}
	s.logf("Candidates: %d main, %d patch", len(cands.Main), len(cands.Patch))

	res, err := eng.Run(ctx, cands.Main, cands.Patch)
	out.Result = res
	if err != nil {
		return out, s.abort(file, snap, err)
	}

	at := s.now()
	keep := append(append(append([]plugin.ID(nil), res.Safe...), cands.Skipped...), res.Incomplete...)
	if err := file.WriteLines(orderfile.Interim(snap, required, optional, keep, res.Failed, s.cfg.Isolation.Marker, at)); err != nil {
		s.logger.WithError(err).Error("Failed to write interim order")
		s.deps.Prompt.Warn(fmt.Sprintf("[ERROR] Could not write the interim order: %v", err))
	}

	if s.deps.Display != nil {
		s.deps.Display.ShowSummary(plugin.Strings(res.Safe), plugin.Strings(res.Failed), at)
	}
	s.logf("Summary: %d passed, %d failed, %d incomplete", len(res.Safe), len(res.Failed), len(res.Incomplete))
	if len(res.Incomplete) > 0 {
		s.deps.Prompt.Warn(fmt.Sprintf("[WARNING] %d plugin(s) could not be tested and were left enabled.", len(res.Incomplete)))
	}

	out.Status = stores.SessionStatusCompleted
	if len(res.Failed) == 0 {
		return out, nil
	}

	choice, err := s.deps.Prompt.Final(ctx)
	if err != nil {
		return out, engine.NewAbortedError("final prompt failed", err)
	}
	out.Choice = choice
	if err := s.apply(ctx, out, file, snap, res.Failed); err != nil {
		out.Status = stores.SessionStatusFailed
		return out, err
	}
	return out, nil
}

// preflight checks that the target and the order file exist.
func (s *Session) preflight() error {
	for _, p := range []struct{ what, path string }{
		{"order file", s.cfg.OrderFile},
		{"target executable", s.cfg.Target.Executable},
	} {
		if _, err := os.Stat(p.path); err != nil {
			s.deps.Prompt.Warn(fmt.Sprintf("[ERROR] %s not found at: %s", p.what, p.path))
			return engine.NewPermanentError(p.what+" not found", err).
				WithCode(engine.ErrCodeMissingTarget).
				WithDetail("path", p.path)
		}
	}
	return nil
}

// offerRestore asks whether the newest backup should replace the order
// file before the session snapshots it.
func (s *Session) offerRestore(ctx context.Context) (*orderfile.Backup, error) {
	latest, err := orderfile.NewBackups(s.cfg.Paths.Backups()).Latest()
	if errors.Is(err, orderfile.ErrNoBackup) {
		s.deps.Prompt.Notify("[INFO] No previous backup found.")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.deps.Prompt.Confirm(ctx, fmt.Sprintf("Found a previous backup from %s. Restore it?", latest.Session))
	if err != nil {
		return nil, engine.NewAbortedError("restore prompt failed", err)
	}
	if !ok {
		s.deps.Prompt.Notify("[INFO] Skipped restoration.")
		return nil, nil
	}
	if err := restoreBackup(latest, s.cfg.OrderFile); err != nil {
		s.deps.Prompt.Warn(fmt.Sprintf("[ERROR] Failed to restore backup: %v", err))
		return nil, nil
	}
	s.deps.Prompt.Notify(fmt.Sprintf("[RESTORED] %s from %s", s.cfg.OrderFile, latest.Session))
	s.logf("Restored order file from %s", latest.Session)
	s.event(ctx, stores.EventLevelInfo, "restored order file from "+latest.Session)
	return latest, nil
}

// baseline returns the configured required and optional plugins that are
// present in snap, reporting the missing ones.
func (s *Session) baseline(snap *orderfile.Snapshot) (required, optional []plugin.ID) {
	pick := func(names []string, missingPrefix string) []plugin.ID {
		var found []plugin.ID
		for _, id := range plugin.Names(names...) {
			if snap.Contains(id) {
				found = append(found, id)
				continue
			}
			s.deps.Prompt.Notify(missingPrefix + id.Name())
		}
		return found
	}
	required = pick(s.cfg.Plugins.Required, "  missing required: ")
	optional = pick(s.cfg.Plugins.Optional, "  missing optional: ")
	s.deps.Prompt.Notify(fmt.Sprintf("Found %d required and %d optional plugin(s) in the original order.", len(required), len(optional)))
	return required, optional
}

// sanity boots the baseline. A crash offers to enforce the exact
// configured order and boots once more with no header.
func (s *Session) sanity(ctx context.Context, eng *engine.Engine, file *orderfile.File, snap *orderfile.Snapshot) error {
	s.deps.Prompt.Notify("Verifying required plugins can boot the target...")
	outcome, err := eng.Sanity(ctx)
	if err != nil {
		return err
	}
	if outcome == oracle.OutcomePassed {
		s.deps.Prompt.Notify("[OK] Required plugins booted successfully.")
		s.logf("Sanity check passed")
		return nil
	}

	s.deps.Prompt.Warn("[CRITICAL] Required plugins cause a crash!")
	s.logf("Sanity check crashed")
	ok, err := s.deps.Prompt.Confirm(ctx, "Do you want to enforce the exact load order for all required and optional plugins?")
	if err != nil {
		return engine.NewAbortedError("enforce prompt failed", err)
	}
	if !ok {
		return engine.NewPermanentError("baseline crashes and enforcement was declined", nil).
			WithCode(engine.ErrCodeBaselineCrash)
	}

	enforced := plugin.Dedupe(append(append(
		plugin.Names(s.cfg.Plugins.Required...),
		plugin.Names(s.cfg.Plugins.Optional...)...),
		snap.Entries()...))
	if err := file.WriteExact(enforced); err != nil {
		return engine.NewPermanentError("cannot write enforced order", err).WithCode(engine.ErrCodeOrderWrite)
	}
	s.deps.Prompt.Notify("Enforced load order written. Retesting required and optional plugins...")

	file.SetHeader(nil)
	outcome, err = eng.Sanity(ctx)
	file.SetHeader(snap.Header())
	if err != nil {
		return err
	}
	if outcome != oracle.OutcomePassed {
		s.deps.Prompt.Warn("[CRITICAL] Even with the enforced load order, required plugins still crash.")
		return engine.NewPermanentError("baseline crashes with the enforced order", nil).
			WithCode(engine.ErrCodeBaselineCrash)
	}
	s.deps.Prompt.Notify("[OK] Required plugins booted with the enforced load order.")
	s.logf("Sanity check passed with enforced order")
	return nil
}

// abort restores the snapshot unless the operator chose to quit.
func (s *Session) abort(file *orderfile.File, snap *orderfile.Snapshot, err error) error {
	if choice, ok := engine.AbortChoice(err); ok && choice == engine.PauseQuit {
		s.deps.Prompt.Notify("[QUIT] Order file left as it is.")
		return err
	}
	if rerr := file.Restore(snap); rerr != nil {
		s.logger.WithError(rerr).Error("Failed to restore order file")
		return errors.Join(err, fmt.Errorf("failed to restore order file: %w", rerr))
	}
	s.deps.Prompt.Notify("[REVERTED] Order file restored.")
	s.logf("Order file restored after: %v", err)
	return err
}

// apply carries out the final choice.
func (s *Session) apply(ctx context.Context, out *Outcome, file *orderfile.File, snap *orderfile.Snapshot, failed []plugin.ID) error {
	now := s.now()
	switch out.Choice {
	case report.FinalQuarantine:
		rep, err := orderfile.Quarantine(file.Dir(), s.cfg.Paths.Quarantine(), failed, now)
		if err != nil {
			return err
		}
		out.Quarantine = rep
		for _, name := range rep.Moved {
			s.deps.Prompt.Notify("-> Quarantined: " + name)
			s.logf("Quarantined: %s", name)
		}
		for _, name := range rep.Missing {
			s.deps.Prompt.Warn("-> Missing: " + name)
			s.logf("Missing for quarantine: %s", name)
		}
		for name, qerr := range rep.Errors {
			s.deps.Prompt.Warn(fmt.Sprintf("-> Failed to quarantine %s: %v", name, qerr))
			s.logf("Failed to quarantine %s: %v", name, qerr)
		}
		s.event(ctx, stores.EventLevelInfo, fmt.Sprintf("quarantined %d plugin(s) into %s", len(rep.Moved), rep.Dir))

		if _, err := finalize(file, s.cfg, failed, now, now); err != nil {
			return err
		}
		s.deps.Prompt.Notify("Quarantine complete. Final order written to " + file.Path())
	case report.FinalRevert:
		if err := file.Restore(snap); err != nil {
			return fmt.Errorf("failed to revert order file: %w", err)
		}
		s.deps.Prompt.Notify("Restored the original order file.")
		s.logf("Reverted to original")
	default:
		s.deps.Prompt.Notify("Exiting...")
	}
	return nil
}

func (s *Session) tampered(ctx context.Context, path string) {
	msg := fmt.Sprintf("order file %s was modified outside this session", path)
	s.deps.Prompt.Warn("[WARNING] " + msg)
	s.logger.Warn(msg)
	s.logf("Tamper: %s", msg)
	s.event(ctx, stores.EventLevelWarning, msg)
}

func (s *Session) journalStart(ctx context.Context, started time.Time) {
	if s.deps.Store == nil {
		return
	}
	err := s.deps.Store.CreateSession(ctx, &stores.Session{
		ID:        s.id,
		OrderFile: s.cfg.OrderFile,
		Status:    stores.SessionStatusRunning,
		Turbo:     s.cfg.Isolation.TurboBatch,
		StartedAt: started,
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to journal session")
		return
	}
	s.journaled = true
}

// finish records the end of the session in every sink.
func (s *Session) finish(ctx context.Context, out *Outcome, err error) {
	switch {
	case err == nil && out.Status == stores.SessionStatusRunning:
		out.Status = stores.SessionStatusCompleted
	case err != nil && engine.IsAborted(err):
		out.Status = stores.SessionStatusAborted
	case err != nil:
		out.Status = stores.SessionStatusFailed
	}

	s.tel.Metrics.RecordSession(string(out.Status))
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		s.tel.Metrics.RecordError(string(ee.Class), ee.Code)
	}

	summary := stores.Summary{Status: out.Status, Error: err, FinishedAt: s.now()}
	if out.Candidates != nil {
		summary.Candidates = len(out.Candidates.Main) + len(out.Candidates.Patch)
	}
	if res := out.Result; res != nil {
		summary.Safe = len(res.Safe)
		summary.Failed = len(res.Failed)
		summary.Reverified = len(res.Reverified)
		summary.Incomplete = len(res.Incomplete)
		summary.Trials = res.Trials
		summary.MegaAttempts = res.MegaAttempts
	}

	l := s.logger.WithField("status", string(out.Status))
	if err != nil {
		l.WithError(err).Warn("Session ended")
		s.logf("Session %s: %v", out.Status, err)
	} else {
		l.Info("Session ended")
		s.logf("Session %s", out.Status)
	}

	if !s.journaled {
		return
	}
	if ferr := s.deps.Store.FinishSession(context.WithoutCancel(ctx), s.id, summary); ferr != nil {
		s.logger.WithError(ferr).Warn("Failed to journal session end")
	}
}

func (s *Session) event(ctx context.Context, level stores.EventLevel, msg string) {
	if !s.journaled {
		return
	}
	id := s.id
	err := s.deps.Store.AppendEvent(context.WithoutCancel(ctx), &stores.Event{
		SessionID: &id,
		Level:     level,
		Message:   msg,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to journal event")
	}
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.deps.Log != nil {
		s.deps.Log.Logf(format, args...)
	}
}
