package session

import (
	"context"
	"strings"
	"time"

	"github.com/plugsift/plugsift/pkg/engine"
	"github.com/plugsift/plugsift/pkg/ledger"
	"github.com/plugsift/plugsift/pkg/plugin"
	"github.com/plugsift/plugsift/pkg/report"
	"github.com/plugsift/plugsift/pkg/stores"
	"github.com/plugsift/plugsift/pkg/telemetry"
)

// recorder forwards engine notifications to every sink of a session. Sink
// failures are logged and never stop the engine.
type recorder struct {
	sessionID string
	total     int
	ledger    *ledger.Ledger
	display   *report.Display
	store     stores.Store
	metrics   *telemetry.Metrics
	log       *telemetry.SessionLog
	logger    *telemetry.Logger
	now       func() time.Time

	seq int
}

func (r *recorder) TrialStarted(_ context.Context, rec *engine.TrialRecord) {
	batch := rec.Batch
	if len(batch) == 0 {
		batch = rec.Order
	}
	if r.display != nil {
		r.display.Testing(plugin.Strings(batch))
	}
	r.logf("Testing %s (%d plugin(s), attempt %d): %s",
		rec.Kind, len(batch), rec.Attempt, strings.Join(plugin.Strings(batch), ", "))
}

func (r *recorder) TrialFinished(ctx context.Context, rec *engine.TrialRecord) {
	r.seq++
	outcome := rec.Outcome.String()
	if outcome == "" {
		outcome = "skipped"
	}
	r.metrics.RecordTrial(string(rec.Kind), outcome, rec.Duration)

	counts := r.ledger.Counts()
	r.metrics.SetCandidates(counts.Safe, counts.Failed, max(0, r.total-counts.Tested))

	if rec.Err != nil {
		r.logf("Trial %s error: %v", rec.Kind, rec.Err)
	} else {
		r.logf("Trial %s result: %s", rec.Kind, outcome)
	}

	if r.store == nil {
		return
	}
	trial := &stores.Trial{
		ID:        rec.ID,
		SessionID: r.sessionID,
		Seq:       r.seq,
		Kind:      string(rec.Kind),
		Batch:     plugin.Strings(rec.Batch),
		OrderSize: len(rec.Order),
		Attempt:   rec.Attempt,
		Outcome:   outcome,
		StartedAt: rec.StartedAt,
		Duration:  rec.Duration,
	}
	if rec.Err != nil {
		msg := rec.Err.Error()
		trial.Error = &msg
	}
	if err := r.store.RecordTrial(context.WithoutCancel(ctx), trial); err != nil {
		r.logger.WithError(err).WithTrialID(rec.ID).Warn("Failed to journal trial")
	}
}

func (r *recorder) VerdictRecorded(ctx context.Context, v engine.Verdict) {
	names := plugin.Strings(v.IDs)
	switch v.Kind {
	case engine.VerdictSafe:
		if r.display != nil {
			r.display.Passed(names...)
		}
		r.logf("Passed: %s", strings.Join(names, ", "))
	case engine.VerdictFailed:
		if r.display != nil {
			r.display.Failed(names...)
		}
		r.logf("Broken: %s", strings.Join(names, ", "))
	case engine.VerdictReverified:
		for _, n := range names {
			if r.display != nil {
				r.display.Reverified(n)
			}
			r.logf("Re-verified as safe: %s", n)
		}
	}

	if r.store == nil {
		return
	}
	trialID := v.TrialID
	for _, n := range names {
		err := r.store.RecordVerdict(context.WithoutCancel(ctx), &stores.Verdict{
			SessionID:  r.sessionID,
			Plugin:     n,
			Kind:       string(v.Kind),
			TrialID:    &trialID,
			RecordedAt: r.now(),
		})
		if err != nil {
			r.logger.WithError(err).WithPlugin(n).Warn("Failed to journal verdict")
		}
	}
}

func (r *recorder) logf(format string, args ...interface{}) {
	if r.log != nil {
		r.log.Logf(format, args...)
	}
}

var _ engine.Observer = (*recorder)(nil)
