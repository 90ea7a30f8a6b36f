package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/plugsift/plugsift/pkg/oracle"
	"github.com/plugsift/plugsift/pkg/plugin"
)

// remaining returns the candidates of the run that have no verdict yet, in
// candidate order.
func (e *Engine) remaining() []plugin.ID {
	return e.untested(e.universe.Items())
}

// megaAttempt tries every untested candidate at once. A pass commits them
// all to Safe and ends isolation for the whole run.
func (e *Engine) megaAttempt(ctx context.Context) error {
	remaining := e.remaining()
	if len(remaining) == 0 {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "isolate.partition", trace.WithAttributes(
		attribute.String("plugsift.state", StateMegaAttempt.String()),
		attribute.Int("plugsift.batch_size", len(remaining)),
	))
	defer span.End()

	e.logger.Info().Int("remaining", len(remaining)).Msg("Trying mega batch")

	rec, err := e.runTrial(ctx, KindMega, remaining, e.baseline(remaining))
	if err != nil {
		if IsTransient(err) {
			e.logger.Error().Err(err).Msg("Mega batch skipped")
			return nil
		}
		return err
	}

	if rec.Outcome == oracle.OutcomePassed {
		e.commitSafe(ctx, rec, remaining)
		e.megaPassed = true
		e.logger.Info().Int("plugins", len(remaining)).Msg("Mega batch passed, isolation finished early")
		return nil
	}

	e.logger.Info().Msg("Mega batch crashed, continuing isolation")
	return nil
}

// reverify retries each Failed id alone once the operator agrees. A pass
// moves the id to Safe.
func (e *Engine) reverify(ctx context.Context) error {
	failed := e.ledger.Failed()
	if len(failed) == 0 {
		return nil
	}

	ok, err := e.confirm.Confirm(ctx, fmt.Sprintf("Re-test %d failed plugin(s) individually?", len(failed)))
	if err != nil {
		return NewAbortedError("confirmation prompt failed", err).WithOperation(string(KindVerify))
	}
	if !ok {
		e.logger.Info().Msg("Re-verification declined")
		return nil
	}

	for _, id := range failed {
		if e.ledger.WasReverified(id) || !e.ledger.IsFailed(id) {
			continue
		}

		safe := e.ledger.SafeIn(e.universe.Items())
		order := plugin.Normalize(e.opts.Required, e.opts.Optional, safe, []plugin.ID{id})

		rec, err := e.runTrial(ctx, KindVerify, []plugin.ID{id}, order)
		if err != nil {
			if IsTransient(err) {
				e.logger.Error().Err(err).Str("plugin", id.Name()).Msg("Re-verification skipped")
				continue
			}
			return err
		}

		if rec.Outcome != oracle.OutcomePassed {
			e.logger.Info().Str("plugin", id.Name()).Msg("Still crashes")
			continue
		}
		if err := e.ledger.Reverify(id); err != nil {
			e.logger.Warn().Err(err).Str("plugin", id.Name()).Msg("Re-verification not applied")
			continue
		}
		e.logger.Info().Str("trial_id", rec.ID).Str("plugin", id.Name()).Msg("Re-verified safe")
		e.observer.VerdictRecorded(ctx, Verdict{Kind: VerdictReverified, IDs: []plugin.ID{id}, TrialID: rec.ID})
	}
	return nil
}
