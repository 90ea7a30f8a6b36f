package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/plugsift/plugsift/pkg/ledger"
	"github.com/plugsift/plugsift/pkg/oracle"
	"github.com/plugsift/plugsift/pkg/plugin"
)

// State is the partitioning depth of a frame.
//
// Transition table, evaluated for the frame on top of the stack:
//
//	state        outcome   len   effect
//	Batch        Passed    any   MarkSafe(batch), pop
//	SubBatch     Passed    any   MarkSafe(batch), pop
//	Singleton    Passed    1     MarkSafe(batch), pop
//	Batch        Crashed   >1    pop, push chunks of StepSize(len) as SubBatch or Singleton
//	SubBatch     Crashed   >1    pop, push chunks of StepSize(len) as SubBatch or Singleton
//	any          Crashed   1     MarkFailed(id), pop, push MegaAttempt when turbo
//	MegaAttempt  Passed    -     MarkSafe(remaining), clear the stack
//	MegaAttempt  Crashed   -     pop
//	any          Paused    -     ledger untouched; Resume retries the same frame, Revert or Quit abort
//	any          write err -     ids join the skipped set, pop
type State int

const (
	StateBatch State = iota
	StateSubBatch
	StateSingleton
	StateMegaAttempt
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateBatch:
		return "batch"
	case StateSubBatch:
		return "sub_batch"
	case StateSingleton:
		return "singleton"
	case StateMegaAttempt:
		return "mega_attempt"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) kind() TrialKind {
	switch s {
	case StateSubBatch:
		return KindSubBatch
	case StateSingleton:
		return KindSingleton
	case StateMegaAttempt:
		return KindMega
	default:
		return KindBatch
	}
}

type frame struct {
	state State
	batch []plugin.ID
}

// Dependencies are the collaborators of an Engine. Nil fields get no-op
// defaults; a nil PauseHandler quits on the first pause.
type Dependencies struct {
	Pause    PauseHandler
	Confirm  Confirmer
	Observer Observer
	Tracer   trace.Tracer
	Logger   zerolog.Logger
}

// Engine runs the isolation state machine. It is driven by a single
// goroutine; only the ledger may be read concurrently.
type Engine struct {
	opts     Options
	oracle   Oracle
	writer   OrderWriter
	ledger   *ledger.Ledger
	pause    PauseHandler
	confirm  Confirmer
	observer Observer
	tracer   trace.Tracer
	logger   zerolog.Logger

	// universe holds every candidate of the current run in candidate order.
	universe *plugin.Set

	// skipped holds ids whose trial could not be written.
	skipped *plugin.Set

	megaPassed   bool
	trials       int
	megaAttempts int
}

// New creates an engine.
func New(opts Options, o Oracle, w OrderWriter, l *ledger.Ledger, deps Dependencies) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if o == nil || w == nil || l == nil {
		return nil, NewPermanentError("engine requires an oracle, an order writer and a ledger", nil).
			WithCode(ErrCodeValidation)
	}

	opts.Required = plugin.Dedupe(opts.Required)
	opts.Optional = plugin.Dedupe(opts.Optional)

	e := &Engine{
		opts:     opts,
		oracle:   o,
		writer:   w,
		ledger:   l,
		pause:    deps.Pause,
		confirm:  deps.Confirm,
		observer: deps.Observer,
		tracer:   deps.Tracer,
		logger:   deps.Logger,
		universe: plugin.NewSet(),
		skipped:  plugin.NewSet(),
	}
	if e.pause == nil {
		e.pause = PauseFunc(func(context.Context, PauseInfo) (PauseChoice, error) { return PauseQuit, nil })
	}
	if e.confirm == nil {
		e.confirm = ConfirmFunc(func(context.Context, string) (bool, error) { return false, nil })
	}
	if e.observer == nil {
		e.observer = NopObserver{}
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("plugsift/engine")
	}
	return e, nil
}

// Ledger returns the ledger the engine writes to.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Run isolates every candidate in groups. Groups are processed in order,
// each split into chunks of BatchSize. Ids that already have a verdict are
// skipped. On abort the partial result is returned with the error.
func (e *Engine) Run(ctx context.Context, groups ...[]plugin.ID) (*Result, error) {
	start := time.Now()
	for _, g := range groups {
		e.universe.Add(g...)
	}

	e.logger.Info().
		Int("candidates", e.universe.Len()).
		Int("batch_size", e.opts.BatchSize).
		Bool("turbo", e.opts.Turbo).
		Msg("Starting isolation")

	err := e.runGroups(ctx, groups)
	if err == nil && !e.megaPassed {
		err = e.revisitSkipped(ctx)
	}
	if err == nil && e.opts.Turbo {
		err = e.reverify(ctx)
	}

	res := e.result(time.Since(start))
	if err != nil {
		e.logger.Warn().Err(err).Int("trials", res.Trials).Msg("Isolation stopped")
		return res, err
	}
	e.logger.Info().
		Int("safe", len(res.Safe)).
		Int("failed", len(res.Failed)).
		Int("incomplete", len(res.Incomplete)).
		Int("trials", res.Trials).
		Dur("duration", res.Duration).
		Msg("Isolation complete")
	return res, nil
}

func (e *Engine) runGroups(ctx context.Context, groups [][]plugin.ID) error {
	for gi, g := range groups {
		for ci, chunk := range plugin.Chunk(plugin.Dedupe(g), e.opts.BatchSize) {
			if e.megaPassed {
				return nil
			}
			e.logger.Debug().Int("group", gi).Int("chunk", ci).Int("size", len(chunk)).Msg("Isolating chunk")
			if err := e.isolate(ctx, chunk, StateBatch); err != nil {
				return err
			}
		}
	}
	return nil
}

// revisitSkipped gives ids whose trial could not be written one more pass.
func (e *Engine) revisitSkipped(ctx context.Context) error {
	pending := e.untested(e.skipped.Items())
	if len(pending) == 0 {
		return nil
	}
	e.logger.Info().Int("count", len(pending)).Msg("Revisiting candidates skipped by write failures")
	e.skipped = plugin.NewSet()
	for _, chunk := range plugin.Chunk(pending, e.opts.BatchSize) {
		if e.megaPassed {
			return nil
		}
		if err := e.isolate(ctx, chunk, StateBatch); err != nil {
			return err
		}
	}
	return nil
}

// isolate drives the frame stack for one top-level batch until every id
// in it has a verdict, a mega attempt passes or the session aborts.
func (e *Engine) isolate(ctx context.Context, batch []plugin.ID, initial State) error {
	if len(batch) == 1 && initial == StateBatch {
		initial = StateSingleton
	}
	stack := []frame{{state: initial, batch: batch}}

	for len(stack) > 0 {
		if e.megaPassed {
			return nil
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		next, err := e.step(ctx, top)
		if err != nil {
			return err
		}
		stack = append(stack, next...)
	}
	return nil
}

// step evaluates one frame and returns the frames to push, last to run
// first.
func (e *Engine) step(ctx context.Context, f frame) ([]frame, error) {
	if f.state == StateMegaAttempt {
		return nil, e.megaAttempt(ctx)
	}

	batch := e.untested(f.batch)
	if len(batch) == 0 {
		return nil, nil
	}

	ctx, span := e.tracer.Start(ctx, "isolate.partition", trace.WithAttributes(
		attribute.String("plugsift.state", f.state.String()),
		attribute.Int("plugsift.batch_size", len(batch)),
	))
	defer span.End()

	rec, err := e.runTrial(ctx, f.state.kind(), batch, e.baseline(batch))
	if err != nil {
		if IsTransient(err) {
			e.skipped.Add(batch...)
			e.logger.Error().Err(err).Strs("plugins", plugin.Strings(batch)).Msg("Trial skipped")
			span.RecordError(err)
			return nil, nil
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	switch rec.Outcome {
	case oracle.OutcomePassed:
		e.commitSafe(ctx, rec, batch)
		return nil, nil

	case oracle.OutcomeCrashed:
		if len(batch) == 1 {
			e.commitFailed(ctx, rec, batch[0])
			if e.opts.Turbo {
				return []frame{{state: StateMegaAttempt}}, nil
			}
			return nil, nil
		}
		return e.split(batch), nil
	}
	return nil, fmt.Errorf("unexpected trial outcome %q", rec.Outcome)
}

// split partitions a crashed batch. The returned frames are reversed so
// the first chunk runs first.
func (e *Engine) split(batch []plugin.ID) []frame {
	size := plugin.StepSize(len(batch))
	chunks := plugin.Chunk(batch, size)
	e.logger.Debug().Int("size", len(batch)).Int("sub_size", size).Int("chunks", len(chunks)).Msg("Splitting crashed batch")

	frames := make([]frame, 0, len(chunks))
	for i := len(chunks) - 1; i >= 0; i-- {
		state := StateSubBatch
		if len(chunks[i]) == 1 {
			state = StateSingleton
		}
		frames = append(frames, frame{state: state, batch: chunks[i]})
	}
	return frames
}

// baseline builds the trial order for batch on top of the current Safe set.
func (e *Engine) baseline(batch []plugin.ID) []plugin.ID {
	return plugin.Normalize(e.opts.Required, e.opts.Optional, e.ledger.Safe(), batch)
}

func (e *Engine) untested(ids []plugin.ID) []plugin.ID {
	out := make([]plugin.ID, 0, len(ids))
	for _, id := range ids {
		if !e.ledger.IsTested(id) {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) commitSafe(ctx context.Context, rec *TrialRecord, ids []plugin.ID) {
	added := e.ledger.MarkSafe(ids...)
	if len(added) == 0 {
		return
	}
	e.logger.Info().Str("trial_id", rec.ID).Strs("plugins", plugin.Strings(added)).Msg("Safe")
	e.observer.VerdictRecorded(ctx, Verdict{Kind: VerdictSafe, IDs: added, TrialID: rec.ID})
}

func (e *Engine) commitFailed(ctx context.Context, rec *TrialRecord, id plugin.ID) {
	if !e.ledger.MarkFailed(id) {
		return
	}
	e.logger.Warn().Str("trial_id", rec.ID).Str("plugin", id.Name()).Msg("Broken")
	e.observer.VerdictRecorded(ctx, Verdict{Kind: VerdictFailed, IDs: []plugin.ID{id}, TrialID: rec.ID})
}

// Probe runs one trial of order outside partitioning, with the pause
// protocol applied. It never touches the ledger.
func (e *Engine) Probe(ctx context.Context, kind TrialKind, order []plugin.ID) (oracle.Outcome, error) {
	rec, err := e.runTrial(ctx, kind, nil, order)
	if err != nil {
		return "", err
	}
	return rec.Outcome, nil
}

// Sanity boots the required and optional plugins alone.
func (e *Engine) Sanity(ctx context.Context) (oracle.Outcome, error) {
	return e.Probe(ctx, KindSanity, plugin.Normalize(e.opts.Required, e.opts.Optional, nil, nil))
}

// runTrial writes order, asks the oracle for an outcome and applies the
// pause protocol. It returns a record whose Outcome is Passed or Crashed,
// a transient ErrOrderWrite error, or an abort. A cancelled ctx is always
// an abort, never a skipped trial.
func (e *Engine) runTrial(ctx context.Context, kind TrialKind, batch, order []plugin.ID) (*TrialRecord, error) {
	for attempt := 1; ; attempt++ {
		rec := &TrialRecord{
			ID:        uuid.New().String(),
			Kind:      kind,
			Batch:     batch,
			Order:     order,
			Attempt:   attempt,
			StartedAt: time.Now(),
		}

		outcome, err := e.trialOnce(ctx, rec)
		if err != nil {
			return rec, err
		}
		if outcome != oracle.OutcomePaused {
			return rec, nil
		}

		if ctx.Err() != nil {
			return rec, NewAbortedError("session cancelled", ctx.Err()).WithOperation(string(kind))
		}
		choice, err := e.pause.OnPause(ctx, PauseInfo{Kind: kind, Batch: batch, Attempt: attempt})
		if err != nil {
			return rec, NewAbortedError("pause prompt failed", err).WithOperation(string(kind))
		}
		e.logger.Info().Str("choice", string(choice)).Str("kind", string(kind)).Msg("Pause resolved")
		if choice != PauseResume {
			return rec, &AbortError{Choice: choice}
		}
	}
}

func (e *Engine) trialOnce(ctx context.Context, rec *TrialRecord) (oracle.Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "trial.run", trace.WithAttributes(
		attribute.String("plugsift.trial_id", rec.ID),
		attribute.String("plugsift.kind", string(rec.Kind)),
		attribute.Int("plugsift.order_size", len(rec.Order)),
		attribute.Int("plugsift.attempt", rec.Attempt),
	))
	defer span.End()

	if e.opts.ShowOrder {
		e.logger.Debug().Str("trial_id", rec.ID).Strs("order", plugin.Strings(rec.Order)).Msg("Trial load order")
	}

	if err := ctx.Err(); err != nil {
		return "", NewAbortedError("session cancelled", err).WithOperation(string(rec.Kind))
	}
	if err := e.writer.WriteOrder(ctx, rec.Order); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			aerr := NewAbortedError("session cancelled", err).WithOperation(string(rec.Kind))
			span.RecordError(aerr)
			return "", aerr
		}
		werr := NewTransientError("failed to write trial order", err).WithCode(ErrCodeOrderWrite).
			WithOperation(string(rec.Kind))
		span.RecordError(werr)
		span.SetStatus(codes.Error, "order write failed")
		return "", werr
	}

	e.observer.TrialStarted(ctx, rec)
	e.trials++
	if rec.Kind == KindMega {
		e.megaAttempts++
	}

	outcome, err := e.oracle.Trial(ctx)
	if err != nil {
		e.logger.Error().Err(err).Str("trial_id", rec.ID).Msg("Launch failed, treating as crash")
		rec.Err = NewTransientError("launch failed", err).WithCode(ErrCodeLaunchFailed)
		span.RecordError(err)
		outcome = oracle.OutcomeCrashed
	}
	if verr := outcome.Validate(); verr != nil {
		e.logger.Error().Err(verr).Str("trial_id", rec.ID).Msg("Unexpected oracle result, treating as crash")
		outcome = oracle.OutcomeCrashed
	}

	rec.Outcome = outcome
	rec.Duration = time.Since(rec.StartedAt)
	span.SetAttributes(attribute.String("plugsift.outcome", string(outcome)))
	e.observer.TrialFinished(ctx, rec)
	return outcome, nil
}

func (e *Engine) result(d time.Duration) *Result {
	snap := e.ledger.Snapshot()
	res := &Result{
		Safe:         snap.Safe,
		Failed:       snap.Failed,
		Trials:       e.trials,
		MegaAttempts: e.megaAttempts,
		MegaPassed:   e.megaPassed,
		Duration:     d,
	}
	for _, id := range e.universe.Items() {
		if e.ledger.WasReverified(id) {
			res.Reverified = append(res.Reverified, id)
		}
	}
	if !e.megaPassed {
		res.Incomplete = e.untested(e.skipped.Items())
	}
	return res
}
