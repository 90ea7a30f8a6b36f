package engine

import (
	"context"

	"github.com/plugsift/plugsift/pkg/oracle"
	"github.com/plugsift/plugsift/pkg/plugin"
)

// Oracle runs a single trial against whatever order was last written.
type Oracle interface {
	// Trial launches the target and classifies the run. A non-nil error is
	// a launch failure and accompanies OutcomeCrashed.
	Trial(ctx context.Context) (oracle.Outcome, error)
}

// OrderWriter persists a trial load order.
type OrderWriter interface {
	WriteOrder(ctx context.Context, ids []plugin.ID) error
}

// PauseHandler decides what happens after a paused trial.
type PauseHandler interface {
	OnPause(ctx context.Context, info PauseInfo) (PauseChoice, error)
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Observer receives trial and verdict notifications. Calls happen on the
// engine goroutine and must not block for long.
type Observer interface {
	TrialStarted(ctx context.Context, rec *TrialRecord)
	TrialFinished(ctx context.Context, rec *TrialRecord)
	VerdictRecorded(ctx context.Context, v Verdict)
}

// NopObserver ignores every notification.
type NopObserver struct{}

// TrialStarted implements Observer.
func (NopObserver) TrialStarted(context.Context, *TrialRecord) {}

// TrialFinished implements Observer.
func (NopObserver) TrialFinished(context.Context, *TrialRecord) {}

// VerdictRecorded implements Observer.
func (NopObserver) VerdictRecorded(context.Context, Verdict) {}

// PauseFunc adapts a function to PauseHandler.
type PauseFunc func(ctx context.Context, info PauseInfo) (PauseChoice, error)

// OnPause implements PauseHandler.
func (f PauseFunc) OnPause(ctx context.Context, info PauseInfo) (PauseChoice, error) {
	return f(ctx, info)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, question string) (bool, error)

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, question string) (bool, error) {
	return f(ctx, question)
}
