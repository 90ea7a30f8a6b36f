package engine

import (
	"fmt"
	"time"

	"github.com/plugsift/plugsift/pkg/oracle"
	"github.com/plugsift/plugsift/pkg/plugin"
)

// TrialKind names the purpose of a trial.
type TrialKind string

const (
	// KindBatch is the first trial of a top-level chunk.
	KindBatch TrialKind = "batch"

	// KindSubBatch is a trial of a chunk split from a crashed batch.
	KindSubBatch TrialKind = "sub_batch"

	// KindSingleton is a trial of exactly one candidate.
	KindSingleton TrialKind = "singleton"

	// KindMega tries every untested candidate at once.
	KindMega TrialKind = "mega"

	// KindVerify retries a Failed candidate alone.
	KindVerify TrialKind = "verify"

	// KindSanity boots the required and optional plugins only.
	KindSanity TrialKind = "sanity"
)

// Validate checks that the kind is a known value.
func (k TrialKind) Validate() error {
	switch k {
	case KindBatch, KindSubBatch, KindSingleton, KindMega, KindVerify, KindSanity:
		return nil
	default:
		return fmt.Errorf("invalid trial kind: %s", k)
	}
}

// IsIsolation reports whether trials of this kind produce verdicts during
// partitioning.
func (k TrialKind) IsIsolation() bool {
	return k == KindBatch || k == KindSubBatch || k == KindSingleton
}

// PauseChoice is the operator's answer to a paused trial.
type PauseChoice string

const (
	// PauseResume retries the identical partition.
	PauseResume PauseChoice = "resume"

	// PauseRevert aborts and restores the original order file.
	PauseRevert PauseChoice = "revert"

	// PauseQuit aborts and leaves the order file as it is.
	PauseQuit PauseChoice = "quit"
)

// Validate checks that the choice is a known value.
func (c PauseChoice) Validate() error {
	switch c {
	case PauseResume, PauseRevert, PauseQuit:
		return nil
	default:
		return fmt.Errorf("invalid pause choice: %s", c)
	}
}

// VerdictKind labels a ledger change.
type VerdictKind string

const (
	// VerdictSafe means the ids passed and were committed to Safe.
	VerdictSafe VerdictKind = "safe"

	// VerdictFailed means the id crashed alone.
	VerdictFailed VerdictKind = "failed"

	// VerdictReverified means a Failed id passed its retry.
	VerdictReverified VerdictKind = "reverified"
)

// TrialRecord describes one launch-wait-terminate cycle.
type TrialRecord struct {
	// ID is the unique identifier of the trial.
	ID string `json:"id"`

	// Kind is the purpose of the trial.
	Kind TrialKind `json:"kind"`

	// Batch is the set of candidates under test.
	Batch []plugin.ID `json:"-"`

	// Order is the full load order written for the trial.
	Order []plugin.ID `json:"-"`

	// Attempt counts retries of the same partition after a pause, from 1.
	Attempt int `json:"attempt"`

	// Outcome is set once the trial finished.
	Outcome oracle.Outcome `json:"outcome,omitempty"`

	// Err is the launch or write error, if any.
	Err error `json:"-"`

	// StartedAt is when the order was written.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall time of the trial.
	Duration time.Duration `json:"duration"`
}

// Verdict is a change committed to the ledger.
type Verdict struct {
	// Kind is the verdict type.
	Kind VerdictKind `json:"kind"`

	// IDs are the affected candidates in commit order.
	IDs []plugin.ID `json:"-"`

	// TrialID is the trial that produced the verdict.
	TrialID string `json:"trial_id"`
}

// PauseInfo is passed to the PauseHandler.
type PauseInfo struct {
	// Kind is the paused trial's kind.
	Kind TrialKind

	// Batch is the partition that will be retried on resume.
	Batch []plugin.ID

	// Attempt is the attempt that was paused.
	Attempt int
}

// Options configures an Engine. It is copied at construction.
type Options struct {
	// Required plugins lead every trial order.
	Required []plugin.ID

	// Optional plugins follow Required in every trial order.
	Optional []plugin.ID

	// BatchSize is the size of top-level chunks.
	BatchSize int

	// Turbo enables mega attempts and the re-verification post-pass.
	Turbo bool

	// ShowOrder logs every trial order at debug level.
	ShowOrder bool
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.BatchSize < 1 {
		return NewPermanentError(fmt.Sprintf("batch size must be at least 1, got %d", o.BatchSize), nil).
			WithCode(ErrCodeValidation)
	}
	return nil
}

// Result summarises an engine run.
type Result struct {
	// Safe ids in commit order.
	Safe []plugin.ID

	// Failed ids in commit order.
	Failed []plugin.ID

	// Reverified ids moved from Failed to Safe by the post-pass.
	Reverified []plugin.ID

	// Incomplete ids were never classified because their trials could not
	// be written.
	Incomplete []plugin.ID

	// Trials is the number of trials that reached the oracle.
	Trials int

	// MegaAttempts is the number of mega trials.
	MegaAttempts int

	// MegaPassed is true when a mega trial ended isolation early.
	MegaPassed bool

	// Duration is the wall time of the run.
	Duration time.Duration
}
