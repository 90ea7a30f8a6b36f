// Package engine isolates crashing plugins by repeated black-box trials.
//
// # Overview
//
// Each trial writes a load order to the target's order file, launches the
// target and waits to see whether it dies before a timeout. The engine
// partitions the candidates adaptively:
//
//  1. Batch - a chunk of BatchSize candidates is tried on top of the
//     current baseline
//  2. SubBatch - a crashed batch is split into chunks of StepSize(n)
//  3. Singleton - a crashed chunk of one candidate marks it Failed
//  4. MegaAttempt - with turbo enabled, every confirmed failure is followed
//     by one trial of all untested candidates at once
//
// Every trial order is built by plugin.Normalize(required, optional, safe,
// batch), so ids confirmed Safe by earlier chunks are carried into every
// later trial.
//
// # Outcomes
//
// The oracle reports Passed, Crashed or Paused. Paused carries no verdict:
// the ledger is left untouched and the PauseHandler decides whether to
// retry the identical partition or abort. Aborts surface as *AbortError
// and match ErrAborted with errors.Is.
//
// # Re-verification
//
// With turbo enabled and at least one failure, the Confirmer is asked
// whether each Failed id should be retried alone. A passing retry moves
// the id to Safe through ledger.Reverify, at most once per id.
//
// # Errors
//
// Errors are classified EngineError values:
//
//   - Transient: a single trial could not run (order write failure)
//   - Permanent: the session cannot start (missing target, baseline crash)
//   - Aborted: the operator or the caller stopped the session
package engine
