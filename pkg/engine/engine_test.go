package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/plugsift/plugsift/pkg/ledger"
	"github.com/plugsift/plugsift/pkg/oracle"
	"github.com/plugsift/plugsift/pkg/orderfile"
	"github.com/plugsift/plugsift/pkg/plugin"
)

// fakeTarget is both the order writer and the oracle. The outcome of a
// trial is decided from the last written order.
type fakeTarget struct {
	mu       sync.Mutex
	orders   [][]string
	trials   int
	decide   func(order []string, trial int) (oracle.Outcome, error)
	writeErr func(order []string) error
}

func (f *fakeTarget) WriteOrder(ctx context.Context, ids []plugin.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	order := plugin.Strings(ids)
	if f.writeErr != nil {
		if err := f.writeErr(order); err != nil {
			return err
		}
	}
	f.orders = append(f.orders, order)
	return nil
}

func (f *fakeTarget) Trial(_ context.Context) (oracle.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trials++
	last := f.orders[len(f.orders)-1]
	if f.decide == nil {
		return oracle.OutcomePassed, nil
	}
	return f.decide(last, f.trials)
}

func (f *fakeTarget) writtenOrders() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.orders...)
}

func crashIfAny(culprits ...string) func([]string, int) (oracle.Outcome, error) {
	set := plugin.NewSet(plugin.Names(culprits...)...)
	return func(order []string, _ int) (oracle.Outcome, error) {
		for _, name := range order {
			if set.Contains(plugin.New(name)) {
				return oracle.OutcomeCrashed, nil
			}
		}
		return oracle.OutcomePassed, nil
	}
}

// recordingObserver keeps every notification.
type recordingObserver struct {
	mu       sync.Mutex
	started  []*TrialRecord
	finished []*TrialRecord
	verdicts []Verdict
}

func (r *recordingObserver) TrialStarted(_ context.Context, rec *TrialRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, rec)
}

func (r *recordingObserver) TrialFinished(_ context.Context, rec *TrialRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, rec)
}

func (r *recordingObserver) VerdictRecorded(_ context.Context, v Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts = append(r.verdicts, v)
}

func alwaysConfirm() ConfirmFunc {
	return func(context.Context, string) (bool, error) { return true, nil }
}

func newTestEngine(t *testing.T, opts Options, target *fakeTarget, deps Dependencies) *Engine {
	t.Helper()
	e, err := New(opts, target, target, ledger.New(), deps)
	require.NoError(t, err)
	return e
}

func names(n int) []plugin.ID {
	ids := make([]plugin.ID, n)
	for i := range ids {
		ids[i] = plugin.New(fmt.Sprintf("p%03d.esp", i))
	}
	return ids
}

func TestNew(t *testing.T) {
	target := &fakeTarget{}

	_, err := New(Options{BatchSize: 0}, target, target, ledger.New(), Dependencies{})
	assert.True(t, errors.Is(err, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeValidation}))

	_, err = New(Options{BatchSize: 5}, nil, target, ledger.New(), Dependencies{})
	assert.Error(t, err)

	e, err := New(Options{BatchSize: 5, Required: plugin.Names("a.esm", "A.ESM")}, target, target, ledger.New(), Dependencies{})
	require.NoError(t, err)
	assert.Len(t, e.opts.Required, 1)
}

func TestEngine_AlwaysPass(t *testing.T) {
	target := &fakeTarget{}
	e := newTestEngine(t, Options{BatchSize: 10, Turbo: true, Required: plugin.Names("Base.esm")}, target, Dependencies{})

	candidates := names(7)
	res, err := e.Run(context.Background(), candidates)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Trials)
	assert.Equal(t, plugin.Strings(candidates), plugin.Strings(res.Safe))
	assert.Empty(t, res.Failed)
	assert.Empty(t, res.Incomplete)
	assert.Equal(t, append([]string{"Base.esm"}, plugin.Strings(candidates)...), target.writtenOrders()[0])
}

func TestEngine_WorkedExample(t *testing.T) {
	target := &fakeTarget{decide: crashIfAny("C")}
	obs := &recordingObserver{}
	e := newTestEngine(t, Options{BatchSize: 10, Turbo: true}, target, Dependencies{
		Observer: obs,
		Confirm:  alwaysConfirm(),
	})

	res, err := e.Run(context.Background(), plugin.Names("A", "B", "C", "D"))
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"A", "B", "C", "D"}, // batch crashes
		{"A"},                // singleton passes
		{"A", "B"},           // singleton passes on top of A
		{"A", "B", "C"},      // singleton crashes, C failed
		{"A", "B", "D"},      // mega attempt passes
		{"A", "B", "D", "C"}, // re-verification still crashes
	}, target.writtenOrders())

	assert.Equal(t, []string{"A", "B", "D"}, plugin.Strings(res.Safe))
	assert.Equal(t, []string{"C"}, plugin.Strings(res.Failed))
	assert.True(t, res.MegaPassed)
	assert.Equal(t, 1, res.MegaAttempts)
	assert.Equal(t, 6, res.Trials)
	assert.Empty(t, res.Reverified)

	kinds := make([]TrialKind, 0, len(obs.finished))
	for _, rec := range obs.finished {
		kinds = append(kinds, rec.Kind)
	}
	assert.Equal(t, []TrialKind{KindBatch, KindSingleton, KindSingleton, KindSingleton, KindMega, KindVerify}, kinds)
}

func TestEngine_WithoutTurbo(t *testing.T) {
	target := &fakeTarget{decide: crashIfAny("C")}
	e := newTestEngine(t, Options{BatchSize: 10}, target, Dependencies{Confirm: alwaysConfirm()})

	res, err := e.Run(context.Background(), plugin.Names("A", "B", "C", "D"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "D"}, plugin.Strings(res.Safe))
	assert.Equal(t, []string{"C"}, plugin.Strings(res.Failed))
	assert.Equal(t, 5, res.Trials)
	assert.Zero(t, res.MegaAttempts)
}

func TestEngine_SubBatchSplitting(t *testing.T) {
	target := &fakeTarget{decide: crashIfAny("p012.esp")}
	e := newTestEngine(t, Options{BatchSize: 20}, target, Dependencies{})

	candidates := names(20)
	res, err := e.Run(context.Background(), candidates)
	require.NoError(t, err)

	assert.Equal(t, []string{"p012.esp"}, plugin.Strings(res.Failed))
	assert.Len(t, res.Safe, 19)

	// 20 crashes, split by 5: [0-4] pass, [5-9] pass, [10-14] crash split
	// by 2: [10,11] pass, [12,13] crash split by 1: 12 crash, 13 pass,
	// [14] pass, then [15-19] pass.
	orders := target.writtenOrders()
	require.Len(t, orders, 10)
	assert.Len(t, orders[1], 5)
	assert.Equal(t, "p012.esp", orders[6][len(orders[6])-1])
}

func TestEngine_PatchGroupRunsAfterMain(t *testing.T) {
	target := &fakeTarget{}
	e := newTestEngine(t, Options{BatchSize: 2}, target, Dependencies{})

	_, err := e.Run(context.Background(), plugin.Names("a", "b", "c"), plugin.Names("x patch", "a"))
	require.NoError(t, err)

	orders := target.writtenOrders()
	require.Len(t, orders, 3)
	assert.Equal(t, []string{"a", "b", "c", "x patch"}, orders[2])
}

func TestEngine_MegaBatch(t *testing.T) {
	target := &fakeTarget{decide: crashIfAny("p000.esp")}
	e := newTestEngine(t, Options{BatchSize: 10, Turbo: true}, target, Dependencies{})

	candidates := names(40)
	res, err := e.Run(context.Background(), candidates)
	require.NoError(t, err)

	assert.True(t, res.MegaPassed)
	assert.Equal(t, []string{"p000.esp"}, plugin.Strings(res.Failed))
	assert.Len(t, res.Safe, 39)

	// batch, sub [0-2], singleton p000, mega.
	assert.Equal(t, 4, res.Trials)
}

func TestEngine_MegaCrashContinues(t *testing.T) {
	target := &fakeTarget{decide: crashIfAny("p001.esp", "p015.esp")}
	e := newTestEngine(t, Options{BatchSize: 10, Turbo: true}, target, Dependencies{})

	res, err := e.Run(context.Background(), names(20))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"p001.esp", "p015.esp"}, plugin.Strings(res.Failed))
	assert.Len(t, res.Safe, 18)
	assert.True(t, res.MegaPassed, "second failure leaves a clean remainder")
	assert.Equal(t, 2, res.MegaAttempts)
}

func TestEngine_ReverifyConvergence(t *testing.T) {
	// C crashes only on its first two appearances.
	seen := 0
	target := &fakeTarget{decide: func(order []string, _ int) (oracle.Outcome, error) {
		for _, n := range order {
			if n == "C" {
				seen++
				if seen <= 2 {
					return oracle.OutcomeCrashed, nil
				}
			}
		}
		return oracle.OutcomePassed, nil
	}}
	obs := &recordingObserver{}
	confirms := 0
	e := newTestEngine(t, Options{BatchSize: 10, Turbo: true}, target, Dependencies{
		Observer: obs,
		Confirm: ConfirmFunc(func(context.Context, string) (bool, error) {
			confirms++
			return true, nil
		}),
	})

	res, err := e.Run(context.Background(), plugin.Names("A", "B", "C", "D"))
	require.NoError(t, err)

	assert.Equal(t, 1, confirms)
	assert.Equal(t, []string{"C"}, plugin.Strings(res.Reverified))
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{"A", "B", "D", "C"}, plugin.Strings(res.Safe))
	assert.True(t, e.Ledger().WasReverified(plugin.New("C")))

	verifies := 0
	for _, rec := range obs.finished {
		if rec.Kind == KindVerify {
			verifies++
		}
	}
	assert.Equal(t, 1, verifies)

	last := obs.verdicts[len(obs.verdicts)-1]
	assert.Equal(t, VerdictReverified, last.Kind)
}

func TestEngine_ReverifyDeclined(t *testing.T) {
	target := &fakeTarget{decide: crashIfAny("B")}
	e := newTestEngine(t, Options{BatchSize: 10, Turbo: true}, target, Dependencies{
		Confirm: ConfirmFunc(func(context.Context, string) (bool, error) { return false, nil }),
	})

	res, err := e.Run(context.Background(), plugin.Names("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, plugin.Strings(res.Failed))
	for _, o := range target.writtenOrders() {
		assert.NotEqual(t, []string{"A", "C", "B"}, o)
	}
}

func TestEngine_PauseResumeRetriesIdenticalOrder(t *testing.T) {
	target := &fakeTarget{}
	target.decide = func(order []string, trial int) (oracle.Outcome, error) {
		if trial == 3 {
			return oracle.OutcomePaused, nil
		}
		return crashIfAny("C")(order, trial)
	}

	var atPause ledger.Snapshot
	var beforePause ledger.Snapshot
	obs := &recordingObserver{}
	var e *Engine
	e = newTestEngine(t, Options{BatchSize: 10}, target, Dependencies{
		Observer: engineObserverFunc(func(rec *TrialRecord) {
			if len(obs.started) == 2 {
				beforePause = e.Ledger().Snapshot()
			}
			obs.started = append(obs.started, rec)
		}),
		Pause: PauseFunc(func(_ context.Context, info PauseInfo) (PauseChoice, error) {
			atPause = e.Ledger().Snapshot()
			assert.Equal(t, KindSingleton, info.Kind)
			assert.Equal(t, 1, info.Attempt)
			return PauseResume, nil
		}),
	})

	res, err := e.Run(context.Background(), plugin.Names("A", "B", "C", "D"))
	require.NoError(t, err)

	orders := target.writtenOrders()
	require.GreaterOrEqual(t, len(orders), 4)
	assert.Equal(t, orders[2], orders[3], "resume must retry the identical order")
	assert.Equal(t, beforePause, atPause, "a paused trial must not touch the ledger")
	assert.Equal(t, []string{"C"}, plugin.Strings(res.Failed))
	assert.Equal(t, 2, obs.started[3].Attempt)
}

func TestEngine_PauseQuitAborts(t *testing.T) {
	for _, choice := range []PauseChoice{PauseQuit, PauseRevert} {
		t.Run(string(choice), func(t *testing.T) {
			target := &fakeTarget{decide: func(order []string, trial int) (oracle.Outcome, error) {
				if trial == 2 {
					return oracle.OutcomePaused, nil
				}
				return crashIfAny("B")(order, trial)
			}}
			e := newTestEngine(t, Options{BatchSize: 10}, target, Dependencies{
				Pause: PauseFunc(func(context.Context, PauseInfo) (PauseChoice, error) { return choice, nil }),
			})

			res, err := e.Run(context.Background(), plugin.Names("A", "B", "C"))
			require.Error(t, err)
			assert.True(t, IsAborted(err))

			got, ok := AbortChoice(err)
			require.True(t, ok)
			assert.Equal(t, choice, got)

			assert.Empty(t, res.Safe)
			assert.Empty(t, res.Failed)
			assert.Equal(t, 2, res.Trials)
		})
	}
}

func TestEngine_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	target := &fakeTarget{decide: func([]string, int) (oracle.Outcome, error) {
		cancel()
		return oracle.OutcomePaused, nil
	}}
	e := newTestEngine(t, Options{BatchSize: 10}, target, Dependencies{
		Pause: PauseFunc(func(context.Context, PauseInfo) (PauseChoice, error) {
			t.Fatal("pause handler must not run after cancellation")
			return PauseQuit, nil
		}),
	})

	_, err := e.Run(ctx, plugin.Names("A"))
	assert.True(t, IsAborted(err))
	_, isOperator := AbortChoice(err)
	assert.False(t, isOperator)
}

func TestEngine_CancelBetweenTrialsAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	target := &fakeTarget{decide: func([]string, int) (oracle.Outcome, error) {
		// Cancelled while the target is being closed: the outcome is
		// still a real crash, but no further trial may be written.
		cancel()
		return oracle.OutcomeCrashed, nil
	}}
	e := newTestEngine(t, Options{BatchSize: 10}, target, Dependencies{})

	res, err := e.Run(ctx, names(10))
	require.Error(t, err)
	assert.True(t, IsAborted(err))
	assert.False(t, IsTransient(err))
	_, isOperator := AbortChoice(err)
	assert.False(t, isOperator)
	assert.Equal(t, 1, res.Trials)
	assert.Len(t, target.writtenOrders(), 1)
	assert.Empty(t, res.Failed)
}

func TestEngine_CancelWithOrderFileAborts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Plugins.txt")
	require.NoError(t, os.WriteFile(path, []byte("# header\nA.esp\n"), 0o644))
	file, _, err := orderfile.Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	trials := 0
	crashOnce := oracleFunc(func(context.Context) (oracle.Outcome, error) {
		trials++
		cancel()
		return oracle.OutcomeCrashed, nil
	})
	e, err := New(Options{BatchSize: 10}, crashOnce, file, ledger.New(), Dependencies{})
	require.NoError(t, err)

	res, err := e.Run(ctx, names(10))
	assert.True(t, IsAborted(err))
	assert.Equal(t, 1, trials)
	assert.Empty(t, res.Safe)
}

func TestEngine_CancelledWriteIsNotSkipped(t *testing.T) {
	target := &fakeTarget{writeErr: func([]string) error {
		return fmt.Errorf("rename order file: %w", context.DeadlineExceeded)
	}}
	e := newTestEngine(t, Options{BatchSize: 10}, target, Dependencies{})

	_, err := e.Run(context.Background(), plugin.Names("A", "B"))
	assert.True(t, IsAborted(err))
	assert.Zero(t, target.trials)
}

// oracleFunc adapts a function to Oracle.
type oracleFunc func(ctx context.Context) (oracle.Outcome, error)

func (f oracleFunc) Trial(ctx context.Context) (oracle.Outcome, error) { return f(ctx) }

func TestEngine_LaunchFailureIsCrash(t *testing.T) {
	target := &fakeTarget{decide: func(order []string, _ int) (oracle.Outcome, error) {
		if len(order) == 1 && order[0] == "B" {
			return oracle.OutcomeCrashed, &oracle.LaunchError{Path: "game.exe", Err: errors.New("boom")}
		}
		return crashIfAny("B")(order, 0)
	}}
	obs := &recordingObserver{}
	e := newTestEngine(t, Options{BatchSize: 10}, target, Dependencies{Observer: obs})

	res, err := e.Run(context.Background(), plugin.Names("B", "C"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, plugin.Strings(res.Failed))

	var launchErrs int
	for _, rec := range obs.finished {
		if rec.Err != nil {
			launchErrs++
		}
	}
	assert.Equal(t, 1, launchErrs)
}

func TestEngine_WriteFailureRevisit(t *testing.T) {
	failures := 0
	target := &fakeTarget{
		decide: crashIfAny("B"),
		writeErr: func(order []string) error {
			// The first write of C alone fails once.
			if len(order) == 2 && order[1] == "C" && failures == 0 {
				failures++
				return errors.New("disk full")
			}
			return nil
		},
	}
	e := newTestEngine(t, Options{BatchSize: 10}, target, Dependencies{})

	res, err := e.Run(context.Background(), plugin.Names("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, 1, failures)
	assert.Equal(t, []string{"A", "C"}, plugin.Strings(res.Safe))
	assert.Equal(t, []string{"B"}, plugin.Strings(res.Failed))
	assert.Empty(t, res.Incomplete)
}

func TestEngine_WriteFailureIncomplete(t *testing.T) {
	target := &fakeTarget{
		decide: crashIfAny("B"),
		writeErr: func(order []string) error {
			if order[len(order)-1] == "C" {
				return errors.New("read-only file system")
			}
			return nil
		},
	}
	e := newTestEngine(t, Options{BatchSize: 10}, target, Dependencies{})

	res, err := e.Run(context.Background(), plugin.Names("C", "A", "B"))
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, plugin.Strings(res.Incomplete))
	assert.Equal(t, []string{"A"}, plugin.Strings(res.Safe))
	assert.Equal(t, []string{"B"}, plugin.Strings(res.Failed))
}

func TestEngine_Sanity(t *testing.T) {
	target := &fakeTarget{decide: crashIfAny("Broken.esm")}
	e := newTestEngine(t, Options{
		BatchSize: 10,
		Required:  plugin.Names("Base.esm"),
		Optional:  plugin.Names("Broken.esm"),
	}, target, Dependencies{})

	got, err := e.Sanity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, oracle.OutcomeCrashed, got)
	assert.Equal(t, [][]string{{"Base.esm", "Broken.esm"}}, target.writtenOrders())
	assert.Zero(t, e.Ledger().Counts().Tested)
}

func TestEngine_SingleCulprit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 60).Draw(t, "n")
		culprit := rapid.IntRange(0, n-1).Draw(t, "culprit")
		batch := rapid.IntRange(1, 15).Draw(t, "batch")
		turbo := rapid.Bool().Draw(t, "turbo")

		candidates := names(n)
		target := &fakeTarget{decide: crashIfAny(candidates[culprit].Name())}
		e, err := New(Options{BatchSize: batch, Turbo: turbo}, target, target, ledger.New(), Dependencies{})
		if err != nil {
			t.Fatal(err)
		}

		res, err := e.Run(context.Background(), candidates)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Failed) != 1 || !res.Failed[0].Equal(candidates[culprit]) {
			t.Fatalf("failed = %v, want [%s]", res.Failed, candidates[culprit])
		}
		if len(res.Safe) != n-1 {
			t.Fatalf("safe has %d ids, want %d", len(res.Safe), n-1)
		}
		chunks := (n + batch - 1) / batch
		if bound := chunks + 2*batch + 2; res.Trials > bound {
			t.Fatalf("%d trials exceeds bound %d", res.Trials, bound)
		}
	})
}

func TestEngine_Conservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 80).Draw(t, "n")
		batch := rapid.IntRange(1, 25).Draw(t, "batch")
		turbo := rapid.Bool().Draw(t, "turbo")
		candidates := names(n)

		var culprits []string
		for _, id := range candidates {
			if rapid.IntRange(0, 9).Draw(t, "roll") == 0 {
				culprits = append(culprits, id.Name())
			}
		}

		target := &fakeTarget{decide: crashIfAny(culprits...)}
		e, err := New(Options{BatchSize: batch, Turbo: turbo}, target, target, ledger.New(), Dependencies{})
		if err != nil {
			t.Fatal(err)
		}
		res, err := e.Run(context.Background(), candidates)
		if err != nil {
			t.Fatal(err)
		}

		counts := e.Ledger().Counts()
		if counts.Safe+counts.Failed != counts.Tested || counts.Tested != n {
			t.Fatalf("counts %+v for %d candidates", counts, n)
		}
		if got, want := plugin.NewSet(res.Failed...), plugin.NewSet(plugin.Names(culprits...)...); got.Len() != want.Len() || len(got.Without(want)) != 0 {
			t.Fatalf("failed %v, want %v", res.Failed, culprits)
		}
		failed := plugin.NewSet(res.Failed...)
		for _, id := range res.Safe {
			if failed.Contains(id) {
				t.Fatalf("%s both safe and failed", id)
			}
		}
	})
}

type engineObserverFunc func(rec *TrialRecord)

func (f engineObserverFunc) TrialStarted(_ context.Context, rec *TrialRecord) { f(rec) }
func (engineObserverFunc) TrialFinished(context.Context, *TrialRecord)     {}
func (engineObserverFunc) VerdictRecorded(context.Context, Verdict)        {}
