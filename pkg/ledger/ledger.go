// Package ledger records trial verdicts for a single isolation session.
//
// Every candidate ends in at most one of Safe or Failed. The first verdict
// wins; the only migration is Reverify, which moves a Failed id to Safe
// once.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/plugsift/plugsift/pkg/plugin"
)

var (
	// ErrNotFailed is returned by Reverify for an id that is not Failed.
	ErrNotFailed = errors.New("plugin is not marked failed")

	// ErrAlreadyReverified is returned by Reverify for an id that was
	// already migrated once.
	ErrAlreadyReverified = errors.New("plugin was already re-verified")
)

// Counts summarises a ledger.
type Counts struct {
	Safe   int `json:"safe"`
	Failed int `json:"failed"`
	Tested int `json:"tested"`
}

// Snapshot is an immutable copy of the ledger contents.
type Snapshot struct {
	Safe   []plugin.ID
	Failed []plugin.ID
}

// Counts returns the sizes of the snapshot.
func (s Snapshot) Counts() Counts {
	return Counts{Safe: len(s.Safe), Failed: len(s.Failed), Tested: len(s.Safe) + len(s.Failed)}
}

// Ledger holds Safe and Failed verdicts. It is safe for concurrent use.
type Ledger struct {
	mu         sync.RWMutex
	safe       *plugin.Set
	failed     *plugin.Set
	reverified *plugin.Set
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		safe:       plugin.NewSet(),
		failed:     plugin.NewSet(),
		reverified: plugin.NewSet(),
	}
}

// MarkSafe records ids as Safe in the given order. Ids that already have a
// verdict are left alone. It returns the ids that were newly added.
func (l *Ledger) MarkSafe(ids ...plugin.ID) []plugin.ID {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := make([]plugin.ID, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() || l.testedLocked(id) {
			continue
		}
		l.safe.Add(id)
		added = append(added, id)
	}
	return added
}

// MarkFailed records id as Failed and reports whether it was newly added.
func (l *Ledger) MarkFailed(id plugin.ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id.IsZero() || l.testedLocked(id) {
		return false
	}
	l.failed.Add(id)
	return true
}

// Reverify moves a Failed id to Safe. It succeeds at most once per id.
func (l *Ledger) Reverify(id plugin.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reverified.Contains(id) {
		return fmt.Errorf("%s: %w", id, ErrAlreadyReverified)
	}
	if !l.failed.Contains(id) {
		return fmt.Errorf("%s: %w", id, ErrNotFailed)
	}
	l.failed.Remove(id)
	l.safe.Add(id)
	l.reverified.Add(id)
	return nil
}

// IsTested reports whether id has a verdict.
func (l *Ledger) IsTested(id plugin.ID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.testedLocked(id)
}

// IsFailed reports whether id is currently Failed.
func (l *Ledger) IsFailed(id plugin.ID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failed.Contains(id)
}

// WasReverified reports whether id migrated from Failed to Safe.
func (l *Ledger) WasReverified(id plugin.ID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reverified.Contains(id)
}

func (l *Ledger) testedLocked(id plugin.ID) bool {
	return l.safe.Contains(id) || l.failed.Contains(id)
}

// Safe returns the Safe ids in commit order.
func (l *Ledger) Safe() []plugin.ID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.safe.Items()
}

// Failed returns the Failed ids in commit order.
func (l *Ledger) Failed() []plugin.ID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failed.Items()
}

// Tested returns Safe followed by Failed.
func (l *Ledger) Tested() []plugin.ID {
	snap := l.Snapshot()
	return append(snap.Safe, snap.Failed...)
}

// Snapshot copies both sets under one lock.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{Safe: l.safe.Items(), Failed: l.failed.Items()}
}

// Counts returns the current set sizes.
func (l *Ledger) Counts() Counts {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, f := l.safe.Len(), l.failed.Len()
	return Counts{Safe: s, Failed: f, Tested: s + f}
}

// SafeIn returns the Safe ids ordered by their position in order. Safe ids
// missing from order are appended in commit order.
func (l *Ledger) SafeIn(order []plugin.ID) []plugin.ID {
	safe := plugin.NewSet(l.Safe()...)
	out := make([]plugin.ID, 0, safe.Len())
	for _, id := range plugin.Dedupe(order) {
		if safe.Contains(id) {
			out = append(out, id)
			safe.Remove(id)
		}
	}
	return append(out, safe.Items()...)
}
