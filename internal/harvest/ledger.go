package harvest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/JakeFAU/journal-harvester/internal/storage/local"
)

// RecordState is the lifecycle position of one identifier within a set pass.
type RecordState int

// Record states.
const (
	StatePending RecordState = iota
	StateInProgress
	StateCompleted
	StateRequeued
	StateFailed
	StateSkipped
)

func (s RecordState) String() string {
	return [...]string{"pending", "in_progress", "completed", "requeued", "failed", "skipped"}[s]
}

// ManifestSuffix ends the name of every remaining-ids manifest.
const ManifestSuffix = "_remaining_record_ids.txt"

// Ledger tracks one set pass: which identifiers are still to do, how often
// each has failed and which were given up on. The manifest of remaining
// identifiers is rewritten after every completion so an interrupted run can be
// resumed with --ids-file.
type Ledger struct {
	store       *local.Store
	manifest    string
	maxAttempts int

	mu        sync.Mutex
	remaining []string
	attempts  map[string]int
	states    map[string]RecordState
	failed    []string
	skipped   []string
}

// NewLedger builds a ledger whose manifest lives in store.
func NewLedger(store *local.Store, setFolder string, maxAttempts int) *Ledger {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Ledger{
		store:       store,
		manifest:    setFolder + ManifestSuffix,
		maxAttempts: maxAttempts,
		attempts:    make(map[string]int),
		states:      make(map[string]RecordState),
	}
}

// ManifestName returns the manifest file name relative to the store.
func (l *Ledger) ManifestName() string {
	return l.manifest
}

// Begin records the full identifier list of the pass.
func (l *Ledger) Begin(ctx context.Context, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remaining = slices.Clone(ids)
	for _, id := range ids {
		l.states[id] = StatePending
	}
	return l.persistLocked(ctx)
}

// Start marks id as being worked on.
func (l *Ledger) Start(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[id] = StateInProgress
}

// Complete drops one occurrence of id from the manifest.
func (l *Ledger) Complete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[id] = StateCompleted
	if i := slices.Index(l.remaining, id); i >= 0 {
		l.remaining = slices.Delete(l.remaining, i, i+1)
	}
	return l.persistLocked(ctx)
}

// Retry counts a failed attempt of id. It returns the attempt number and
// whether id has now failed more often than allowed.
func (l *Ledger) Retry(id string) (attempt int, failed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[id]++
	attempt = l.attempts[id]
	if attempt > l.maxAttempts {
		l.states[id] = StateFailed
		l.failed = append(l.failed, id)
		return attempt, true
	}
	l.states[id] = StateRequeued
	return attempt, false
}

// Skip records a record fault that retrying cannot fix.
func (l *Ledger) Skip(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[id] = StateSkipped
	l.skipped = append(l.skipped, id)
}

// State returns the current state of id.
func (l *Ledger) State(id string) RecordState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[id]
}

// Remaining returns the identifiers not yet completed.
func (l *Ledger) Remaining() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.remaining)
}

// Failed returns identifiers given up on after repeated faults.
func (l *Ledger) Failed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.failed)
}

// Skipped returns identifiers dropped for non-retryable faults.
func (l *Ledger) Skipped() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.skipped)
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	if len(l.remaining) == 0 {
		if err := l.store.Remove(l.manifest); err != nil {
			return fmt.Errorf("remove manifest: %w", err)
		}
		return nil
	}
	if _, err := l.store.WriteFile(ctx, l.manifest, []byte(strings.Join(l.remaining, "\n")+"\n")); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
