package history

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemLedger is an in-memory Ledger for tests and local single-node runs.
type MemLedger struct {
	mu   sync.Mutex
	runs map[string]Run
}

// NewMemLedger creates an empty ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{runs: make(map[string]Run)}
}

func (l *MemLedger) RecordStarted(_ context.Context, run Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range l.runs {
		if r.Type == run.Type && !r.Status.Terminal() {
			return fmt.Errorf("%s run %s is %s: %w", r.Type, r.MigrationID, r.Status, ErrActiveRun)
		}
	}

	run.Status = StatusStarted
	if run.WhenStarted.IsZero() {
		run.WhenStarted = time.Now()
	}
	l.runs[run.MigrationID] = run
	return nil
}

func (l *MemLedger) RecordCancelling(_ context.Context, migrationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, ok := l.runs[migrationID]
	if !ok {
		return fmt.Errorf("%s: %w", migrationID, ErrNotFound)
	}
	if run.Status != StatusStarted {
		return fmt.Errorf("%s is %s: %w", migrationID, run.Status, ErrBadTransition)
	}
	run.Status = StatusCancelling
	l.runs[migrationID] = run
	return nil
}

func (l *MemLedger) RecordCompleted(ctx context.Context, migrationID string, migrated, failed int64) error {
	return l.finalize(migrationID, StatusCompleted, migrated, failed)
}

func (l *MemLedger) RecordCancelled(ctx context.Context, migrationID string, migrated, failed int64) error {
	return l.finalize(migrationID, StatusCancelled, migrated, failed)
}

func (l *MemLedger) finalize(migrationID string, status Status, migrated, failed int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, ok := l.runs[migrationID]
	if !ok {
		return fmt.Errorf("%s: %w", migrationID, ErrNotFound)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%s is %s: %w", migrationID, run.Status, ErrBadTransition)
	}
	now := time.Now()
	run.Status = status
	run.RecordsMigrated = migrated
	run.RecordsFailed = failed
	run.WhenEnded = &now
	l.runs[migrationID] = run
	return nil
}

func (l *MemLedger) IsCancelling(_ context.Context, migrationID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, ok := l.runs[migrationID]
	if !ok {
		return false, fmt.Errorf("%s: %w", migrationID, ErrNotFound)
	}
	return run.Status == StatusCancelling, nil
}

func (l *MemLedger) Get(_ context.Context, migrationID string) (Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, ok := l.runs[migrationID]
	if !ok {
		return Run{}, fmt.Errorf("%s: %w", migrationID, ErrNotFound)
	}
	return run, nil
}

func (l *MemLedger) Active(_ context.Context, recordType string) (Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, run := range l.runs {
		if run.Type == recordType && !run.Status.Terminal() {
			return run, nil
		}
	}
	return Run{}, fmt.Errorf("no active %s run: %w", recordType, ErrNotFound)
}

func (l *MemLedger) List(_ context.Context, filter ListFilter) ([]Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Run
	for _, run := range l.runs {
		if filter.Type != "" && run.Type != filter.Type {
			continue
		}
		if filter.From != nil && run.WhenStarted.Before(*filter.From) {
			continue
		}
		if filter.To != nil && run.WhenStarted.After(*filter.To) {
			continue
		}
		if filter.OnlyFailures && run.RecordsFailed == 0 {
			continue
		}
		out = append(out, run)
	}

	slices.SortFunc(out, func(a, b Run) int {
		return b.WhenStarted.Compare(a.WhenStarted)
	})
	return out, nil
}
