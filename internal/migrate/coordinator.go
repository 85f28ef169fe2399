package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/justiceops/recordsync/internal/gateway"
	"github.com/justiceops/recordsync/internal/history"
	"github.com/justiceops/recordsync/internal/mapping"
	"github.com/justiceops/recordsync/internal/queue"
	"github.com/justiceops/recordsync/internal/telemetry"
)

// Tuning holds the coordinator's completion-detection knobs.
type Tuning struct {
	// PageSize is how many records ride on one MIGRATE_BY_PAGE message.
	PageSize int
	// CheckDelay spaces status checks while the queue still has messages.
	CheckDelay time.Duration
	// QuietDelay spaces the debounce rounds once the queue looks empty.
	QuietDelay time.Duration
	// QuietRounds is how many consecutive empty reads finalize the run.
	QuietRounds int
}

// DefaultTuning matches production settings.
var DefaultTuning = Tuning{
	PageSize:    1000,
	CheckDelay:  10 * time.Second,
	QuietDelay:  time.Second,
	QuietRounds: 9,
}

// Coordinator owns the lifecycle of bulk-migration runs for one record type:
// starting, dividing into pages, fanning out entities, detecting completion
// and cancelling.
type Coordinator struct {
	recordType string
	migrator   *Migrator
	source     gateway.Source
	store      mapping.Store
	ledger     history.Ledger
	queue      queue.Queue
	tracker    telemetry.Tracker
	logger     *slog.Logger
	tuning     Tuning

	// now is stubbed in tests.
	now func() time.Time
}

// NewCoordinator wires a coordinator for one record type.
func NewCoordinator(
	recordType string,
	migrator *Migrator,
	source gateway.Source,
	store mapping.Store,
	ledger history.Ledger,
	q queue.Queue,
	tracker telemetry.Tracker,
	logger *slog.Logger,
	tuning Tuning,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = telemetry.NopTracker{}
	}
	if tuning.PageSize <= 0 {
		tuning.PageSize = DefaultTuning.PageSize
	}
	if tuning.QuietRounds <= 0 {
		tuning.QuietRounds = DefaultTuning.QuietRounds
	}
	return &Coordinator{
		recordType: recordType,
		migrator:   migrator,
		source:     source,
		store:      store,
		ledger:     ledger,
		queue:      q,
		tracker:    tracker,
		logger:     logger,
		tuning:     tuning,
		now:        time.Now,
	}
}

// Start begins a new migration run: estimate, ledger row, DIVIDE message.
// Exactly one run per record type may be active; a second start is rejected
// with history.ErrActiveRun.
func (c *Coordinator) Start(ctx context.Context, filter gateway.Filter) (history.Run, error) {
	estimate, err := c.source.Count(ctx, filter)
	if err != nil {
		return history.Run{}, fmt.Errorf("estimate count: %w", err)
	}

	run := history.Run{
		MigrationID:    c.now().UTC().Format("2006-01-02T15:04:05") + "-" + c.recordType,
		Type:           c.recordType,
		Filter:         filter,
		Status:         history.StatusStarted,
		EstimatedCount: estimate,
		WhenStarted:    c.now(),
	}
	if err := c.ledger.RecordStarted(ctx, run); err != nil {
		return history.Run{}, err
	}

	msg, err := queue.NewMessage(queue.KindDivide, c.recordType, DividePayload{
		MigrationID:    run.MigrationID,
		Filter:         filter,
		EstimatedCount: estimate,
	})
	if err != nil {
		return history.Run{}, fmt.Errorf("marshal divide: %w", err)
	}
	if err := c.queue.Send(ctx, msg, 0); err != nil {
		return history.Run{}, fmt.Errorf("send divide: %w", err)
	}

	c.logger.Info("migration started",
		"type", c.recordType, "migration_id", run.MigrationID, "estimate", estimate)
	c.tracker.TrackEvent(EventMigrationStarted, map[string]string{
		"type":           c.recordType,
		"migrationId":    run.MigrationID,
		"estimatedCount": strconv.FormatInt(estimate, 10),
		"filter":         filter.String(),
	})
	return run, nil
}

// Cancel requests cooperative cancellation of a run. In-flight handlers
// finish; page handlers stop fanning out once they observe the new status.
func (c *Coordinator) Cancel(ctx context.Context, migrationID string) error {
	if err := c.ledger.RecordCancelling(ctx, migrationID); err != nil {
		return err
	}

	msg, err := queue.NewMessage(queue.KindCancelCheck, c.recordType, StatusCheckPayload{
		MigrationID: migrationID,
	})
	if err != nil {
		return fmt.Errorf("marshal cancel check: %w", err)
	}
	if err := c.queue.Send(ctx, msg, 0); err != nil {
		return fmt.Errorf("send cancel check: %w", err)
	}

	c.tracker.TrackEvent(EventMigrationCancelReq, map[string]string{
		"type":        c.recordType,
		"migrationId": migrationID,
	})
	return nil
}

// Remigrate re-runs the migration path for one aggregate, the operator
// repair action.
func (c *Coordinator) Remigrate(ctx context.Context, sourceID string, deleteFirst bool) (Outcome, error) {
	return c.migrator.Remigrate(ctx, sourceID, deleteFirst)
}

// HandleDivide splits the estimated count into pages and seeds the status
// check.
func (c *Coordinator) HandleDivide(ctx context.Context, d queue.Delivery) queue.Result {
	var p DividePayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		c.logger.Error("bad divide payload", "error", err)
		return queue.Fail
	}

	pages := int((p.EstimatedCount + int64(c.tuning.PageSize) - 1) / int64(c.tuning.PageSize))
	for pageNumber := 0; pageNumber < pages; pageNumber++ {
		msg, err := queue.NewMessage(queue.KindMigratePage, c.recordType, PagePayload{
			MigrationID: p.MigrationID,
			Filter:      p.Filter,
			PageNumber:  pageNumber,
			PageSize:    c.tuning.PageSize,
		})
		if err != nil {
			c.logger.Error("marshal page", "error", err)
			return queue.Fail
		}
		if err := c.queue.Send(ctx, msg, 0); err != nil {
			c.logger.Error("send page", "page", pageNumber, "error", err)
			return queue.Retry
		}
	}

	check, err := queue.NewMessage(queue.KindStatusCheck, c.recordType, StatusCheckPayload{
		MigrationID: p.MigrationID,
	})
	if err != nil {
		c.logger.Error("marshal status check", "error", err)
		return queue.Fail
	}
	if err := c.queue.Send(ctx, check, c.tuning.CheckDelay); err != nil {
		c.logger.Error("send status check", "error", err)
		return queue.Retry
	}

	c.logger.Info("divided migration into pages",
		"type", c.recordType, "migration_id", p.MigrationID, "pages", pages)
	return queue.Success
}

// HandlePage enumerates one page and fans out one MIGRATE_ENTITY per id. The
// run status is re-read from the ledger, never cached, so cancellation takes
// effect promptly between pages.
func (c *Coordinator) HandlePage(ctx context.Context, d queue.Delivery) queue.Result {
	var p PagePayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		c.logger.Error("bad page payload", "error", err)
		return queue.Fail
	}

	run, err := c.ledger.Get(ctx, p.MigrationID)
	if err != nil {
		c.logger.Error("read run status", "migration_id", p.MigrationID, "error", err)
		return queue.Retry
	}
	if run.Status != history.StatusStarted {
		c.tracker.TrackEvent(EventPageSkipped, map[string]string{
			"type":        c.recordType,
			"migrationId": p.MigrationID,
			"pageNumber":  strconv.Itoa(p.PageNumber),
			"status":      string(run.Status),
		})
		return queue.Success
	}

	ids, err := c.source.ListIDs(ctx, p.Filter, p.PageNumber, p.PageSize)
	if err != nil {
		c.logger.Error("list page ids", "page", p.PageNumber, "error", err)
		return queue.Retry
	}

	for _, id := range ids {
		msg, err := queue.NewMessage(queue.KindMigrateEntity, c.recordType, EntityPayload{
			MigrationID: p.MigrationID,
			SourceID:    id,
		})
		if err != nil {
			c.logger.Error("marshal entity", "source_id", id, "error", err)
			return queue.Fail
		}
		if err := c.queue.Send(ctx, msg, 0); err != nil {
			c.logger.Error("send entity", "source_id", id, "error", err)
			return queue.Retry
		}
	}
	return queue.Success
}

// HandleEntity migrates a single record.
func (c *Coordinator) HandleEntity(ctx context.Context, d queue.Delivery) queue.Result {
	var p EntityPayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		c.logger.Error("bad entity payload", "error", err)
		return queue.Fail
	}

	outcome, err := c.migrator.MigrateOne(ctx, p.SourceID, p.MigrationID, mapping.Migrated)
	if err != nil {
		c.logger.Warn("entity migration failed, will redeliver",
			"type", c.recordType, "source_id", p.SourceID, "error", err)
		return queue.Retry
	}
	if outcome == OutcomeSourceGone {
		return queue.Fail
	}
	return queue.Success
}

// HandleRetryMapping retries only the mapping write.
func (c *Coordinator) HandleRetryMapping(ctx context.Context, d queue.Delivery) queue.Result {
	var p RetryMappingPayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		c.logger.Error("bad retry-mapping payload", "error", err)
		return queue.Fail
	}

	if _, err := c.migrator.RetryMapping(ctx, p); err != nil {
		c.logger.Warn("mapping retry failed, will redeliver",
			"source_id", p.SourceID, "target_id", p.TargetID, "error", err)
		return queue.Retry
	}
	return queue.Success
}

// HandleStatusCheck is the completion-detection state machine. The queue
// depth read is approximate and racy, so an empty queue must be observed for
// QuietRounds consecutive checks before the run finalizes.
func (c *Coordinator) HandleStatusCheck(ctx context.Context, d queue.Delivery) queue.Result {
	return c.statusCheck(ctx, d, false)
}

// HandleCancelCheck mirrors the status check for cancelling runs, purging
// whatever work is still queued before finalizing.
func (c *Coordinator) HandleCancelCheck(ctx context.Context, d queue.Delivery) queue.Result {
	return c.statusCheck(ctx, d, true)
}

func (c *Coordinator) statusCheck(ctx context.Context, d queue.Delivery, cancelling bool) queue.Result {
	var p StatusCheckPayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		c.logger.Error("bad status-check payload", "error", err)
		return queue.Fail
	}

	kind := queue.KindStatusCheck
	if cancelling {
		kind = queue.KindCancelCheck

		// Stop feeding workers before counting what is left.
		if err := c.queue.Purge(ctx); err != nil {
			c.logger.Error("purge queue", "error", err)
			return queue.Retry
		}
	} else {
		run, err := c.ledger.Get(ctx, p.MigrationID)
		if err != nil {
			c.logger.Error("read run status", "migration_id", p.MigrationID, "error", err)
			return queue.Retry
		}
		if run.Status != history.StatusStarted {
			// A cancel check owns finalization now, or the run already
			// finished.
			return queue.Success
		}
	}

	depth, err := c.queue.ApproximateDepth(ctx)
	if err != nil {
		c.logger.Error("queue depth", "error", err)
		return queue.Retry
	}

	if depth > 0 {
		// Still draining: start the debounce over.
		return c.requeueCheck(ctx, kind, p.MigrationID, 0, c.tuning.CheckDelay)
	}

	p.CheckCount++
	if p.CheckCount < c.tuning.QuietRounds {
		return c.requeueCheck(ctx, kind, p.MigrationID, p.CheckCount, c.tuning.QuietDelay)
	}

	return c.finalize(ctx, p.MigrationID, cancelling)
}

func (c *Coordinator) requeueCheck(ctx context.Context, kind queue.Kind, migrationID string, checkCount int, delay time.Duration) queue.Result {
	msg, err := queue.NewMessage(kind, c.recordType, StatusCheckPayload{
		MigrationID: migrationID,
		CheckCount:  checkCount,
	})
	if err != nil {
		c.logger.Error("marshal status check", "error", err)
		return queue.Fail
	}
	if err := c.queue.Send(ctx, msg, delay); err != nil {
		c.logger.Error("requeue status check", "error", err)
		return queue.Retry
	}
	return queue.Success
}

func (c *Coordinator) finalize(ctx context.Context, migrationID string, cancelled bool) queue.Result {
	failed, err := c.queue.DLQDepth(ctx)
	if err != nil {
		c.logger.Error("dlq depth", "error", err)
		return queue.Retry
	}
	migrated, err := c.store.CountByLabel(ctx, migrationID)
	if err != nil {
		c.logger.Error("count migrated", "migration_id", migrationID, "error", err)
		return queue.Retry
	}

	run, err := c.ledger.Get(ctx, migrationID)
	if err != nil {
		c.logger.Error("read run", "migration_id", migrationID, "error", err)
		return queue.Retry
	}

	event := EventMigrationCompleted
	if cancelled {
		err = c.ledger.RecordCancelled(ctx, migrationID, migrated, failed)
		event = EventMigrationCancelled
	} else {
		err = c.ledger.RecordCompleted(ctx, migrationID, migrated, failed)
	}
	if err != nil {
		if errors.Is(err, history.ErrBadTransition) {
			// Another detector instance finalized first.
			return queue.Success
		}
		c.logger.Error("finalize run", "migration_id", migrationID, "error", err)
		return queue.Retry
	}

	c.logger.Info("migration finished",
		"type", c.recordType,
		"migration_id", migrationID,
		"migrated", migrated,
		"failed", failed,
		"cancelled", cancelled)
	c.tracker.TrackEvent(event, map[string]string{
		"type":            c.recordType,
		"migrationId":     migrationID,
		"recordsMigrated": strconv.FormatInt(migrated, 10),
		"recordsFailed":   strconv.FormatInt(failed, 10),
		"durationSeconds": strconv.FormatInt(int64(c.now().Sub(run.WhenStarted)/time.Second), 10),
	})
	return queue.Success
}
