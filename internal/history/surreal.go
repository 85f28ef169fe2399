package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/justiceops/recordsync/internal/gateway"
)

// Config holds SurrealDB connection configuration for the ledger.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// SurrealLedger is the production Ledger backed by SurrealDB over an
// auto-reconnecting WebSocket.
type SurrealLedger struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	logger logger.Logger
}

// runRow is the migration_run table shape.
type runRow struct {
	MigrationID     string         `json:"migration_id"`
	RecordType      string         `json:"record_type"`
	Filter          map[string]any `json:"filter,omitempty"`
	Status          Status         `json:"status"`
	EstimatedCount  int64          `json:"estimated_count"`
	RecordsMigrated int64          `json:"records_migrated"`
	RecordsFailed   int64          `json:"records_failed"`
	WhenStarted     time.Time      `json:"when_started"`
	WhenEnded       *time.Time     `json:"when_ended,omitempty"`
}

// NewSurrealLedger connects, authenticates and initializes the schema.
func NewSurrealLedger(ctx context.Context, cfg Config, log *slog.Logger) (*SurrealLedger, error) {
	var sdkLogger logger.Logger
	if log != nil {
		sdkLogger = logger.New(log.Handler())
	} else {
		sdkLogger = logger.New(slog.Default().Handler())
	}

	// surrealcbor handles SurrealDB's custom CBOR tags
	codec := surrealcbor.New()

	// gorillaws requires the base URL without the /rpc suffix
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			ws := gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			})
			return ws, nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	if cfg.AuthLevel == "database" {
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Namespace: cfg.Namespace,
			Database:  cfg.Database,
			Username:  cfg.Username,
			Password:  cfg.Password,
		})
	} else {
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use: %w", err)
	}

	l := &SurrealLedger{conn: conn, db: db, logger: sdkLogger}
	if err := l.initSchema(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return l, nil
}

// Close closes the SurrealDB connection.
func (l *SurrealLedger) Close(ctx context.Context) error {
	l.logger.Info("closing SurrealDB connection")
	return l.conn.Close(ctx)
}

func (l *SurrealLedger) initSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, l.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (l *SurrealLedger) RecordStarted(ctx context.Context, run Run) error {
	if run.WhenStarted.IsZero() {
		run.WhenStarted = time.Now()
	}

	// Check-then-create: the operator API is the only writer of new runs, so
	// the race window is acceptable for an audit ledger.
	active, err := l.activeRows(ctx, run.Type)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return fmt.Errorf("%s run %s is %s: %w", run.Type, active[0].MigrationID, active[0].Status, ErrActiveRun)
	}

	_, err = surrealdb.Query[any](ctx, l.db, `
		CREATE migration_run CONTENT {
			migration_id: $migration_id,
			record_type: $record_type,
			filter: $filter,
			status: $status,
			estimated_count: $estimated_count,
			records_migrated: 0,
			records_failed: 0,
			when_started: <datetime>$when_started
		}
	`, map[string]any{
		"migration_id":    run.MigrationID,
		"record_type":     run.Type,
		"filter":          filterToMap(run.Filter),
		"status":          string(StatusStarted),
		"estimated_count": run.EstimatedCount,
		"when_started":    run.WhenStarted.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("record started: %w", err)
	}
	return nil
}

func (l *SurrealLedger) RecordCancelling(ctx context.Context, migrationID string) error {
	row, err := l.getRow(ctx, migrationID)
	if err != nil {
		return err
	}
	if row.Status != StatusStarted {
		return fmt.Errorf("%s is %s: %w", migrationID, row.Status, ErrBadTransition)
	}

	_, err = surrealdb.Query[any](ctx, l.db, `
		UPDATE migration_run SET status = $status WHERE migration_id = $migration_id
	`, map[string]any{
		"migration_id": migrationID,
		"status":       string(StatusCancelling),
	})
	if err != nil {
		return fmt.Errorf("record cancelling: %w", err)
	}
	return nil
}

func (l *SurrealLedger) RecordCompleted(ctx context.Context, migrationID string, migrated, failed int64) error {
	return l.finalize(ctx, migrationID, StatusCompleted, migrated, failed)
}

func (l *SurrealLedger) RecordCancelled(ctx context.Context, migrationID string, migrated, failed int64) error {
	return l.finalize(ctx, migrationID, StatusCancelled, migrated, failed)
}

func (l *SurrealLedger) finalize(ctx context.Context, migrationID string, status Status, migrated, failed int64) error {
	row, err := l.getRow(ctx, migrationID)
	if err != nil {
		return err
	}
	if row.Status.Terminal() {
		return fmt.Errorf("%s is %s: %w", migrationID, row.Status, ErrBadTransition)
	}

	_, err = surrealdb.Query[any](ctx, l.db, `
		UPDATE migration_run SET
			status = $status,
			records_migrated = $migrated,
			records_failed = $failed,
			when_ended = time::now()
		WHERE migration_id = $migration_id
	`, map[string]any{
		"migration_id": migrationID,
		"status":       string(status),
		"migrated":     migrated,
		"failed":       failed,
	})
	if err != nil {
		return fmt.Errorf("finalize %s: %w", status, err)
	}
	return nil
}

func (l *SurrealLedger) IsCancelling(ctx context.Context, migrationID string) (bool, error) {
	row, err := l.getRow(ctx, migrationID)
	if err != nil {
		return false, err
	}
	return row.Status == StatusCancelling, nil
}

func (l *SurrealLedger) Get(ctx context.Context, migrationID string) (Run, error) {
	row, err := l.getRow(ctx, migrationID)
	if err != nil {
		return Run{}, err
	}
	return row.toRun(), nil
}

func (l *SurrealLedger) Active(ctx context.Context, recordType string) (Run, error) {
	rows, err := l.activeRows(ctx, recordType)
	if err != nil {
		return Run{}, err
	}
	if len(rows) == 0 {
		return Run{}, fmt.Errorf("no active %s run: %w", recordType, ErrNotFound)
	}
	return rows[0].toRun(), nil
}

func (l *SurrealLedger) List(ctx context.Context, filter ListFilter) ([]Run, error) {
	clauses := []string{"true"}
	vars := map[string]any{}

	if filter.Type != "" {
		clauses = append(clauses, "record_type = $record_type")
		vars["record_type"] = filter.Type
	}
	if filter.From != nil {
		clauses = append(clauses, "when_started >= <datetime>$from")
		vars["from"] = filter.From.UTC().Format(time.RFC3339)
	}
	if filter.To != nil {
		clauses = append(clauses, "when_started <= <datetime>$to")
		vars["to"] = filter.To.UTC().Format(time.RFC3339)
	}
	if filter.OnlyFailures {
		clauses = append(clauses, "records_failed > 0")
	}

	sql := fmt.Sprintf(`
		SELECT * FROM migration_run WHERE %s ORDER BY when_started DESC
	`, strings.Join(clauses, " AND "))

	results, err := surrealdb.Query[[]runRow](ctx, l.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var out []Run
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			out = append(out, row.toRun())
		}
	}
	return out, nil
}

func (l *SurrealLedger) getRow(ctx context.Context, migrationID string) (runRow, error) {
	results, err := surrealdb.Query[[]runRow](ctx, l.db, `
		SELECT * FROM migration_run WHERE migration_id = $migration_id
	`, map[string]any{"migration_id": migrationID})
	if err != nil {
		return runRow{}, fmt.Errorf("get run: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return runRow{}, fmt.Errorf("%s: %w", migrationID, ErrNotFound)
	}
	return (*results)[0].Result[0], nil
}

func (l *SurrealLedger) activeRows(ctx context.Context, recordType string) ([]runRow, error) {
	results, err := surrealdb.Query[[]runRow](ctx, l.db, `
		SELECT * FROM migration_run
		WHERE record_type = $record_type AND status IN ["STARTED", "CANCELLING"]
	`, map[string]any{"record_type": recordType})
	if err != nil {
		return nil, fmt.Errorf("active runs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

func (r runRow) toRun() Run {
	var filter gateway.Filter
	if len(r.Filter) > 0 {
		filter = make(gateway.Filter, len(r.Filter))
		for k, v := range r.Filter {
			if s, ok := v.(string); ok {
				filter[k] = s
			}
		}
	}
	return Run{
		MigrationID:     r.MigrationID,
		Type:            r.RecordType,
		Filter:          filter,
		Status:          r.Status,
		EstimatedCount:  r.EstimatedCount,
		RecordsMigrated: r.RecordsMigrated,
		RecordsFailed:   r.RecordsFailed,
		WhenStarted:     r.WhenStarted,
		WhenEnded:       r.WhenEnded,
	}
}

func filterToMap(f gateway.Filter) map[string]any {
	if len(f) == 0 {
		return nil
	}
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
