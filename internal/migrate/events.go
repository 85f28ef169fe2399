package migrate

// Telemetry event names. Every state transition and error path emits exactly
// one of these; they are the primary operator-facing observability surface.
const (
	EventMigrationStarted   = "migration-started"
	EventMigrationCompleted = "migration-completed"
	EventMigrationCancelReq = "migration-cancel-requested"
	EventMigrationCancelled = "migration-cancelled"
	EventPageSkipped        = "migration-page-skipped"

	EventEntityMigrated  = "migration-entity-migrated"
	EventEntityDuplicate = "migration-entity-duplicate"
	EventSourceMissing   = "migration-entity-source-missing"
	EventMappingRetry    = "migration-mapping-retry-scheduled"
	EventMappingRetried  = "migration-mapping-retried"
)
