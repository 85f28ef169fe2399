package history

// SchemaSQL contains the ledger schema initialization SQL.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS migration_run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS migration_id ON migration_run TYPE string;
    DEFINE FIELD IF NOT EXISTS record_type ON migration_run TYPE string;
    DEFINE FIELD IF NOT EXISTS filter ON migration_run TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS status ON migration_run TYPE string;
    DEFINE FIELD IF NOT EXISTS estimated_count ON migration_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS records_migrated ON migration_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS records_failed ON migration_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS when_started ON migration_run TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS when_ended ON migration_run TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS migration_run_id ON migration_run FIELDS migration_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS migration_run_type ON migration_run FIELDS record_type;
    DEFINE INDEX IF NOT EXISTS migration_run_started ON migration_run FIELDS when_started;
`
