// Package config loads engine configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection (migration history ledger)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Upstream services
	SourceBaseURL  string
	TargetBaseURL  string
	MappingBaseURL string

	// Queue
	QueueURL    string
	DLQURL      string
	AWSRegion   string
	SQSEndpoint string // override for localstack, empty in production
	Workers     int

	// Migration tuning
	PageSize        int
	AuditOrigin     string
	RecordTypesFile string

	// Operator API
	ServerPort int
	JWTSecret  string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Completion detection
	StatusCheckDelay  time.Duration
	StatusCheckQuiet  time.Duration
	StatusCheckRounds int
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "recordsync"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "history"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		SourceBaseURL:  getEnv("SOURCE_API_URL", "http://localhost:8081"),
		TargetBaseURL:  getEnv("TARGET_API_URL", "http://localhost:8082"),
		MappingBaseURL: getEnv("MAPPING_API_URL", "http://localhost:8083"),

		QueueURL:    getEnv("MIGRATION_QUEUE_URL", ""),
		DLQURL:      getEnv("MIGRATION_DLQ_URL", ""),
		AWSRegion:   getEnv("AWS_REGION", "eu-west-2"),
		SQSEndpoint: getEnv("SQS_ENDPOINT", ""),
		Workers:     getEnvInt("QUEUE_WORKERS", 4),

		PageSize:        getEnvInt("MIGRATION_PAGE_SIZE", 1000),
		AuditOrigin:     getEnv("AUDIT_ORIGIN", "recordsync"),
		RecordTypesFile: getEnv("RECORD_TYPES_FILE", "record-types.yaml"),

		ServerPort: getEnvInt("SERVER_PORT", 8080),
		JWTSecret:  getEnv("JWT_SECRET", ""),

		LogFile:  getEnv("RECORDSYNC_LOG_FILE", "/tmp/recordsync.log"),
		LogLevel: parseLogLevel(getEnv("RECORDSYNC_LOG_LEVEL", "INFO")),

		StatusCheckDelay:  getEnvDuration("STATUS_CHECK_DELAY", 10*time.Second),
		StatusCheckQuiet:  getEnvDuration("STATUS_CHECK_QUIET", time.Second),
		StatusCheckRounds: getEnvInt("STATUS_CHECK_ROUNDS", 9),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
