//go:build integration

// Integration tests for the SurrealDB-backed ledger.
package history

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/justiceops/recordsync/internal/gateway"
)

var testLedger *SurrealLedger
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testLedger, err = NewSurrealLedger(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	code := m.Run()

	_ = testLedger.Close(ctx)
	_ = testContainer.Terminate(ctx)
	os.Exit(code)
}

func TestSurrealLedgerLifecycle(t *testing.T) {
	ctx := context.Background()

	run := Run{
		MigrationID:    "2026-08-31T10:00:00-test",
		Type:           "court-cases-it",
		Filter:         gateway.Filter{"fromDate": "2020-01-01"},
		EstimatedCount: 26,
	}
	require.NoError(t, testLedger.RecordStarted(ctx, run))

	// Second start for the type is rejected while active.
	err := testLedger.RecordStarted(ctx, Run{MigrationID: "other", Type: "court-cases-it"})
	assert.ErrorIs(t, err, ErrActiveRun)

	got, err := testLedger.Get(ctx, run.MigrationID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status)
	assert.EqualValues(t, 26, got.EstimatedCount)
	assert.Equal(t, "2020-01-01", got.Filter["fromDate"])

	active, err := testLedger.Active(ctx, "court-cases-it")
	require.NoError(t, err)
	assert.Equal(t, run.MigrationID, active.MigrationID)

	require.NoError(t, testLedger.RecordCompleted(ctx, run.MigrationID, 25, 1))

	got, err = testLedger.Get(ctx, run.MigrationID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.EqualValues(t, 25, got.RecordsMigrated)
	assert.EqualValues(t, 1, got.RecordsFailed)
	require.NotNil(t, got.WhenEnded)

	failures, err := testLedger.List(ctx, ListFilter{Type: "court-cases-it", OnlyFailures: true})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, run.MigrationID, failures[0].MigrationID)
}

func TestSurrealLedgerCancelPath(t *testing.T) {
	ctx := context.Background()

	run := Run{MigrationID: "cancel-test", Type: "alerts-it"}
	require.NoError(t, testLedger.RecordStarted(ctx, run))
	require.NoError(t, testLedger.RecordCancelling(ctx, run.MigrationID))

	cancelling, err := testLedger.IsCancelling(ctx, run.MigrationID)
	require.NoError(t, err)
	assert.True(t, cancelling)

	require.NoError(t, testLedger.RecordCancelled(ctx, run.MigrationID, 3, 0))
	got, err := testLedger.Get(ctx, run.MigrationID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}
