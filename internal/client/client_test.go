package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justiceops/recordsync/internal/gateway"
	"github.com/justiceops/recordsync/internal/history"
)

func TestStartMigrationSendsTokenAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/migrations", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req struct {
			Type   string         `json:"type"`
			Filter gateway.Filter `json:"filter"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "court-cases", req.Type)
		assert.Equal(t, "MDI", req.Filter["prisonId"])

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(history.Run{
			MigrationID: "run-1", Type: req.Type, Status: history.StatusStarted,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	run, err := c.StartMigration(context.Background(), "court-cases", gateway.Filter{"prisonId": "MDI"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.MigrationID)
	assert.Equal(t, history.StatusStarted, run.Status)
}

func TestCallSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "another migration run is already active"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.StartMigration(context.Background(), "court-cases", nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "409")
	assert.ErrorContains(t, err, "already active")
}

func TestHistoryBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "court-cases", r.URL.Query().Get("type"))
		assert.Equal(t, "true", r.URL.Query().Get("onlyFailures"))
		json.NewEncoder(w).Encode([]history.Run{})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	runs, err := c.History(context.Background(), HistoryQuery{Type: "court-cases", OnlyFailures: true})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
