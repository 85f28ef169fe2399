// Package client provides the HTTP client for the operator API, used by the
// CLI commands.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justiceops/recordsync/internal/gateway"
	"github.com/justiceops/recordsync/internal/history"
)

// Client talks to the operator API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates an operator API client.
// If baseURL is empty, uses RECORDSYNC_SERVER_URL env var or defaults to
// localhost:8080. The bearer token falls back to RECORDSYNC_TOKEN.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("RECORDSYNC_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	if token == "" {
		token = os.Getenv("RECORDSYNC_TOKEN")
	}

	timeout := 30 * time.Second
	if t := os.Getenv("RECORDSYNC_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StartMigration begins a bulk run for one record type.
func (c *Client) StartMigration(ctx context.Context, recordType string, filter gateway.Filter) (history.Run, error) {
	var run history.Run
	err := c.call(ctx, http.MethodPost, "/api/v1/migrations", map[string]any{
		"type":   recordType,
		"filter": filter,
	}, &run)
	return run, err
}

// Migration fetches one run by id.
func (c *Client) Migration(ctx context.Context, migrationID string) (history.Run, error) {
	var run history.Run
	err := c.call(ctx, http.MethodGet, "/api/v1/migrations/"+url.PathEscape(migrationID), nil, &run)
	return run, err
}

// Active lists the currently running migrations.
func (c *Client) Active(ctx context.Context) ([]history.Run, error) {
	var runs []history.Run
	err := c.call(ctx, http.MethodGet, "/api/v1/migrations/active", nil, &runs)
	return runs, err
}

// HistoryQuery scopes a History call.
type HistoryQuery struct {
	Type         string
	From, To     string // RFC3339
	OnlyFailures bool
}

// History lists past runs.
func (c *Client) History(ctx context.Context, q HistoryQuery) ([]history.Run, error) {
	params := url.Values{}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.From != "" {
		params.Set("from", q.From)
	}
	if q.To != "" {
		params.Set("to", q.To)
	}
	if q.OnlyFailures {
		params.Set("onlyFailures", "true")
	}
	path := "/api/v1/migrations"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var runs []history.Run
	err := c.call(ctx, http.MethodGet, path, nil, &runs)
	return runs, err
}

// Cancel requests cancellation of a run.
func (c *Client) Cancel(ctx context.Context, migrationID string) error {
	return c.call(ctx, http.MethodPost,
		"/api/v1/migrations/"+url.PathEscape(migrationID)+"/cancel", nil, nil)
}

// RefreshResult is the outcome of a single-record refresh.
type RefreshResult struct {
	SourceID string `json:"sourceId"`
	Outcome  string `json:"outcome"`
}

// RefreshRecord re-migrates one record.
func (c *Client) RefreshRecord(ctx context.Context, recordType, sourceID string, deleteFirst bool) (RefreshResult, error) {
	path := fmt.Sprintf("/api/v1/records/%s/%s/refresh",
		url.PathEscape(recordType), url.PathEscape(sourceID))
	if deleteFirst {
		path += "?deleteFirst=true"
	}
	var res RefreshResult
	err := c.call(ctx, http.MethodPost, path, nil, &res)
	return res, err
}

// Stats fetches the telemetry snapshot.
func (c *Client) Stats(ctx context.Context, result any) error {
	return c.call(ctx, http.MethodGet, "/api/v1/stats", nil, result)
}

// Event is one telemetry event from the run event stream.
type Event struct {
	Name  string            `json:"name"`
	Attrs map[string]string `json:"attrs"`
}

// StreamEvents opens the websocket event stream for a run. Events arrive on
// the returned channel until the stream fails or ctx is cancelled.
func (c *Client) StreamEvents(ctx context.Context, migrationID string) (<-chan Event, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) +
		"/api/v1/migrations/" + url.PathEscape(migrationID) + "/events"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial event stream: %w", err)
	}
	resp.Body.Close()

	events := make(chan Event)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (c *Client) call(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error: %s - %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("server error: %s", resp.Status)
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
