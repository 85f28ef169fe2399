package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Endpoints carries the per-record-type paths on a gateway base URL.
type Endpoints struct {
	// Source side
	CountPath       string // GET, filter + size as query params, returns {"totalElements": n}
	IDsPath         string // GET, filter + page + size, returns {"content": [ids]}
	FetchPath       string // GET, "/{id}" appended
	ByContainerPath string // GET, "/{containerId}" appended, returns {"content": [ids]}

	// Target side
	CreatePath string // POST
	RecordPath string // PUT/DELETE, "/{id}" appended
	MovePath   string // PUT, batched container move

	// JSON keys on the fetched record carrying the parent and container
	// ids. Empty keys default to "parentId" and "containerId".
	ParentIDKey    string
	ContainerIDKey string
}

// HTTPSource is the HTTP client for the legacy system's read API.
type HTTPSource struct {
	baseURL    string
	endpoints  Endpoints
	httpClient *http.Client
}

// NewHTTPSource creates a source gateway for one record type.
func NewHTTPSource(baseURL string, endpoints Endpoints) *HTTPSource {
	return &HTTPSource{
		baseURL:   baseURL,
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// pagedIDs matches the source API's page envelope.
type pagedIDs struct {
	Content       []string `json:"content"`
	TotalElements int64    `json:"totalElements"`
}

func (s *HTTPSource) Count(ctx context.Context, filter Filter) (int64, error) {
	// Page size 1 keeps the count cheap; only totalElements is read.
	u := s.baseURL + s.endpoints.CountPath + "?" + filterQuery(filter, 0, 1)
	var page pagedIDs
	if err := getJSON(ctx, s.httpClient, u, &page); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return page.TotalElements, nil
}

func (s *HTTPSource) ListIDs(ctx context.Context, filter Filter, pageNumber, size int) ([]string, error) {
	u := s.baseURL + s.endpoints.IDsPath + "?" + filterQuery(filter, pageNumber, size)
	var page pagedIDs
	if err := getJSON(ctx, s.httpClient, u, &page); err != nil {
		return nil, fmt.Errorf("list ids page %d: %w", pageNumber, err)
	}
	return page.Content, nil
}

func (s *HTTPSource) Fetch(ctx context.Context, id string) (SourceRecord, error) {
	u := s.baseURL + s.endpoints.FetchPath + "/" + url.PathEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return SourceRecord{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SourceRecord{}, fmt.Errorf("fetch %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return SourceRecord{}, fmt.Errorf("fetch %s: %w", id, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return SourceRecord{}, statusError("source", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SourceRecord{}, fmt.Errorf("read body: %w", err)
	}

	// Parent and container ids ride alongside the domain payload.
	parentKey, containerKey := s.endpoints.ParentIDKey, s.endpoints.ContainerIDKey
	if parentKey == "" {
		parentKey = "parentId"
	}
	if containerKey == "" {
		containerKey = "containerId"
	}
	var meta map[string]json.RawMessage
	_ = json.Unmarshal(body, &meta)

	return SourceRecord{
		ID:          id,
		ParentID:    stringField(meta, parentKey),
		ContainerID: stringField(meta, containerKey),
		Body:        body,
	}, nil
}

func (s *HTTPSource) ListContainerIDs(ctx context.Context, containerID string) ([]string, error) {
	u := s.baseURL + s.endpoints.ByContainerPath + "/" + url.PathEscape(containerID)
	var page pagedIDs
	if err := getJSON(ctx, s.httpClient, u, &page); err != nil {
		return nil, fmt.Errorf("list container %s: %w", containerID, err)
	}
	return page.Content, nil
}

// HTTPTarget is the HTTP client for the replacement service's write API.
type HTTPTarget struct {
	baseURL    string
	endpoints  Endpoints
	httpClient *http.Client
}

// NewHTTPTarget creates a target gateway for one record type.
func NewHTTPTarget(baseURL string, endpoints Endpoints) *HTTPTarget {
	return &HTTPTarget{
		baseURL:   baseURL,
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (t *HTTPTarget) Create(ctx context.Context, req TargetRequest) (CreateResult, error) {
	return t.write(ctx, http.MethodPost, t.baseURL+t.endpoints.CreatePath, req.Body)
}

func (t *HTTPTarget) Update(ctx context.Context, id string, req TargetRequest) (CreateResult, error) {
	u := t.baseURL + t.endpoints.RecordPath + "/" + url.PathEscape(id)
	return t.write(ctx, http.MethodPut, u, req.Body)
}

func (t *HTTPTarget) Delete(ctx context.Context, id string) error {
	u := t.baseURL + t.endpoints.RecordPath + "/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	default:
		return statusError("target", resp)
	}
}

func (t *HTTPTarget) Move(ctx context.Context, fromContainer, toContainer string, ids []string) error {
	payload, err := json.Marshal(map[string]any{
		"fromContainer": fromContainer,
		"toContainer":   toContainer,
		"ids":           ids,
	})
	if err != nil {
		return fmt.Errorf("marshal move: %w", err)
	}
	_, err = t.write(ctx, http.MethodPut, t.baseURL+t.endpoints.MovePath, payload)
	return err
}

func (t *HTTPTarget) write(ctx context.Context, method, u string, body json.RawMessage) (CreateResult, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return CreateResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return CreateResult{}, fmt.Errorf("target: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CreateResult{}, statusError("target", resp)
	}

	var result CreateResult
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return CreateResult{}, fmt.Errorf("decode response: %w", err)
		}
	}
	return result, nil
}

func getJSON(ctx context.Context, client *http.Client, u string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("source", resp)
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func filterQuery(filter Filter, page, size int) string {
	q := url.Values{}
	for k, v := range filter {
		q.Set(k, v)
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	return q.Encode()
}

// stringField reads a top-level string or number field from a raw object.
func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func statusError(system string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s gateway: %s - %s", system, resp.Status, string(b))
}
