package mapping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPStore talks to the remote mapping service. The service enforces the
// uniqueness invariants and answers duplicate inserts with 409 carrying both
// the existing and the attempted mapping.
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPStore creates a mapping-service client.
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// conflictBody is the mapping service's 409 response payload.
type conflictBody struct {
	Existing  Mapping `json:"existing"`
	Duplicate Mapping `json:"duplicate"`
}

func (s *HTTPStore) Find(ctx context.Context, sourceID string) (Mapping, error) {
	var m Mapping
	err := s.do(ctx, http.MethodGet, "/mappings/source/"+url.PathEscape(sourceID), nil, &m)
	return m, err
}

func (s *HTTPStore) FindByTarget(ctx context.Context, targetID string) (Mapping, error) {
	var m Mapping
	err := s.do(ctx, http.MethodGet, "/mappings/target/"+url.PathEscape(targetID), nil, &m)
	return m, err
}

func (s *HTTPStore) Create(ctx context.Context, m Mapping) (CreateResult, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return CreateResult{}, fmt.Errorf("marshal mapping: %w", err)
	}

	resp, err := s.request(ctx, http.MethodPost, "/mappings", body)
	if err != nil {
		return CreateResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return CreateResult{}, nil
	case http.StatusConflict:
		var cb conflictBody
		if err := json.NewDecoder(resp.Body).Decode(&cb); err != nil {
			return CreateResult{}, fmt.Errorf("decode conflict body: %w", err)
		}
		return CreateResult{Conflict: true, Existing: cb.Existing, Duplicate: cb.Duplicate}, nil
	default:
		return CreateResult{}, statusError(resp)
	}
}

func (s *HTTPStore) Delete(ctx context.Context, targetID string) error {
	resp, err := s.request(ctx, http.MethodDelete, "/mappings/target/"+url.PathEscape(targetID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Already-absent counts as deleted.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	return statusError(resp)
}

func (s *HTTPStore) FindByParent(ctx context.Context, targetParentID string) ([]Mapping, error) {
	var ms []Mapping
	err := s.do(ctx, http.MethodGet, "/mappings/parent/"+url.PathEscape(targetParentID)+"/children", nil, &ms)
	if err != nil {
		return nil, err
	}
	return ms, nil
}

func (s *HTTPStore) CreateChildren(ctx context.Context, ms []Mapping) error {
	if len(ms) == 0 {
		return nil
	}
	body, err := json.Marshal(ms)
	if err != nil {
		return fmt.Errorf("marshal mappings: %w", err)
	}
	resp, err := s.request(ctx, http.MethodPost, "/mappings/batch", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}
	return statusError(resp)
}

func (s *HTTPStore) CountByLabel(ctx context.Context, label string) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	err := s.do(ctx, http.MethodGet, "/mappings/migration/"+url.PathEscape(label)+"/summary", nil, &out)
	if err != nil {
		return 0, err
	}
	return out.Count, nil
}

// do issues a request and decodes a JSON body into result. A 404 maps to
// ErrNotFound so callers can errors.Is on it.
func (s *HTTPStore) do(ctx context.Context, method, path string, body []byte, result any) error {
	resp, err := s.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (s *HTTPStore) request(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mapping service: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("mapping service: %s - %s", resp.Status, string(b))
}
