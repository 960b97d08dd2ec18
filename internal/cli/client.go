package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/setsumei/internal/models"
)

// Client calls a running setsumei server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL (e.g. "http://localhost:8080").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Search posts a query to /api/v1/search.
func (c *Client) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoadCorpus asks the server to reload its corpus directory, refreshing the
// index afterwards when refresh is set.
func (c *Client) LoadCorpus(ctx context.Context, refresh bool) (map[string]interface{}, error) {
	var out map[string]interface{}
	body := map[string]interface{}{"refresh": refresh}
	err := c.do(ctx, http.MethodPost, "/api/v1/corpus/load", body, &out)
	return out, err
}

// Refresh asks the server to refresh the cache and rebuild the index.
func (c *Client) Refresh(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodPost, "/api/v1/index/refresh", nil, &out)
	return out, err
}

// Status fetches /api/v1/status.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return remoteError(resp.StatusCode, apiErr.Code, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// remoteError turns a server error code back into the matching sentinel so
// callers can use errors.Is across the wire.
func remoteError(status int, code, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	var sentinel error
	switch code {
	case "index_not_ready":
		sentinel = models.ErrNotReady
	case "embedding_unavailable":
		sentinel = models.ErrEmbeddingUnavailable
	case "upstream_timeout":
		sentinel = models.ErrUpstreamTimeout
	case "invalid_query":
		sentinel = models.ErrInvalidQuery
	case "invalid_request":
		sentinel = models.ErrInvalidInput
	case "not_found":
		sentinel = models.ErrNotFound
	}
	if sentinel == nil {
		return fmt.Errorf("server error (%d): %s", status, message)
	}
	return fmt.Errorf("server error (%d): %w: %s", status, sentinel, message)
}
