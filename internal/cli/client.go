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

	"github.com/hyperjump/apex/internal/models"
)

// AddResult is the server's answer to an add request.
type AddResult struct {
	ID         string `json:"id"`
	InternalID uint32 `json:"internal_id"`
	Status     string `json:"status"`
}

// Client talks to a running apex server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Add indexes one document through POST /api/v1/documents.
func (c *Client) Add(ctx context.Context, input *models.DocumentInput) (*AddResult, error) {
	var out AddResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents", input, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a query through POST /api/v1/search.
func (c *Client) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	var out models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", query, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches GET /api/v1/status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchDirectories lists the directories the server watches.
func (c *Client) WatchDirectories(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/watch/directories", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Directories, nil
}

// AddWatchDirectory asks the server to watch path, ingesting files already there when syncExisting is set.
func (c *Client) AddWatchDirectory(ctx context.Context, path string, syncExisting bool) error {
	body := map[string]interface{}{"path": path, "sync": syncExisting}
	return c.do(ctx, http.MethodPost, "/api/v1/watch/directories", body, http.StatusCreated, nil)
}

// RemoveWatchDirectory stops the server watching path.
func (c *Client) RemoveWatchDirectory(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(path), nil, http.StatusOK, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
