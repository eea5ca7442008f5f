// Package apiclient talks to a running auditor HTTP API. The CLI uses it to
// submit audits and poll for their results.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/orchestrator"
)

const defaultTimeout = 30 * time.Second

// Client is a thin JSON client over the /v1 routes.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// New builds a Client rooted at baseURL (for example http://localhost:8080).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submitted is the acknowledgement for POST /v1/audits.
type Submitted struct {
	ID     string       `json:"id"`
	Status audit.Status `json:"status"`
}

// BatchSubmitted is the acknowledgement for POST /v1/batches.
type BatchSubmitted struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
}

// Submit queues one audit.
func (c *Client) Submit(ctx context.Context, req orchestrator.SubmitRequest) (Submitted, error) {
	var out Submitted
	err := c.do(ctx, http.MethodPost, "/v1/audits", req, &out)
	return out, err
}

// SubmitBatch queues a batch of audits.
func (c *Client) SubmitBatch(ctx context.Context, req orchestrator.BatchRequest) (BatchSubmitted, error) {
	var out BatchSubmitted
	err := c.do(ctx, http.MethodPost, "/v1/batches", req, &out)
	return out, err
}

// GetStatus reads the polling projection of one audit.
func (c *Client) GetStatus(ctx context.Context, id string) (audit.StatusView, error) {
	var out audit.StatusView
	err := c.do(ctx, http.MethodGet, "/v1/audits/"+url.PathEscape(id)+"/status", nil, &out)
	return out, err
}

// GetResult reads the full audit record.
func (c *Client) GetResult(ctx context.Context, id string) (audit.Job, error) {
	var out audit.Job
	err := c.do(ctx, http.MethodGet, "/v1/audits/"+url.PathEscape(id), nil, &out)
	return out, err
}

// GetBatch reads a batch with its member audits.
func (c *Client) GetBatch(ctx context.Context, id string) (orchestrator.BatchView, error) {
	var out orchestrator.BatchView
	err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// responseError maps an error response back onto the audit sentinels.
func responseError(method, path string, resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		sentinel = audit.ErrInvalidRequest
	case http.StatusNotFound:
		sentinel = audit.ErrNotFound
	case http.StatusConflict:
		sentinel = audit.ErrNotCompleted
	default:
		sentinel = errors.New(resp.Status)
	}
	return fmt.Errorf("%s %s: %s: %w", method, path, msg, sentinel)
}
