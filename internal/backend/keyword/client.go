// Package keyword is the HTTP client for the secondary keyword
// backend: a degraded-but-available intent service running on a
// sleep-capable GPU host, with a health/wake endpoint pair.
package keyword

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smartflow-crm/inference-gateway/internal/backend"
)

const defaultTimeout = 5 * time.Second

// ClassifyRequest is the keyword-intent request body.
type ClassifyRequest struct {
	Text     string `json:"text"`
	Persona  string `json:"persona"`
	Language string `json:"language"`
}

// ClassifyResponse is the structured keyword-intent result.
type ClassifyResponse struct {
	Intent       string  `json:"intent"`
	Confidence   float64 `json:"confidence"`
	ResponseText string  `json:"response_text"`
}

// HealthStatus is the backend's self-reported state.
type HealthStatus struct {
	Status string `json:"status"` // "healthy" or "sleeping"
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-call upper bound for classify and health
// probes. Wake calls take their bound from the caller's context since
// cold starts run much longer.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithPaths overrides the health and wake endpoint paths.
func WithPaths(healthPath, wakePath string) ClientOption {
	return func(c *Client) {
		c.healthPath = healthPath
		c.wakePath = wakePath
	}
}

// Client calls the secondary keyword backend.
type Client struct {
	baseURL    string
	healthPath string
	wakePath   string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a secondary backend client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		healthPath: "/health",
		wakePath:   "/wake",
		timeout:    defaultTimeout,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify sends the raw utterance and returns the structured intent
// result.
func (c *Client) Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &backend.CallError{Backend: "secondary", Op: "classify", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &backend.CallError{Backend: "secondary", Op: "classify", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &backend.CallError{
			Backend: "secondary",
			Op:      "classify",
			Err:     fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var result ClassifyResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &backend.CallError{Backend: "secondary", Op: "classify", Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return &result, nil
}

// Health probes the backend health endpoint. A reachable backend
// reports "healthy" or "sleeping"; any transport failure is returned
// as a CallError.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &backend.CallError{Backend: "secondary", Op: "health", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &backend.CallError{
			Backend: "secondary",
			Op:      "health",
			Err:     fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, &backend.CallError{Backend: "secondary", Op: "health", Err: fmt.Errorf("decode health: %w", err)}
	}
	return &status, nil
}

// Wake asks a sleeping backend to start up. The call is bounded only
// by the caller's context; GPU cold starts routinely run tens of
// seconds.
func (c *Client) Wake(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.wakePath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &backend.CallError{Backend: "secondary", Op: "wake", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return &backend.CallError{
			Backend: "secondary",
			Op:      "wake",
			Err:     fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	return nil
}
