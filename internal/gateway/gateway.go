// Package gateway executes logical operations (create, retrieve) against a
// single configured webhook endpoint. Every operation is one JSON envelope
// POST; identical requests already in flight are silently suppressed.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adjutant-ai/adjutant/internal/log"
)

// DefaultTimeout bounds one webhook round trip.
const DefaultTimeout = 30 * time.Second

// Operations the backend understands.
const (
	OperationCreate   = "create"
	OperationRetrieve = "retrieve"
)

// Config contains all required parameters for the gateway client.
type Config struct {
	WebhookURL string        // required
	HTTPClient *http.Client  // optional
	Timeout    time.Duration // DefaultTimeout when zero
	Logger     log.Logger    // required
}

// Client talks to the webhook backend. Safe for concurrent use; the pending
// set is the only shared state and is mutex-guarded.
type Client struct {
	url        string
	httpClient *http.Client
	logger     log.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a gateway client.
func New(cfg Config) (*Client, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("gateway: webhook URL is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("gateway: logger is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		url:        cfg.WebhookURL,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		pending:    make(map[string]struct{}),
	}, nil
}

// envelope is the request body for every operation.
type envelope struct {
	Method    string         `json:"method"`
	Operation string         `json:"operation"`
	RequestID string         `json:"request_id"`
	Filters   map[string]any `json:"filters,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Create stores one event record.
func (c *Client) Create(ctx context.Context, record map[string]any) (*Response, error) {
	return c.Execute(ctx, http.MethodPost, OperationCreate, nil, record)
}

// Retrieve fetches logged events matching the given filters.
func (c *Client) Retrieve(ctx context.Context, filters map[string]any) (*Response, error) {
	return c.Execute(ctx, http.MethodGet, OperationRetrieve, filters, nil)
}

// Execute runs one logical operation. If an identical request (same method,
// operation, and filters) is still in flight, the call is dropped and
// (nil, nil) is returned: best-effort duplicate suppression, not queuing.
// The in-flight signature is released on every exit path so the same logical
// request can be issued again afterwards.
func (c *Client) Execute(ctx context.Context, method, operation string, filters, data map[string]any) (*Response, error) {
	sig := signature(method, operation, filters)
	if !c.acquire(sig) {
		c.logger.Debug("dropping duplicate in-flight request", "signature", sig)
		return nil, nil
	}
	defer c.release(sig)

	env := envelope{
		Method:    method,
		Operation: operation,
		RequestID: uuid.NewString(),
		Filters:   filters,
		Data:      data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("executing webhook operation",
		"operation", operation,
		"request_id", env.RequestID,
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode}
	}

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if !decoded.Success {
		return nil, &ServerError{Message: decoded.Error}
	}
	return &decoded, nil
}

func (c *Client) acquire(sig string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, inFlight := c.pending[sig]; inFlight {
		return false
	}
	c.pending[sig] = struct{}{}
	return true
}

func (c *Client) release(sig string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, sig)
}

// signature fingerprints one logical request: method, operation, and the
// sorted filter pairs, or "none" when unfiltered.
func signature(method, operation string, filters map[string]any) string {
	filterPart := "none"
	if len(filters) > 0 {
		pairs := make([]string, 0, len(filters))
		for k, v := range filters {
			pairs = append(pairs, fmt.Sprintf("%s:%v", k, v))
		}
		sort.Strings(pairs)
		filterPart = strings.Join(pairs, ",")
	}
	return method + "|" + operation + "|" + filterPart
}
