// Package openai implements the streaming chat-completion client: one
// streaming POST per conversation turn, incremental SSE parsing into typed
// events, and a retry wrapper with exponential backoff.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adjutant-ai/adjutant/internal/conversation"
	"github.com/adjutant-ai/adjutant/internal/log"
)

// DefaultBaseURL is the chat-completion endpoint used when none is
// configured.
const DefaultBaseURL = "https://api.openai.com/v1/chat/completions"

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4.1"

// DefaultTemperature matches the original client.
const DefaultTemperature = 0.7

// eventBufferSize absorbs bursts of small deltas so parsing never blocks on
// a slow consumer for long.
const eventBufferSize = 100

// readBufferSize is the network read granularity. Frames routinely span
// reads; the parser handles any split.
const readBufferSize = 4096

// defaultHeaderTimeout bounds how long we wait for response headers. The
// body itself streams for as long as the model talks and is governed by the
// caller's context.
const defaultHeaderTimeout = 60 * time.Second

// Config contains all required parameters for the stream client.
type Config struct {
	BaseURL     string       // completion endpoint; DefaultBaseURL when empty
	Model       string       // model identifier; DefaultModel when empty
	Temperature float64      // sampling temperature; DefaultTemperature when zero
	HTTPClient  *http.Client // optional; a streaming-safe default is built when nil
	Logger      log.Logger   // required
	Retry       RetryConfig  // zero value uses defaults
}

// Client issues streaming completion requests. Safe for concurrent use;
// each turn gets its own parser and event channel.
type Client struct {
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
	logger      log.Logger
	retry       RetryConfig
}

// New creates a stream client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, errors.New("openai: logger is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.HTTPClient == nil {
		// No overall client timeout: a streaming body outlives any fixed
		// deadline. Headers are bounded; the context governs the rest.
		cfg.HTTPClient = &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: defaultHeaderTimeout},
		}
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialInterval == 0 {
		retry = DefaultRetryConfig()
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
		retry:       retry,
	}, nil
}

// StreamTurn opens one streaming completion request and delivers its events
// on the returned channel. The channel is closed after the terminal event
// (Done or Err). Canceling ctx releases the connection; cancellation that
// we initiate ourselves after [DONE] is never reported as a failure.
func (c *Client) StreamTurn(ctx context.Context, apiKey string, history []conversation.Message, extra []RawMessage) <-chan Event {
	events := make(chan Event, eventBufferSize)

	body, err := json.Marshal(buildRequest(c.model, c.temperature, history, extra))
	if err != nil {
		events <- Event{Err: fmt.Errorf("encode request: %w", err)}
		close(events)
		return events
	}

	go func() {
		defer close(events)
		c.runStream(ctx, apiKey, body, events)
	}()

	return events
}

func (c *Client) runStream(ctx context.Context, apiKey string, body []byte, events chan<- Event) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		events <- Event{Err: fmt.Errorf("build request: %w", err)}
		return
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		events <- Event{Err: classifyNetworkError(err)}
		return
	}
	defer resp.Body.Close()

	// Abort on error status before touching the body.
	if resp.StatusCode >= 400 {
		events <- Event{Err: &APIError{Status: resp.StatusCode}}
		return
	}

	parser := NewParser(c.logger)
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				select {
				case events <- ev:
				case <-ctx.Done():
					events <- Event{Err: ctx.Err()}
					return
				}
			}
			if parser.Done() {
				// Terminal frame seen; stop reading. Closing the body
				// releases the connection and is not a failure.
				return
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// Stream ended without [DONE]; flush pending state.
				for _, ev := range parser.Finish() {
					events <- ev
				}
				return
			}
			if parser.Done() {
				// Self-initiated teardown after completion.
				return
			}
			events <- Event{Err: classifyNetworkError(readErr)}
			return
		}
	}
}
