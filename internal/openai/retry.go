package openai

import (
	"context"
	"errors"
	"time"

	"github.com/adjutant-ai/adjutant/internal/conversation"
)

// RetryConfig configures the retry wrapper around one stream turn.
type RetryConfig struct {
	MaxRetries      int           // retries after the first attempt
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff ceiling
}

// DefaultRetryConfig returns the default budget: two retries with
// exponential backoff 1s, 2s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: time.Second,
		MaxInterval:     8 * time.Second,
	}
}

// Retryable reports whether err is transient: transport-level failures
// (timeout, DNS, connection lost/refused, no connectivity) and server-side
// statuses 429/500/502/503/504. Everything else, 401 included, is fatal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		switch netErr.Kind {
		case NetworkTimeout, NetworkDNS, NetworkConnection, NetworkNoConnectivity:
			return true
		}
	}

	return false
}

// StreamTurnWithRetry wraps StreamTurn with retry-on-transient-failure.
// Text events from every attempt are relayed as they arrive; they carry full
// snapshots, so a retried attempt cleanly supersedes a partial one. Finalized
// tool calls are delivered only from the attempt that reaches Done, so a
// failed attempt never emits calls the retry will produce again. The terminal
// failure is only surfaced once the retry budget is exhausted or the error is
// fatal.
func (c *Client) StreamTurnWithRetry(ctx context.Context, apiKey string, history []conversation.Message, extra []RawMessage) <-chan Event {
	out := make(chan Event, eventBufferSize)

	go func() {
		defer close(out)

		delay := c.retry.InitialInterval
		if delay <= 0 {
			delay = time.Second
		}

		var lastErr error
		for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
			lastErr = nil
			// Finalized tool calls are held until the attempt completes. A
			// transport failure can land between finalization and [DONE];
			// relaying the calls eagerly would deliver them again on the
			// retried attempt, and each copy would be dispatched.
			var calls []Event
			for ev := range c.StreamTurn(ctx, apiKey, history, extra) {
				if ev.Err != nil {
					lastErr = ev.Err
					continue // terminal; channel closes next iteration
				}
				if ev.Call != nil {
					calls = append(calls, ev)
					continue
				}
				if ev.Done {
					for _, buffered := range append(calls, ev) {
						select {
						case out <- buffered:
						case <-ctx.Done():
							out <- Event{Err: ctx.Err()}
							return
						}
					}
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					out <- Event{Err: ctx.Err()}
					return
				}
			}
			if lastErr == nil {
				// Attempt channel closed without a terminal event.
				out <- Event{Err: errors.New("stream ended without completion signal")}
				return
			}
			if !Retryable(lastErr) || attempt == c.retry.MaxRetries {
				break
			}

			c.logger.Debug("retrying stream turn",
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				out <- Event{Err: ctx.Err()}
				return
			case <-time.After(delay):
				delay *= 2
				if c.retry.MaxInterval > 0 && delay > c.retry.MaxInterval {
					delay = c.retry.MaxInterval
				}
			}
		}

		out <- Event{Err: lastErr}
	}()

	return out
}
