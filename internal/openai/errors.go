package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// APIError reports a non-success HTTP status from the completion endpoint,
// detected at response-header time before any body parsing.
type APIError struct {
	Status int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion endpoint returned HTTP %d", e.Status)
}

// NetworkKind classifies transport-level failures for retry decisions.
type NetworkKind int

// Network failure classes.
const (
	NetworkOther NetworkKind = iota
	NetworkTimeout
	NetworkDNS
	NetworkConnection     // refused, reset, or lost mid-stream
	NetworkNoConnectivity // no route to host / network unreachable
)

// NetworkError wraps a transport failure with its retry class.
type NetworkError struct {
	Kind NetworkKind
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// classifyNetworkError wraps err in a NetworkError with the appropriate
// kind. Context cancellation is passed through untouched so callers can
// distinguish a user-initiated cancel from a transport failure.
func classifyNetworkError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Kind: NetworkTimeout, Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &NetworkError{Kind: NetworkDNS, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &NetworkError{Kind: NetworkTimeout, Err: err}
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return &NetworkError{Kind: NetworkConnection, Err: err}
	case errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETDOWN):
		return &NetworkError{Kind: NetworkNoConnectivity, Err: err}
	}

	return &NetworkError{Kind: NetworkOther, Err: err}
}

// UserMessage rewrites a turn failure into the fixed user-facing text shown
// in place of the streaming placeholder.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == 401:
			return "Authentication failed. Please check your API key in settings."
		case apiErr.Status == 429:
			return "Rate limit reached. Please wait a moment and try again."
		case apiErr.Status >= 500:
			return "The service is temporarily unavailable. Please try again shortly."
		}
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		switch netErr.Kind {
		case NetworkNoConnectivity, NetworkDNS:
			return "No network connection. Please check your network and try again."
		case NetworkTimeout:
			return "The request timed out. Please try again."
		case NetworkConnection:
			return "The connection was interrupted. Please try again."
		}
	}

	return err.Error()
}
