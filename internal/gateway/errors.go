package gateway

import "fmt"

// TransportError wraps a failure to reach the webhook endpoint at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway: request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx HTTP status from the webhook endpoint.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: unexpected status %d", e.Status)
}

// DecodeError reports an undecodable response body.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gateway: decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ServerError carries the backend's own failure message from an envelope
// whose success field is false.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "gateway: backend reported failure"
	}
	return "gateway: backend reported failure: " + e.Message
}
