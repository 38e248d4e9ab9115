package provider

import (
	"context"
	"errors"
	"fmt"
)

// ProtocolDecodeError reports a malformed wire chunk. It ends the stream and
// surfaces as a turn-level error; it is retryable only when no event was
// emitted yet, which the engine tracks.
type ProtocolDecodeError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *ProtocolDecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] decode: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] decode: %s", e.Provider, e.Message)
}

func (e *ProtocolDecodeError) Unwrap() error { return e.Cause }

// NetworkError reports a transport-level failure. Retryable covers timeouts,
// disconnects, rate limits and 5xx responses; other 4xx responses are fatal.
type NetworkError struct {
	Provider   string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("[%s] network: %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// AuthError reports an authentication or authorization failure. Always fatal
// to the current turn and surfaced distinctly so a driver can prompt
// re-authentication.
type AuthError struct {
	Provider   string
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("[%s] auth: %s (status=%d)", e.Provider, e.Message, e.StatusCode)
}

// ToolArgumentError reports tool arguments that failed JSON parsing or
// schema checks. Local to one call; converted into an error result.
type ToolArgumentError struct {
	Tool    string
	CallID  string
	Message string
}

func (e *ToolArgumentError) Error() string {
	return fmt.Sprintf("tool %s (call %s): bad arguments: %s", e.Tool, e.CallID, e.Message)
}

// ToolExecutionError reports a tool implementation failure. Local to one
// call; converted into an error result.
type ToolExecutionError struct {
	Tool   string
	CallID string
	Cause  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s (call %s): %v", e.Tool, e.CallID, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// AccumulationError reports malformed or incomplete tool-call JSON detected
// at finalize. Treated like ToolArgumentError downstream.
type AccumulationError struct {
	CallID  string
	Tool    string
	Message string
}

func (e *AccumulationError) Error() string {
	return fmt.Sprintf("tool call %s (%s): %s", e.CallID, e.Tool, e.Message)
}

// ClassifyStatus maps an HTTP status code from a provider into the taxonomy.
func ClassifyStatus(provider string, statusCode int, message string) error {
	switch statusCode {
	case 401, 403:
		return &AuthError{Provider: provider, Message: message, StatusCode: statusCode}
	case 408, 429, 500, 502, 503, 504:
		return &NetworkError{Provider: provider, Message: message, StatusCode: statusCode, Retryable: true}
	default:
		if statusCode >= 400 && statusCode < 500 {
			return &NetworkError{Provider: provider, Message: message, StatusCode: statusCode, Retryable: false}
		}
		// Unknown statuses default to retryable.
		return &NetworkError{Provider: provider, Message: message, StatusCode: statusCode, Retryable: true}
	}
}

// IsRetryable reports whether the error is safe to retry before any event
// has been emitted. Cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Retryable
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var decodeErr *ProtocolDecodeError
	if errors.As(err, &decodeErr) {
		return true
	}
	return false
}

// ErrorCode returns a short stable code for an error, used in ErrorEvents.
func ErrorCode(err error) string {
	var (
		decodeErr *ProtocolDecodeError
		netErr    *NetworkError
		authErr   *AuthError
		argErr    *ToolArgumentError
		execErr   *ToolExecutionError
		accErr    *AccumulationError
	)
	switch {
	case errors.As(err, &decodeErr):
		return "protocol_decode_error"
	case errors.As(err, &authErr):
		return "auth_error"
	case errors.As(err, &netErr):
		return "network_error"
	case errors.As(err, &argErr):
		return "tool_argument_error"
	case errors.As(err, &execErr):
		return "tool_execution_error"
	case errors.As(err, &accErr):
		return "accumulation_error"
	default:
		return "internal_error"
	}
}
