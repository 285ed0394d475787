package engine

import (
	"fmt"
	"time"
)

// APIError is a structured error response from a remote engine.
type APIError struct {
	StatusCode int            `json:"-"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message,omitempty"`
	Raw        map[string]any `json:"-"`
	RequestID  string         `json:"-"`
}

func (e *APIError) Error() string {
	s := fmt.Sprintf("engine error: status=%d", e.StatusCode)
	if e.Code != "" {
		s += " code=" + e.Code
	}
	if e.RequestID != "" {
		s += " request_id=" + e.RequestID
	}
	if e.Message != "" {
		s += " message=" + e.Message
	}
	return s
}

// AuthError indicates a rejected API key (401/403).
type AuthError struct{ *APIError }

func (e *AuthError) Error() string {
	return fmt.Sprintf("engine authentication failed: %s", e.APIError.Error())
}

func (e *AuthError) Unwrap() error { return e.APIError }

// RateLimitError indicates 429 responses and may include a Retry-After.
type RateLimitError struct {
	*APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("engine rate limited: wait about %ds before retrying: %s", int(e.RetryAfter.Seconds()), e.APIError.Error())
	}
	return fmt.Sprintf("engine rate limited: %s", e.APIError.Error())
}

func (e *RateLimitError) Unwrap() error { return e.APIError }

// BadRequestError indicates the engine refused the request (400/422).
type BadRequestError struct{ *APIError }

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("engine rejected request: %s", e.APIError.Error())
}

func (e *BadRequestError) Unwrap() error { return e.APIError }

// ServerError indicates 5xx errors from the engine.
type ServerError struct{ *APIError }

func (e *ServerError) Error() string { return fmt.Sprintf("engine failure: %s", e.APIError.Error()) }

func (e *ServerError) Unwrap() error { return e.APIError }

// UnreachableError indicates the engine could not be contacted.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("engine unreachable at %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("engine unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// UnsupportedMethodError is returned for methods an engine does not implement.
type UnsupportedMethodError struct {
	Method string
	Engine string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("method %q is not supported by the %s engine", e.Method, e.Engine)
}
