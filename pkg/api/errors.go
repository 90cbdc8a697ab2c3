package api

import "fmt"

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypeUpstream       ErrorType = "upstream_error"
	ErrorTypeNotFound       ErrorType = "not_found"
)

// APIError represents a structured API error with type, param, and message.
// Upstream errors additionally carry the upstream HTTP status so the
// transport layer can map them to the nearest caller-facing status.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`

	// UpstreamStatus is the HTTP status returned by the backend for
	// upstream_error values. It is not serialized; the transport derives
	// the caller-facing status from it.
	UpstreamStatus int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level
// error response body.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewAuthenticationError creates an APIError for credential failures:
// a missing or invalid operator credential, or a refresh rejected by the
// upstream token endpoint.
func NewAuthenticationError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeAuthentication,
		Message: message,
	}
}

// NewUpstreamError creates an APIError for a non-2xx upstream response.
// The message must already be sanitized of secrets by the caller.
func NewUpstreamError(status int, message string) *APIError {
	return &APIError{
		Type:           ErrorTypeUpstream,
		Message:        message,
		UpstreamStatus: status,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}
