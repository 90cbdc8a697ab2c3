package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkallner/gemlink/pkg/api"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        *api.APIError
		wantStatus int
	}{
		{"invalid_request -> 400", api.NewInvalidRequestError("model", "test"), http.StatusBadRequest},
		{"authentication -> 401", api.NewAuthenticationError("test"), http.StatusUnauthorized},
		{"not_found -> 404", api.NewNotFoundError("test"), http.StatusNotFound},
		{"server_error -> 500", api.NewServerError("test"), http.StatusInternalServerError},
		{"unknown type -> 500", &api.APIError{Type: api.ErrorType("unknown"), Message: "test"}, http.StatusInternalServerError},
		{"upstream 429 passes through", api.NewUpstreamError(429, "test"), http.StatusTooManyRequests},
		{"upstream 404 passes through", api.NewUpstreamError(404, "test"), http.StatusNotFound},
		{"upstream 500 -> 502", api.NewUpstreamError(500, "test"), http.StatusBadGateway},
		{"upstream 503 -> 502", api.NewUpstreamError(503, "test"), http.StatusBadGateway},
		{"upstream unset -> 502", api.NewUpstreamError(0, "test"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HTTPStatusFromError(tt.err)
			if got != tt.wantStatus {
				t.Errorf("HTTPStatusFromError(%v) = %d, want %d", tt.err, got, tt.wantStatus)
			}
		})
	}
}

func TestWriteErrorResponse(t *testing.T) {
	apiErr := api.NewInvalidRequestError("model", "is required")
	rec := httptest.NewRecorder()

	WriteErrorResponse(rec, apiErr, http.StatusBadRequest)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var resp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Error.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("error type = %q, want %q", resp.Error.Type, api.ErrorTypeInvalidRequest)
	}
	if resp.Error.Param != "model" {
		t.Errorf("error param = %q, want %q", resp.Error.Param, "model")
	}
	if resp.Error.Message != "is required" {
		t.Errorf("error message = %q, want %q", resp.Error.Message, "is required")
	}
}

func TestWriteAPIError(t *testing.T) {
	tests := []struct {
		name       string
		apiErr     *api.APIError
		wantStatus int
	}{
		{
			"invalid_request",
			api.NewInvalidRequestError("model", "is required"),
			http.StatusBadRequest,
		},
		{
			"upstream rate limit",
			api.NewUpstreamError(429, "resource exhausted"),
			http.StatusTooManyRequests,
		},
		{
			"server_error",
			api.NewServerError("internal failure"),
			http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAPIError(rec, tt.apiErr)

			if rec.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantStatus)
			}

			var resp api.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			if resp.Error.Type != tt.apiErr.Type {
				t.Errorf("error type = %q, want %q", resp.Error.Type, tt.apiErr.Type)
			}
		})
	}
}
