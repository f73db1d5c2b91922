// Package response renders JSON bodies and error envelopes for the HTTP API
package response

import (
	"encoding/json"
	"net/http"
)

// RequestIDHeader carries the request id. Error bodies repeat it so a
// client can quote it when reporting a failure.
const RequestIDHeader = "X-Request-ID"

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// RenderError writes an error body. An empty code is derived from status.
func RenderError(w http.ResponseWriter, status int, code, message string) {
	if code == "" {
		code = codeFromStatus(status)
	}
	RenderJSON(w, status, &ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// RenderBadRequest renders a 400
func RenderBadRequest(w http.ResponseWriter, message string) {
	RenderError(w, http.StatusBadRequest, "", message)
}

// RenderNotFound renders a 404
func RenderNotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RenderError(w, http.StatusNotFound, "", message)
}

// RenderInternalError renders a 500 without exposing the cause
func RenderInternalError(w http.ResponseWriter) {
	RenderError(w, http.StatusInternalServerError, "", "Internal server error")
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	}
	return "error"
}

// RenderJSON writes v as a JSON body with the given status
func RenderJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}
