package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const (
	codeMissingIdempotencyKey = "MISSING_IDEMPOTENCY_KEY"
	codeValidationError       = "VALIDATION_ERROR"
	codeMethodNotAllowed      = "METHOD_NOT_ALLOWED"
	codeInternal              = "INTERNAL"
)

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

func writeFieldErrors(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{
		Code:    codeValidationError,
		Message: "one or more fields are invalid",
		Fields:  fields,
	}})
}
