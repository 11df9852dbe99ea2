package web

// errors.go provides unified error responses for the API.
//
// Technical errors are logged server-side with the request ID for
// correlation; clients receive the mapped user-facing message with its
// support code.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/urbanlingua/langmap/internal/importer"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
	Code   string `json:"code"`
}

// respondError logs the technical error and writes the mapped user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	userMsg := importer.MapError(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	respondErrorJSON(w, userMsg, status)
}

func respondErrorJSON(w http.ResponseWriter, msg importer.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:  msg.Message,
		Action: msg.Action,
		Code:   msg.Code,
	})
}

// statusForError maps pipeline errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, importer.ErrCityNotFound):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, importer.ErrEmptyFile),
		errors.Is(err, importer.ErrMissingColumns),
		errors.Is(err, importer.ErrAbortOnErrorUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, importer.ErrTooManyImports):
		return http.StatusTooManyRequests
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as JSON. Encoding errors are logged since headers are
// already sent.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode", "error", err)
	}
}
