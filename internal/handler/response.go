package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError so the API has one
// shape for success and one for failure:
//
//	{"error": "invariant_violation", "message": "user abc cannot leave ...", "field": ""}
//
// Domain errors carry a sentinel from apperror; writeError is the only
// place that knows how sentinels become HTTP status codes.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/tenant-accounts/internal/apperror"
)

// ErrorResponse is the standard error body returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable kind, e.g. "not_found"
	Message string `json:"message"`         // human-readable description
	Field   string `json:"field,omitempty"` // offending input field, if any
}

// writeJSON sends data as JSON. Headers and status must go out before the
// body; once Encode writes, later header changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps an error to its HTTP status and kind.
//
// An error can wrap more than one sentinel; a partial deletion wraps its
// cause, and the first matching case wins.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrPartialDeletion):
		return http.StatusInternalServerError, "partial_deletion"
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrInvariant):
		return http.StatusConflict, "invariant_violation"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError maps a domain error to an HTTP response.
//
// Server-side failures never echo the underlying error: it may contain SQL
// or file paths. They are logged instead.
func writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || status == http.StatusInternalServerError {
		slog.Error("request failed", slog.String("kind", kind), slog.String("error", err.Error()))
		writeJSON(w, status, ErrorResponse{
			Error:   kind,
			Message: "An internal error occurred",
		})
		return
	}

	writeJSON(w, status, ErrorResponse{
		Error:   kind,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a JSON request body into dst, rejecting unknown fields
// and trailing data. On failure it has already written a 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid JSON body: " + err.Error(),
		})
		return false
	}
	if dec.More() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid JSON body: unexpected trailing data",
		})
		return false
	}
	return true
}
