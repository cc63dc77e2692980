package http

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/parser"
	"budget/internal/services"
	"budget/internal/storage"
)

// statusFor maps domain errors to HTTP status codes. Anything unrecognized is a 500.
func statusFor(err error) int {
	var (
		reqErr   *requestError
		missing  *parser.MissingColumnsError
		rowErr   *parser.RowParseError
		tooLarge *http.MaxBytesError
		csvErr   *csv.ParseError
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &reqErr), errors.As(err, &missing), errors.As(err, &rowErr), errors.As(err, &csvErr),
		errors.Is(err, parser.ErrNotUTF8), errors.Is(err, parser.ErrEmptyFile), errors.Is(err, parser.ErrFieldCount):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUploadNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidMonth), errors.Is(err, core.ErrInvalidPolicy),
		errors.Is(err, core.ErrUnknownCategory), errors.Is(err, core.ErrSubcategoryNotAllowed),
		errors.Is(err, services.ErrNoMonths):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		// client went away
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error, status int) errorView {
	if status >= http.StatusInternalServerError {
		return errorView{Error: http.StatusText(status)}
	}
	v := errorView{Error: err.Error()}
	var missing *parser.MissingColumnsError
	if errors.As(err, &missing) {
		v.MissingColumns = missing.Missing
	}
	var rowErr *parser.RowParseError
	if errors.As(err, &rowErr) {
		v.Line = rowErr.Line
		v.Column = rowErr.Column
	}
	return v
}

// writeError logs server-side failures and renders the JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := applog.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", applog.FieldError, err, applog.FieldStatusCode, status)
	} else {
		logger.InfoContext(r.Context(), "Request rejected", applog.FieldError, err, applog.FieldStatusCode, status)
	}
	writeJSON(w, status, errorBody(err, status))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", applog.FieldError, err)
	}
}
