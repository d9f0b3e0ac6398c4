// Package handler implements the REST endpoints of the trading desk.
package handler

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// errorBody is the shape of every error response.
type errorBody struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

// writeJSON marshals v and writes it with status. Marshal failures fall back
// to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","kind":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeBadRequest reports a malformed request.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: domain.KindValidation})
}

// writeError maps err to a status code by its kind. Internal errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= 500 && body.Kind == "" {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		body.Error = "internal server error"
	}
	if after := domain.RetryAfterOf(err); after > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(after.Seconds()))))
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, errorBody) {
	kind := domain.KindOf(err)
	if kind == "" {
		return http.StatusInternalServerError, errorBody{Error: err.Error()}
	}
	return statusFor(kind), errorBody{Error: err.Error(), Kind: kind}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthentication:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientMargin, domain.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.KindRateLimit:
		return http.StatusTooManyRequests
	case domain.KindNetwork, domain.KindConnectionFailed, domain.KindConnectionTimeout, domain.KindRetryExhausted:
		return http.StatusBadGateway
	case domain.KindCircuitOpen, domain.KindStaleData, domain.KindNoData:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// parseListOpts reads limit (default 50, max 500), offset and since
// (RFC 3339) from the query string.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	return opts
}

// pathParam returns a ServeMux path wildcard.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

func componentLogger(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
