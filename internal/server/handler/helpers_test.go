package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

func TestWriteErrorStatusByKind(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name   string
		err    error
		status int
		kind   domain.ErrorKind
	}{
		{"typed", domain.Errorf(domain.KindInsufficientMargin, "engine", "need 1000"), http.StatusUnprocessableEntity, domain.KindInsufficientMargin},
		{"wrapped sentinel", fmt.Errorf("store: get: %w", domain.ErrNotFound), http.StatusNotFound, domain.KindNotFound},
		{"circuit", domain.Errorf(domain.KindCircuitOpen, "hub", ""), http.StatusServiceUnavailable, domain.KindCircuitOpen},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, logger, httptest.NewRequest(http.MethodGet, "/api/x", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.Kind)
			if tt.kind == "" {
				assert.Equal(t, "internal server error", body.Error)
			}
		})
	}
}

func TestWriteErrorSetsRetryAfter(t *testing.T) {
	err := &domain.Error{Kind: domain.KindRateLimit, Op: "quotes", RetryAfter: 1500 * time.Millisecond}
	rec := httptest.NewRecorder()
	writeError(rec, slog.Default(), httptest.NewRequest(http.MethodGet, "/api/quotes/AAPL", nil), err)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/orders?limit=9000&offset=20&since=2026-01-02T03:04:05Z", nil)
	opts := parseListOpts(r)

	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 20, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), opts.Since.UTC())

	opts = parseListOpts(httptest.NewRequest(http.MethodGet, "/api/orders?limit=-3&since=yesterday", nil))
	assert.Equal(t, 50, opts.Limit)
	assert.Nil(t, opts.Since)
}
