package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

const sendTimeout = 10 * time.Second

// postJSON sends payload to url and classifies non-2xx replies into domain
// errors so the notifier logs carry a kind.
func postJSON(ctx context.Context, client *http.Client, op, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &domain.Error{Kind: domain.KindNetwork, Op: op, Msg: "send request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	e := &domain.Error{
		Kind: domain.KindNetwork,
		Op:   op,
		Msg:  fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)),
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = domain.KindAuthentication
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = domain.KindRateLimit
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	case resp.StatusCode < 500:
		e.Kind = domain.KindValidation
	}
	return e
}
