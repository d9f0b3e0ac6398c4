package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// Client is the REST client for Finnhub quotes.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new REST client.
//
// baseURL is the API root, e.g. "https://finnhub.io/api/v1".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

// FetchQuote returns the latest price for symbol. Finnhub answers unknown
// symbols with an all-zero body, which is reported as not found.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("symbol", ToProvider(symbol))
	if c.apiKey != "" {
		params.Set("token", c.apiKey)
	}

	body, err := c.doGet(ctx, "/quote?"+params.Encode())
	if err != nil {
		return domain.Quote{}, fmt.Errorf("finnhub: quote %s: %w", symbol, err)
	}

	var resp QuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Quote{}, fmt.Errorf("finnhub: decode quote: %w", err)
	}
	if resp.Current <= 0 {
		return domain.Quote{}, domain.Errorf(domain.KindNotFound, "finnhub: quote", "no price for "+symbol)
	}

	q := domain.Quote{
		Symbol:    symbol,
		Price:     resp.Current,
		Timestamp: c.now(),
		Source:    Source,
	}
	if resp.Timestamp > 0 {
		q.ProviderTime = time.Unix(resp.Timestamp, 0).UTC()
	}
	return q, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.KindNetwork, "http request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewError(domain.KindNetwork, "read response", err)
	}

	if err := checkHTTPStatus(resp, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses onto the domain error taxonomy.
func checkHTTPStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return domain.Errorf(domain.KindNotFound, "", msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.Errorf(domain.KindAuthentication, "", msg)
	case http.StatusTooManyRequests:
		e := domain.Errorf(domain.KindRateLimit, "", msg)
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
		return e
	case http.StatusBadRequest:
		return domain.Errorf(domain.KindValidation, "", msg)
	default:
		return domain.Errorf(domain.KindNetwork, "", msg)
	}
}
