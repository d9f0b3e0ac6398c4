package twelvedata

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

// Client is the REST client for Twelve Data prices.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new REST client.
//
// baseURL is the API root, e.g. "https://api.twelvedata.com".
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

// FetchQuote returns the latest price for symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/price?"+params.Encode(), nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("twelvedata: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Quote{}, domain.NewError(domain.KindNetwork, "twelvedata: price "+symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Quote{}, domain.NewError(domain.KindNetwork, "twelvedata: read price", err)
	}

	var pr PriceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		if resp.StatusCode >= 300 {
			return domain.Quote{}, classify(resp.StatusCode, string(body))
		}
		return domain.Quote{}, fmt.Errorf("twelvedata: decode price: %w", err)
	}

	code := resp.StatusCode
	if pr.Status == "error" && pr.Code != 0 {
		code = pr.Code
	}
	if code >= 300 {
		return domain.Quote{}, classify(code, pr.Message)
	}

	price, err := strconv.ParseFloat(pr.Price, 64)
	if err != nil || price <= 0 {
		return domain.Quote{}, domain.Errorf(domain.KindNotFound, "twelvedata: price", "no price for "+symbol)
	}
	return domain.Quote{
		Symbol:    symbol,
		Price:     price,
		Timestamp: c.now(),
		Source:    Source,
	}, nil
}

// classify maps an HTTP or in-body error code onto the domain taxonomy.
func classify(code int, msg string) error {
	text := fmt.Sprintf("twelvedata: code %d: %s", code, msg)
	switch code {
	case http.StatusNotFound:
		return domain.Errorf(domain.KindNotFound, "", text)
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.Errorf(domain.KindAuthentication, "", text)
	case http.StatusTooManyRequests:
		// Credits refill on the minute boundary.
		return &domain.Error{Kind: domain.KindRateLimit, Msg: text, RetryAfter: time.Minute}
	case http.StatusBadRequest:
		return domain.Errorf(domain.KindValidation, "", text)
	default:
		return domain.Errorf(domain.KindNetwork, "", text)
	}
}
