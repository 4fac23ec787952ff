package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// FetchError wraps a per-ticker fetch failure. It is non-fatal to the
// ingest batch; the next scheduled run is the retry boundary.
type FetchError struct {
	Ticker    string
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Ticker, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Bar is one trading day as returned by the market-data API.
type Bar struct {
	Day    string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Source is the external market-data collaborator: given a ticker,
// return its recent time-ordered daily bars.
type Source interface {
	FetchDaily(ctx context.Context, ticker string) ([]Bar, error)
}

// Client fetches daily bars over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Source = (*Client)(nil)

// NewClient creates a reusable HTTP client for the quotes API.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchDaily returns the recent daily bars for one ticker, oldest
// first. Server-side (5xx) and transport failures are tagged transient;
// everything else is permanent. The ingest stage currently treats both
// the same way, but the distinction is preserved for callers that care.
func (c *Client) FetchDaily(ctx context.Context, ticker string) ([]Bar, error) {
	endpoint := fmt.Sprintf("%s/v1/daily?symbol=%s", c.baseURL, url.QueryEscape(ticker))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Ticker: ticker, Err: err}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Ticker: ticker, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			Ticker:    ticker,
			Transient: resp.StatusCode >= 500,
			Err:       fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var payload struct {
		Bars []Bar `json:"bars"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{Ticker: ticker, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(payload.Bars) == 0 {
		return nil, &FetchError{Ticker: ticker, Err: fmt.Errorf("no bars returned")}
	}
	return payload.Bars, nil
}
