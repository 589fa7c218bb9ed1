// Package enrich provides a client for the company trust-signal provider
// consulted before RFQs go out.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/procure-cli/internal/resilience"
)

// Client looks up trust signals for a company.
type Client interface {
	// Lookup returns the provider's signals, or nil when it has no record.
	Lookup(ctx context.Context, req LookupRequest) (*Signals, error)
}

// LookupRequest identifies a company.
type LookupRequest struct {
	CompanyName  string `json:"company_name"`
	Website      string `json:"website,omitempty"`
	Country      string `json:"country,omitempty"`
	IndustryCode string `json:"industry_code,omitempty"`
}

// Signals is the provider's view of a company.
type Signals struct {
	RiskScore  *float64 `json:"risk_score"`
	Rating     *float64 `json:"rating"`
	Verified   bool     `json:"verified"`
	HasTaxDebt bool     `json:"has_tax_debt"`
}

// Option configures the enrich client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout bounds each lookup request. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit throttles lookups to rps requests per second. Zero disables it.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a signal-provider client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.signals.example.com",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, lr LookupRequest) (*Signals, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "enrich: rate limit")
		}
	}

	payload, err := json.Marshal(lr)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/lookup", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "enrich: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "enrich: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: read response body")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, resilience.HTTPStatusError("enrich", resp.StatusCode, string(body))
	}

	var out Signals
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "enrich: unmarshal response")
	}
	return &out, nil
}
