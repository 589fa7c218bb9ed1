// Package mailer sends RFQ emails through a transactional email HTTP API.
package mailer

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

// Client delivers outbound email.
type Client interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// Message is one outbound email.
type Message struct {
	From    string            `json:"from"`
	To      string            `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	Tags    map[string]string `json:"tags,omitempty"`
	// IdempotencyKey lets the provider drop duplicate sends.
	IdempotencyKey string `json:"-"`
}

// SendResult is the provider's acknowledgement.
type SendResult struct {
	ID string `json:"id"`
}

// Option configures the mailer client.
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

// WithDelay spaces consecutive sends by at least d. Zero disables pacing.
func WithDelay(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
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

// NewClient creates a mailer client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.mail.example.com",
		http:    &http.Client{Timeout: 20 * time.Second},
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if msg.To == "" {
		return nil, eris.New("mailer: missing recipient")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "mailer: rate limit")
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, eris.Wrap(err, "mailer: marshal message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "mailer: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if msg.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", msg.IdempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "mailer: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "mailer: read response body")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, resilience.HTTPStatusError("mailer", resp.StatusCode, string(body))
	}

	var out SendResult
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, eris.Wrap(err, "mailer: unmarshal response")
		}
	}
	return &out, nil
}
