// Package fetch provides the HTTP clients for the routing API: quotes, token
// price lists and currency rates.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/Azurepeal/neighbor-swap/internal/circuitbreaker"
	"github.com/Azurepeal/neighbor-swap/internal/metrics"
)

// APIError is returned when an endpoint answers with a non-2xx status
type APIError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error from %s: status %d, body: %s", e.URL, e.StatusCode, e.Body)
}

// Options configures the shared HTTP transport
type Options struct {
	// Retries is the number of automatic retries after the first attempt
	Retries int

	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// Timeout bounds a single attempt
	Timeout time.Duration

	// Breakers guards quote endpoints; nil disables the circuit breaker
	Breakers *circuitbreaker.Set

	Metrics *metrics.Metrics
}

// DefaultOptions returns the transport defaults: 3 retries with the
// library's backoff
func DefaultOptions() Options {
	return Options{
		Retries:      3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 3 * time.Second,
		Timeout:      10 * time.Second,
	}
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient(opts Options) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = opts.Retries
	c.RetryWaitMin = opts.RetryWaitMin
	c.RetryWaitMax = opts.RetryWaitMax
	c.HTTPClient.Timeout = opts.Timeout
	c.Logger = nil
	return c
}

// transport performs JSON requests over a retrying client
type transport struct {
	client *retryablehttp.Client
	log    *logrus.Entry
}

func newTransport(opts Options, component string) transport {
	return transport{
		client: newRetryClient(opts),
		log:    logrus.WithField("component", component),
	}
}

// doJSON sends body (if any) as JSON and decodes a 2xx response into out
func (t transport) doJSON(ctx context.Context, method, url string, body, out any) error {
	var raw []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		raw = encoded
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, raw)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	t.log.Debugf("%s %s", method, url)
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("error requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{URL: url, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// statusLabel maps an error to a metrics label
func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return "api_error"
	}
	return "error"
}
