// Package activities implements the saga's activities against the FX and
// compliance services, a simulated payment gateway, a SQLite ledger and a
// notification publisher.
package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fortressi/paysaga"
)

const maxResponseBytes = 1 << 20

// ServiceOptions configures an HTTP client for a downstream service.
type ServiceOptions struct {
	BaseURL string
	Timeout time.Duration
	// RatePerSecond limits outbound calls; zero means unlimited.
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// serviceClient posts JSON to one downstream service.
type serviceClient struct {
	name    string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func newServiceClient(name string, opts ServiceOptions) *serviceClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	return &serviceClient{
		name:    name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// post sends in as JSON to path and decodes the answer into out. Transport
// failures, 5xx answers, 408 and 429 are transient; other 4xx answers are
// decoded and returned with their status so the caller can interpret them.
func (c *serviceClient) post(ctx context.Context, path string, in, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, paysaga.Transient(fmt.Errorf("%s: rate limiter: %w", c.name, err))
	}

	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to encode request: %w", c.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%s: failed to build request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, paysaga.Transient(fmt.Errorf("%s POST %s: %w", c.name, path, err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, paysaga.Transient(fmt.Errorf("%s POST %s: failed to read response: %w", c.name, path, err))
	}
	if unavailable(resp.StatusCode) {
		return resp.StatusCode, paysaga.Transient(fmt.Errorf("%s POST %s returned %d: %s", c.name, path, resp.StatusCode, bytes.TrimSpace(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s POST %s: failed to decode response: %w", c.name, path, err)
		}
	}
	return resp.StatusCode, nil
}

// unavailable reports whether status means the service could not take the
// call right now.
func unavailable(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= http.StatusInternalServerError
}

func success(status int) bool {
	return status >= 200 && status < 300
}
