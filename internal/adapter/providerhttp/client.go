// Package providerhttp is the HTTP plumbing shared by the geocoding adapters:
// rate-limited JSON GETs with status codes mapped onto domain.ErrorKind.
package providerhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/locations/internal/domain"
)

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 2 << 20

// Options configures a Client.
type Options struct {
	Timeout   time.Duration
	UserAgent string

	// RatePerSecond limits outgoing requests. Zero disables limiting.
	RatePerSecond float64
	Burst         int

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client issues GET requests for one provider.
type Client struct {
	provider   string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Client that tags every error with provider.
func New(provider string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &Client{
		provider:   provider,
		userAgent:  opts.UserAgent,
		httpClient: hc,
		limiter:    limiter,
	}
}

// GetJSON fetches fullURL and decodes the body into out. The raw body is
// returned so adapters can keep it alongside parsed candidates.
func (c *Client) GetJSON(ctx context.Context, fullURL string, out any) (json.RawMessage, error) {
	// Wait fails only when the context ends or its deadline is too close.
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewGeocodeError(domain.KindTimeout, c.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, domain.NewGeocodeError(domain.KindBadResponse, c.provider, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.ClassifyTransport(c.provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.ClassifyTransport(c.provider, fmt.Errorf("read body: %w", err))
	}

	if kind, ok := ClassifyStatus(resp.StatusCode); ok {
		return nil, domain.NewGeocodeError(kind, c.provider, &StatusError{Code: resp.StatusCode, Body: snippet(body)})
	}

	if err := json.Unmarshal(body, out); err != nil {
		return nil, domain.NewGeocodeError(domain.KindBadResponse, c.provider, fmt.Errorf("decode response: %w", err))
	}
	return json.RawMessage(body), nil
}

// StatusError records a non-2xx provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// StatusCode extracts the HTTP status from an error chain, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// ClassifyStatus maps a non-2xx HTTP status to an error kind. ok is false
// for 2xx statuses.
func ClassifyStatus(code int) (domain.ErrorKind, bool) {
	switch {
	case code >= 200 && code < 300:
		return "", false
	case code == http.StatusTooManyRequests, code == http.StatusPaymentRequired:
		return domain.KindRateLimited, true
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return domain.KindProviderDown, true
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return domain.KindTimeout, true
	case code >= 500:
		return domain.KindProviderDown, true
	default:
		return domain.KindBadResponse, true
	}
}

func snippet(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
