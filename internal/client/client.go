package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

// WeatherClient looks up current weather for a free-text location.
// The returned payload is the upstream body, unmodified.
type WeatherClient interface {
	Lookup(ctx context.Context, location string) (json.RawMessage, error)
	HasAPIKey() bool
}

var (
	// ErrMissingAPIKey is returned before any network call when no credential is configured.
	ErrMissingAPIKey = errors.New("weather API key not configured")
	// ErrUpstreamFailure covers transport errors, non-2xx statuses and unparseable bodies.
	ErrUpstreamFailure = errors.New("upstream failure")
)

// maxBodyBytes bounds how much of an upstream body is read into memory.
const maxBodyBytes = 4 << 20

// WeatherstackClient calls a Weatherstack-compatible current-conditions endpoint:
// GET {apiURL}?access_key={key}&query={location}.
type WeatherstackClient struct {
	apiKey  string
	apiURL  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewWeatherstackClient builds a client. apiKey may be empty; Lookup then fails with
// ErrMissingAPIKey. A zero timeout leaves the transport default in place.
func NewWeatherstackClient(apiKey, apiURL string, timeout time.Duration) (*WeatherstackClient, error) {
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	return &WeatherstackClient{
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// SetCircuitBreaker wraps upstream calls in cb. Pass nil to disable.
func (c *WeatherstackClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// HasAPIKey reports whether a credential is configured.
func (c *WeatherstackClient) HasAPIKey() bool {
	return c.apiKey != ""
}

// Lookup performs one synchronous upstream call. It never retries.
func (c *WeatherstackClient) Lookup(ctx context.Context, location string) (json.RawMessage, error) {
	if !c.HasAPIKey() {
		return nil, ErrMissingAPIKey
	}
	if c.breaker == nil {
		return c.callAPI(ctx, location)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callAPI(ctx, location)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.WeatherAPICallsTotal.WithLabelValues("circuit_open").Inc()
			return nil, fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
		}
		return nil, err
	}
	return out.(json.RawMessage), nil
}

func (c *WeatherstackClient) callAPI(ctx context.Context, location string) (json.RawMessage, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, location)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFailure, stripURL(err))
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %w", ErrUpstreamFailure, err)
	}
	// json.Valid applies the same limits as the encoder that serves the record back.
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: parse response: body is not valid JSON", ErrUpstreamFailure)
	}
	return json.RawMessage(body), nil
}

func (c *WeatherstackClient) buildRequest(ctx context.Context, location string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("access_key", c.apiKey)
	params.Set("query", location)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// StatusError reports a non-2xx upstream response. It matches ErrUpstreamFailure.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", ErrUpstreamFailure, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUpstreamFailure
}

// stripURL drops the request URL from transport errors; it carries the access key.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
