// Package client provides the outbound HTTP adapter for the catalog API with
// bounded retry on transport failure.
//
// The retry policy is fixed-delay, not exponential: 3 attempts, 2s apart.
// Non-success status codes are never retried; retry applies to transport
// errors only.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for outbound API requests.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_api_requests_total",
		Help: "Total catalog API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_api_request_duration_seconds",
		Help:    "Catalog API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_api_retries_total",
		Help: "Total retry attempts by endpoint",
	}, []string{"endpoint"})

	apiRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_api_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by endpoint",
	}, []string{"endpoint"})
)

// Outcome classifies how a request resolved. Degraded outcomes carry an empty
// or partial body; no error crosses the adapter boundary.
type Outcome string

const (
	// OutcomeOK is a successful response.
	OutcomeOK Outcome = "ok"

	// OutcomeTransport means the transport failed and all retry attempts
	// were exhausted.
	OutcomeTransport Outcome = "transport_degraded"

	// OutcomeStatus means the server answered with a non-success status
	// code. Never retried.
	OutcomeStatus Outcome = "status_degraded"
)

// Result is the tri-state outcome of a request. Callers treat any degraded
// result as empty but can distinguish the cause for diagnostics.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Body       []byte

	// Err is the underlying cause for degraded outcomes, nil on success.
	Err error
}

// OK reports whether the request succeeded.
func (r Result) OK() bool { return r.Outcome == OutcomeOK }

// Spec describes a single outbound request.
type Spec struct {
	// Method defaults to GET.
	Method string

	URL string

	// Params are query parameters. Empty values are stripped before sending.
	Params map[string]string

	Headers map[string]string

	// Form, when non-nil, is sent as an application/x-www-form-urlencoded
	// body.
	Form url.Values
}

// Config holds the adapter configuration.
type Config struct {
	// Retries is the total attempt count for transport failures.
	Retries int

	// RetryDelay is the fixed inter-attempt delay.
	RetryDelay time.Duration

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Retries:    3,
		RetryDelay: 2 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// Adapter issues single outbound requests with bounded retry.
type Adapter struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new adapter.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Adapter{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logger,
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (a *Adapter) SetHTTPClient(client *http.Client) {
	a.httpClient = client
}

// Request performs a single outbound request. Transport failures are retried
// up to the configured attempt count with a fixed delay; exhausting retries
// yields a degraded result. A non-success status code degrades immediately
// without retrying.
func (a *Adapter) Request(ctx context.Context, spec Spec) Result {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	endpoint := endpointLabel(spec.URL)
	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= a.config.Retries; attempt++ {
		req, err := a.buildRequest(ctx, method, spec)
		if err != nil {
			// A request that cannot be built will not improve on retry.
			a.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Failed to build request")
			apiRequestsTotal.WithLabelValues(endpoint, "build_error").Inc()
			return Result{Outcome: OutcomeTransport, Err: err}
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			lastErr = err
			a.logger.Error().
				Err(err).
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Msg("HTTP request failed")
			apiRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()

			if attempt >= a.config.Retries {
				break
			}

			apiRetriesTotal.WithLabelValues(endpoint).Inc()
			a.logger.Info().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Int("max_attempts", a.config.Retries).
				Msg("Retrying request")

			select {
			case <-ctx.Done():
				a.logger.Warn().Str("endpoint", endpoint).Msg("Context cancelled during retry delay")
				return Result{Outcome: OutcomeTransport, Err: fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())}
			case <-time.After(a.config.RetryDelay):
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
			a.logger.Error().
				Str("endpoint", endpoint).
				Int("status_code", resp.StatusCode).
				Msg("Non-success status from API")
			apiRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
			return Result{Outcome: OutcomeStatus, StatusCode: resp.StatusCode, Err: statusErr}
		}

		if readErr != nil {
			// A truncated body is a transport failure and follows the same
			// retry policy.
			lastErr = readErr
			a.logger.Error().
				Err(readErr).
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Msg("Failed to read response body")
			apiRequestsTotal.WithLabelValues(endpoint, "read_error").Inc()

			if attempt >= a.config.Retries {
				break
			}
			apiRetriesTotal.WithLabelValues(endpoint).Inc()
			select {
			case <-ctx.Done():
				return Result{Outcome: OutcomeTransport, Err: fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())}
			case <-time.After(a.config.RetryDelay):
			}
			continue
		}

		apiRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return Result{Outcome: OutcomeOK, StatusCode: resp.StatusCode, Body: body}
	}

	apiRetryExhaustedTotal.WithLabelValues(endpoint).Inc()
	a.logger.Error().
		Str("endpoint", endpoint).
		Int("max_attempts", a.config.Retries).
		Msg("Max retries reached, giving up")

	return Result{
		Outcome: OutcomeTransport,
		Err:     fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, a.config.Retries, lastErr),
	}
}

// buildRequest assembles an HTTP request from a spec, stripping empty query
// parameters.
func (a *Adapter) buildRequest(ctx context.Context, method string, spec Spec) (*http.Request, error) {
	var body io.Reader
	if spec.Form != nil {
		body = strings.NewReader(spec.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	query := req.URL.Query()
	for key, value := range spec.Params {
		if value == "" {
			continue
		}
		query.Set(key, value)
	}
	req.URL.RawQuery = query.Encode()

	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}
	if spec.Form != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	return req, nil
}

// endpointLabel reduces a URL to its path for metric labels.
func endpointLabel(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return rawURL
	}
	return parsed.Path
}
