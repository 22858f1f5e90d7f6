package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/sidereal-labs/jyotish-client/pkg/logging"
	"github.com/sidereal-labs/jyotish-client/pkg/ratelimit"
)

// Prometheus metrics for provider calls.
var (
	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jyotish_provider_requests_total",
		Help: "Total provider requests by status",
	}, []string{"status"})

	providerRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jyotish_provider_request_duration_seconds",
		Help:    "Provider request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
	})

	providerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jyotish_provider_errors_total",
		Help: "Total provider errors by class",
	}, []string{"class"})
)

// ChartComputer is the narrow operation this core needs from the upstream
// provider.
type ChartComputer interface {
	ComputeChart(ctx context.Context, params BirthParams) (*ChartResult, error)
}

// Config holds the provider client configuration.
type Config struct {
	// BaseURL of the computation service.
	BaseURL string

	// APIKey sent as a bearer token.
	APIKey string

	// RateLimit is the sustained request rate toward the provider.
	// The provider contract allows roughly one call per second.
	RateLimit float64

	// Burst is the pacing burst capacity.
	Burst int

	// Timeout bounds each upstream call.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		RateLimit: 1.0,
		Burst:     1,
		Timeout:   20 * time.Second,
	}
}

// Client calls the computation service over HTTP with caller-side pacing
// and a bounded per-call timeout.
type Client struct {
	httpClient *http.Client
	pacer      *ratelimit.Pacer
	config     Config
	logger     zerolog.Logger
}

// New creates a provider client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1.0
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	pacer, err := ratelimit.NewPacer(cfg.RateLimit, cfg.Burst)
	if err != nil {
		return nil, fmt.Errorf("create pacer: %w", err)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		pacer:  pacer,
		config: cfg,
		logger: logging.NewLogger("provider"),
	}, nil
}

// ComputeChart performs one chart computation. The operation is idempotent:
// the provider computes a pure function of params, so a retried call can
// never produce a different result.
func (c *Client) ComputeChart(ctx context.Context, params BirthParams) (*ChartResult, error) {
	if err := params.Validate(); err != nil {
		return nil, &APIError{
			StatusCode: http.StatusBadRequest,
			Class:      ErrorClassClient,
			Message:    "invalid birth parameters",
			Err:        err,
		}
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return nil, &APIError{Class: ErrorClassNetwork, Message: "pacing interrupted", Err: err}
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal birth parameters: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/chart", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	providerRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		providerErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		providerRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Warn().Err(err).Msg("Provider request failed")
		return nil, &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	providerRequestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		class := classifyStatus(resp.StatusCode)
		providerErrorsTotal.WithLabelValues(string(class)).Inc()

		msg := resp.Status
		if body, err := io.ReadAll(io.LimitReader(resp.Body, 512)); err == nil && len(body) > 0 {
			msg = string(body)
		}

		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("class", string(class)).
			Msg("Provider returned error")

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    msg,
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		providerErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{Class: ErrorClassNetwork, Message: "read response", Err: err}
	}

	var result ChartResult
	if err := json.Unmarshal(raw, &result); err != nil {
		providerErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassServer,
			Message:    "malformed chart payload",
			Err:        err,
		}
	}
	result.Raw = raw

	c.logger.Debug().
		Str("date", params.Date).
		Dur("duration", time.Since(start)).
		Msg("Chart computed")

	return &result, nil
}

// IsTimeout reports whether the error is a timeout or deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Err != nil {
		return IsTimeout(apiErr.Err)
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyStatus categorizes an HTTP status for observability and retry.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassNetwork
	}
}
