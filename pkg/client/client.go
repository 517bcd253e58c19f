// Package client performs rate limited GET requests against the clan API with
// bounded retry and exponential backoff, and runs the fetch worker pool.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/clanwatch/pkg/api"
	"github.com/Sternrassler/clanwatch/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for clan API operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanwatch_api_requests_total",
		Help: "Total clan API requests by kind and status",
	}, []string{"kind", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clanwatch_api_request_duration_seconds",
		Help:    "Clan API request duration in seconds by kind, retries included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clanwatch_api_errors_total",
		Help: "Total clan API errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent: "clanwatch/0.1.0",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// Response is the raw outcome of one fetched request. An empty Body is the
// "no data" sentinel: the failure has already been logged.
type Response struct {
	Request api.Request
	Body    []byte
}

// Empty reports whether the fetch produced no data.
func (r Response) Empty() bool {
	return len(r.Body) == 0
}

// Client is a rate limited clan API client.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a new clan API client. Every attempt, retries included, takes a
// token from limiter.
func New(cfg Config, limiter *ratelimit.Limiter, logger zerolog.Logger) (*Client, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.Jitter == nil {
		cfg.Retry.Jitter = defaultJitter
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Fetch performs req and never fails: on exhausted retries or cancellation it
// logs and returns an empty Response.
func (c *Client) Fetch(ctx context.Context, req api.Request) Response {
	body, err := c.Get(ctx, req)
	if err != nil {
		event := c.logger.Error()
		if errors.Is(err, ErrContextCancelled) {
			event = c.logger.Debug()
		}
		event.Err(err).
			Str("endpoint", req.Endpoint).
			Str("kind", string(req.Kind)).
			Msg("Fetch failed, dropping request")
		return Response{Request: req}
	}
	return Response{Request: req, Body: body}
}

// Get performs req with rate limiting and retries and returns the response body.
// Non-transient HTTP errors are not retried; their body is returned as-is.
func (c *Client) Get(ctx context.Context, req api.Request) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(startTime).Seconds())
	}()

	target, err := buildURL(req)
	if err != nil {
		return nil, err
	}

	var body []byte
	retryErr := retryWithBackoff(ctx, c.config.Retry, c.logger, func(attempt int) (ErrorClass, error) {
		if err := c.limiter.Acquire(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		var errClass ErrorClass
		body, errClass, err = c.do(ctx, req, target)
		return errClass, err
	})
	if retryErr != nil {
		return nil, retryErr
	}
	return body, nil
}

// do executes one HTTP attempt.
func (c *Client) do(ctx context.Context, req api.Request, target string) ([]byte, ErrorClass, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", req.Endpoint).
		Str("kind", string(req.Kind)).
		Msg("Executing clan API request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		c.logger.Warn().Err(err).Str("endpoint", req.Endpoint).Msg("HTTP request failed")
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		apiRequestsTotal.WithLabelValues(string(req.Kind), "network_error").Inc()
		return nil, ErrorClassNetwork, &APIError{ErrorClass: ErrorClassNetwork, Message: "connection failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, ErrorClassNetwork, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	apiRequestsTotal.WithLabelValues(string(req.Kind), strconv.Itoa(resp.StatusCode)).Inc()

	errClass := classifyStatus(resp.StatusCode)
	if errClass == "" {
		return data, "", nil
	}

	apiErrorsTotal.WithLabelValues(string(errClass)).Inc()
	c.logger.Warn().
		Str("endpoint", req.Endpoint).
		Int("status", resp.StatusCode).
		Str("error_class", string(errClass)).
		Msg("Clan API request error")

	if shouldRetry(errClass) {
		return nil, errClass, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	// Not transient: hand the body to the validator.
	return data, "", nil
}

// classifyStatus categorizes an HTTP status. Successful statuses map to "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusGatewayTimeout:
		return ErrorClassGatewayTimeout
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

func buildURL(req api.Request) (string, error) {
	u, err := url.Parse(req.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", req.Endpoint, err)
	}
	q := u.Query()
	for k, v := range req.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func defaultJitter() float64 {
	return rand.Float64()
}
