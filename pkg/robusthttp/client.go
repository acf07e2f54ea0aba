package robusthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Adapts slog to the retryablehttp leveled logger interface.
type LeveledSlog struct {
	inner *slog.Logger
}

// retries make individual request errors routine, so ERROR is demoted to WARN
func (l LeveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l LeveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

type settings struct {
	retry   *retryablehttp.Client
	timeout time.Duration
}

type Option func(*settings)

func WithMaxRetries(maxRetries int) Option {
	return func(s *settings) {
		s.retry.RetryMax = maxRetries
	}
}

func WithRetryWaitMin(waitMin time.Duration) Option {
	return func(s *settings) {
		s.retry.RetryWaitMin = waitMin
	}
}

func WithRetryWaitMax(waitMax time.Duration) Option {
	return func(s *settings) {
		s.retry.RetryWaitMax = waitMax
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.retry.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger.With("subsystem", "RobustHTTPClient")})
	}
}

// Replaces the (otel-instrumented, pooled) default transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(s *settings) {
		s.retry.HTTPClient.Transport = transport
	}
}

func WithRetryPolicy(policy retryablehttp.CheckRetry) Option {
	return func(s *settings) {
		s.retry.CheckRetry = policy
	}
}

// Overall timeout for a request, including retries. Long-polling clients need this above their poll interval.
func WithTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		s.timeout = timeout
	}
}

// Generates an HTTP client with decent general-purpose defaults around
// timeouts and retries. The returned client has the stdlib http.Client
// interface, but has Hashicorp retryablehttp logic internally.
//
// Retries connection errors and 5xx responses (except 501), but not 429:
// callers such as the chat platform adapter handle rate limits themselves.
// Outbound requests are traced with otelhttp.
func NewClient(options ...Option) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: slog.Default().With("subsystem", "RobustHTTPClient")})
	retryClient.CheckRetry = DefaultRetryPolicy

	s := &settings{retry: retryClient, timeout: 30 * time.Second}
	for _, option := range options {
		option(s)
	}

	client := s.retry.StandardClient()
	client.Timeout = s.timeout
	return client
}

// DefaultRetryPolicy is a custom wrapper around retryablehttp.DefaultRetryPolicy.
// It treats `429 Too Many Requests` as non-retryable, so the application can decide
// how to deal with rate-limiting.
func DefaultRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Like DefaultRetryPolicy, but also gives up on 500 responses. For endpoints where a 500 means the request itself was bad (eg, a webhook rejecting a payload).
func NoInternalServerErrorPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusInternalServerError {
		return false, nil
	}
	return DefaultRetryPolicy(ctx, resp, err)
}
