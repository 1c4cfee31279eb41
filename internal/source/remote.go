package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/unpaywall-client/internal/domain"
	"github.com/helixir/unpaywall-client/internal/observability"
)

const (
	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodySize caps the bytes read from one answer.
	DefaultMaxBodySize = 32 << 20

	remoteName = "unpaywall"
)

// Config holds configuration for the remote source.
type Config struct {
	// Timeout is the request timeout. Defaults to 30 seconds.
	Timeout time.Duration

	// MandatoryWait is the spacing between two requests. Zero disables it.
	MandatoryWait time.Duration

	// MaxRetries is the number of retries on 429 and 5xx answers.
	// Zero selects the client default; negative disables retries.
	MaxRetries int

	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// MaxBodySize caps the bytes read from one answer.
	MaxBodySize int64
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
}

// HTTPSource fetches responses from the Unpaywall API.
type HTTPSource struct {
	config     Config
	httpClient *HTTPClient
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a remote source with its own rate-limited client.
// Retries are logged at warn level and 429 answers are counted as rate limited.
func NewHTTPSource(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *HTTPSource {
	cfg.applyDefaults()
	logger = observability.WithComponent(logger, "source")

	httpClient := NewHTTPClient(HTTPClientConfig{
		Timeout:       cfg.Timeout,
		MandatoryWait: cfg.MandatoryWait,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		UserAgent:     cfg.UserAgent,
		OnRetry: func(attempt, status int, delay time.Duration) {
			if status == http.StatusTooManyRequests {
				metrics.RecordSourceRateLimited(remoteName)
			}
			logger.Warn().
				Int("attempt", attempt).
				Int("status", status).
				Dur("delay", delay).
				Msg("retrying source request")
		},
	})

	return &HTTPSource{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
	}
}

// NewHTTPSourceWithClient creates a remote source with a custom HTTP client.
func NewHTTPSourceWithClient(cfg Config, httpClient *HTTPClient, logger zerolog.Logger, metrics *observability.Metrics) *HTTPSource {
	cfg.applyDefaults()

	return &HTTPSource{
		config:     cfg,
		httpClient: httpClient,
		logger:     observability.WithComponent(logger, "source"),
		metrics:    metrics,
	}
}

// Name returns the source name.
func (s *HTTPSource) Name() string {
	return remoteName
}

// Fetch issues a GET request for rawURL and returns the answer.
func (s *HTTPSource) Fetch(ctx context.Context, rawURL string) (*domain.Response, error) {
	endpoint := endpointOf(rawURL)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		s.metrics.RecordSourceRequestFailed(remoteName, endpoint, "request")
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.metrics.RecordSourceRequestFailed(remoteName, endpoint, "transport")
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBodySize))
	if err != nil {
		s.metrics.RecordSourceRequestFailed(remoteName, endpoint, "read")
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	duration := time.Since(start)
	s.metrics.RecordSourceRequest(remoteName, endpoint, duration.Seconds())
	if resp.StatusCode == http.StatusTooManyRequests {
		s.metrics.RecordSourceRateLimited(remoteName)
	}

	s.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("source request completed")

	return &domain.Response{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// endpointOf derives a low-cardinality metrics label from a request URL.
func endpointOf(rawURL string) string {
	path, _, _ := strings.Cut(rawURL, "?")
	if strings.HasSuffix(path, "/search") {
		return EndpointSearch
	}
	return EndpointDOI
}
