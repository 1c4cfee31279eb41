package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPClientConfig holds configuration for the polite HTTP client.
type HTTPClientConfig struct {
	// Timeout bounds a single attempt, including reading the headers.
	Timeout time.Duration

	// MandatoryWait is the minimum spacing between two attempts.
	// Zero disables spacing.
	MandatoryWait time.Duration

	// MaxRetries is the maximum number of retry attempts on 429, 5xx and
	// network errors. Zero selects the default; negative disables retries.
	MaxRetries int

	// RetryDelay is the backoff before the first retry. It doubles with
	// every further retry up to MaxRetryDelay.
	RetryDelay time.Duration

	// MaxRetryDelay caps the backoff and any Retry-After the server asks for.
	MaxRetryDelay time.Duration

	// UserAgent is sent when the request carries none.
	UserAgent string

	// Transport overrides the default round tripper. Tests only.
	Transport http.RoundTripper

	// OnRetry, when set, is called before every retry with the failed
	// attempt number (starting at 1), the status of the answer (0 for a
	// network error) and the delay about to be waited.
	OnRetry func(attempt, status int, delay time.Duration)
}

// HTTPClient sends requests spaced by a mandatory wait and retries answers
// that indicate a transient failure.
type HTTPClient struct {
	client *http.Client
	pacer  *Pacer
	config HTTPClientConfig
}

// NewHTTPClient creates a new client from cfg, filling unset fields with defaults.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = 3
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "unpaywall-client/1.0"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		pacer:  NewPacer(cfg.MandatoryWait),
		config: cfg,
	}
}

// Do sends req, waiting for the mandatory spacing before every attempt.
//
// Answers with status 429 or 5xx and network errors are retried up to
// MaxRetries times. When retries are exhausted on such a status the last
// response is returned unread so the caller can classify it. Requests with
// a body are retried only when GetBody is set.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	for attempt := 1; ; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for request slot: %w", err)
		}

		resp, err := c.client.Do(req)
		last := attempt > c.config.MaxRetries || !rewindable(req)

		var status int
		var delay time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if last {
				return nil, fmt.Errorf("request failed after %d attempt(s): %w", attempt, err)
			}
			delay = c.backoff(attempt)
		case retryable(resp.StatusCode) && !last:
			status = resp.StatusCode
			delay = c.backoff(attempt)
			if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				delay = min(d, c.config.MaxRetryDelay)
			}
			drain(resp.Body)
		default:
			return resp, nil
		}

		if c.config.OnRetry != nil {
			c.config.OnRetry(attempt, status, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		if err := rewind(req); err != nil {
			return nil, fmt.Errorf("cannot retry request: %w", err)
		}
	}
}

// backoff returns the delay after the given failed attempt.
func (c *HTTPClient) backoff(attempt int) time.Duration {
	d := c.config.RetryDelay
	for i := 1; i < attempt && d < c.config.MaxRetryDelay; i++ {
		d *= 2
	}
	return min(d, c.config.MaxRetryDelay)
}

// retryable reports whether status signals a transient failure.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// parseRetryAfter reads a Retry-After value given in seconds or as an HTTP
// date. It reports false when the value is absent, malformed or not in the future.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		return d, d > 0
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}

func rewindable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func rewind(req *http.Request) error {
	if req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	if body == nil {
		return errors.New("GetBody returned no body")
	}
	req.Body = body
	return nil
}
