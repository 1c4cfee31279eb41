package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient(t *testing.T) {
	t.Run("creates client with custom config", func(t *testing.T) {
		cfg := HTTPClientConfig{
			Timeout:       15 * time.Second,
			MandatoryWait: 2 * time.Second,
			MaxRetries:    2,
			RetryDelay:    500 * time.Millisecond,
			UserAgent:     "TestAgent/1.0",
		}

		client := NewHTTPClient(cfg)

		require.NotNil(t, client)
		require.NotNil(t, client.pacer)
		assert.Equal(t, 15*time.Second, client.client.Timeout)
		assert.Equal(t, cfg.UserAgent, client.config.UserAgent)
		assert.Equal(t, 2, client.config.MaxRetries)
	})

	t.Run("applies default values", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{})

		assert.Equal(t, 30*time.Second, client.client.Timeout)
		assert.Equal(t, "unpaywall-client/1.0", client.config.UserAgent)
		assert.Equal(t, 3, client.config.MaxRetries)
		assert.Equal(t, time.Second, client.config.RetryDelay)
		assert.Equal(t, 30*time.Second, client.config.MaxRetryDelay)
	})

	t.Run("negative retries disable retrying", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{MaxRetries: -1})
		assert.Equal(t, 0, client.config.MaxRetries)
	})
}

func TestHTTPClient_Do(t *testing.T) {
	t.Run("successful request with User-Agent", func(t *testing.T) {
		var receivedUserAgent string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedUserAgent = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{UserAgent: "TestAgent/2.0"})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "TestAgent/2.0", receivedUserAgent)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, `{"status":"ok"}`, string(body))
	})

	t.Run("preserves existing User-Agent header", func(t *testing.T) {
		var receivedUserAgent string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedUserAgent = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{UserAgent: "DefaultAgent/1.0"})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		req.Header.Set("User-Agent", "CustomAgent/3.0")

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "CustomAgent/3.0", receivedUserAgent)
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{RetryDelay: time.Millisecond})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, int32(1), requestCount.Load())
	})
}

func TestHTTPClient_DoWithMandatoryWait(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientConfig{MandatoryWait: 100 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 3; i++ {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond, "should have waited between requests")
	assert.Equal(t, int32(3), requestCount.Load())
}

func TestHTTPClient_DoRetry(t *testing.T) {
	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requestCount.Add(1) < 3 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("success"))
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			MaxRetries: 3,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(3), requestCount.Load())
	})

	t.Run("respects Retry-After header as seconds", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requestCount.Add(1) == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			MaxRetries: 3,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		start := time.Now()
		resp, err := client.Do(req)
		elapsed := time.Since(start)

		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	})

	t.Run("returns last response after max retries", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("down"))
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			MaxRetries: 2,
			RetryDelay: 5 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, int32(3), requestCount.Load())

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "down", string(body))
	})

	t.Run("no retries when disabled", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{MaxRetries: -1})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, int32(1), requestCount.Load())
	})

	t.Run("network errors are returned after retries", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.Contains(t, err.Error(), "request failed")
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "10")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{MaxRetries: 3})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = client.Do(req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestHTTPClient_OnRetry(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch requestCount.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	type retry struct {
		attempt, status int
		delay           time.Duration
	}
	var retries []retry
	client := NewHTTPClient(HTTPClientConfig{
		MaxRetries:    3,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 10 * time.Millisecond,
		OnRetry: func(attempt, status int, delay time.Duration) {
			retries = append(retries, retry{attempt, status, delay})
		},
	})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []retry{
		{1, http.StatusTooManyRequests, time.Millisecond},
		{2, http.StatusInternalServerError, 2 * time.Millisecond},
	}, retries)
}

func TestHTTPClient_Backoff(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{
		RetryDelay:    100 * time.Millisecond,
		MaxRetryDelay: time.Second,
	})

	assert.Equal(t, 100*time.Millisecond, client.backoff(1))
	assert.Equal(t, 200*time.Millisecond, client.backoff(2))
	assert.Equal(t, 800*time.Millisecond, client.backoff(4))
	assert.Equal(t, time.Second, client.backoff(5))
	assert.Equal(t, time.Second, client.backoff(40))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
		ok    bool
	}{
		{"absent", "", 0, false},
		{"seconds", "7", 7 * time.Second, true},
		{"zero seconds", "0", 0, false},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second, true},
		{"date in the past", now.Add(-time.Minute).Format(http.TimeFormat), 0, false},
		{"garbage", "soon", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseRetryAfter(tt.value, now)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
