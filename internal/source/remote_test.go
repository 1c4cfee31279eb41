package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/unpaywall-client/internal/observability"
)

func newTestSource(t *testing.T, metrics *observability.Metrics) *HTTPSource {
	t.Helper()
	return NewHTTPSource(Config{
		Timeout:    5 * time.Second,
		MaxRetries: -1,
	}, zerolog.Nop(), metrics)
}

func TestHTTPSource_Fetch(t *testing.T) {
	t.Run("returns body, status and headers", func(t *testing.T) {
		var gotPath, gotQuery, gotAccept string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			gotAccept = r.Header.Get("Accept")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"doi":"10.1038/nature12373"}`))
		}))
		defer server.Close()

		metrics := observability.NewMetrics("test_source_fetch", prometheus.NewRegistry())
		src := newTestSource(t, metrics)

		resp, err := src.Fetch(context.Background(), server.URL+"/v2/10.1038/nature12373?email=a%40b.org")
		require.NoError(t, err)

		assert.Equal(t, "/v2/10.1038/nature12373", gotPath)
		assert.Equal(t, "email=a%40b.org", gotQuery)
		assert.Equal(t, "application/json", gotAccept)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.JSONEq(t, `{"doi":"10.1038/nature12373"}`, string(resp.Body))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SourceRequestsTotal.WithLabelValues("unpaywall", EndpointDOI)))
	})

	t.Run("non-2xx answers are responses", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":true}`))
		}))
		defer server.Close()

		resp, err := newTestSource(t, nil).Fetch(context.Background(), server.URL+"/v2/a%20bad%20doi")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.False(t, resp.OK())
	})

	t.Run("rate limited answers are counted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		metrics := observability.NewMetrics("test_source_429", prometheus.NewRegistry())
		resp, err := newTestSource(t, metrics).Fetch(context.Background(), server.URL+"/v2/search?query=x")
		require.NoError(t, err)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SourceRateLimited.WithLabelValues("unpaywall")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SourceRequestsTotal.WithLabelValues("unpaywall", EndpointSearch)))
	})

	t.Run("connection refused is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		metrics := observability.NewMetrics("test_source_refused", prometheus.NewRegistry())
		_, err := newTestSource(t, metrics).Fetch(context.Background(), url+"/v2/10.1/x")
		require.Error(t, err)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SourceRequestsFailed.WithLabelValues("unpaywall", EndpointDOI, "transport")))
	})

	t.Run("malformed url is an error", func(t *testing.T) {
		_, err := newTestSource(t, nil).Fetch(context.Background(), "://no-scheme")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "creating request")
	})
}

func TestEndpointOf(t *testing.T) {
	assert.Equal(t, EndpointSearch, endpointOf("https://api.unpaywall.org/v2/search?query=x"))
	assert.Equal(t, EndpointDOI, endpointOf("https://api.unpaywall.org/v2/10.1/search-engines?email=x"))
	assert.Equal(t, EndpointDOI, endpointOf("https://api.unpaywall.org/v2/10.1/x"))
}

func TestHTTPSource_Name(t *testing.T) {
	assert.Equal(t, "unpaywall", newTestSource(t, nil).Name())
}
