// Package source provides the response sources the cache fetches from.
//
// A Source turns a fully built request URL into a domain.Response. The
// remote HTTPSource talks to the Unpaywall API through a rate-limited,
// retrying HTTP client; the SnapshotSource answers the same URLs from a
// local JSON-lines dump. Sources return any HTTP status as a response and
// only fail on transport problems; classifying the status is left to the
// caller.
//
// Example usage:
//
//	src := source.NewHTTPSource(source.Config{MandatoryWait: time.Second}, logger, metrics)
//	resp, err := src.Fetch(ctx, "https://api.unpaywall.org/v2/10.1038/nature12373?email=...")
package source

import (
	"context"

	"github.com/helixir/unpaywall-client/internal/domain"
)

// Endpoint labels for metrics and logs.
const (
	EndpointDOI    = "doi"
	EndpointSearch = "search"
)

// Source retrieves a raw response for a request URL.
type Source interface {
	// Fetch performs the request. Non-2xx answers are returned as responses,
	// not errors; errors signal that no answer was obtained at all.
	Fetch(ctx context.Context, rawURL string) (*domain.Response, error)

	// Name returns a human-readable name for logging and metrics.
	Name() string
}
