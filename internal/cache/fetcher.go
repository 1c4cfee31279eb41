package cache

import (
	"context"
	"encoding/json"

	"github.com/helixir/unpaywall-client/internal/credentials"
	"github.com/helixir/unpaywall-client/internal/domain"
	"github.com/helixir/unpaywall-client/internal/source"
)

// Fetcher performs the uncached requests behind the cache.
type Fetcher interface {
	// Fetch retrieves the response for doi. Failures are classified as
	// domain validation, transport or remote rejection errors.
	Fetch(ctx context.Context, doi string) (*domain.Response, error)

	// Search runs a free-text query. isOA optionally filters on open access.
	Search(ctx context.Context, query string, isOA *bool) (*domain.Response, error)
}

// RemoteFetcher builds request URLs with the contact address and classifies
// the answers of a source.
type RemoteFetcher struct {
	urls *credentials.URLBuilder
	src  source.Source
}

var _ Fetcher = (*RemoteFetcher)(nil)

// NewRemoteFetcher creates a fetcher for src.
func NewRemoteFetcher(urls *credentials.URLBuilder, src source.Source) *RemoteFetcher {
	return &RemoteFetcher{urls: urls, src: src}
}

// Fetch retrieves the record for doi.
func (f *RemoteFetcher) Fetch(ctx context.Context, doi string) (*domain.Response, error) {
	u, err := f.urls.DOIURL(doi)
	if err != nil {
		return nil, err
	}
	return f.do(ctx, doi, u)
}

// Search runs a query against the search endpoint.
func (f *RemoteFetcher) Search(ctx context.Context, query string, isOA *bool) (*domain.Response, error) {
	u, err := f.urls.QueryURL(query, isOA)
	if err != nil {
		return nil, err
	}
	return f.do(ctx, query, u)
}

func (f *RemoteFetcher) do(ctx context.Context, identifier, rawURL string) (*domain.Response, error) {
	resp, err := f.src.Fetch(ctx, rawURL)
	if err != nil {
		// A cancelled or expired caller context is not a service failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.NewTransportError(identifier, err)
	}
	if !resp.OK() {
		return nil, domain.NewRemoteRejectionError(f.src.Name(), identifier, resp.StatusCode, errorMessage(resp))
	}
	return resp, nil
}

// errorMessage extracts the "message" field of an error body, if any.
func errorMessage(resp *domain.Response) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return ""
	}
	return body.Message
}
