package httpserver

import (
	"time"

	"github.com/helixir/unpaywall-client/internal/cache"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	Cache        string `json:"cache,omitempty"`
	CacheEntries int    `json:"cache_entries"`
}

type linksResponse struct {
	DOI     string   `json:"doi"`
	DocLink string   `json:"doc_link,omitempty"`
	PDFLink string   `json:"pdf_link,omitempty"`
	Links   []string `json:"links"`
}

type cacheEntryResponse struct {
	DOI        string    `json:"doi"`
	StatusCode int       `json:"status_code"`
	LastAccess time.Time `json:"last_access"`
	Expired    bool      `json:"expired"`
}

type listCacheResponse struct {
	Location string               `json:"location"`
	Entries  []cacheEntryResponse `json:"entries"`
	Total    int                  `json:"total"`
}

type pruneResponse struct {
	Removed int `json:"removed"`
}

func cacheEntryToResponse(e cache.Entry, expired bool) cacheEntryResponse {
	return cacheEntryResponse{
		DOI:        e.Key,
		StatusCode: e.Value.StatusCode,
		LastAccess: e.LastAccess,
		Expired:    expired,
	}
}
