package source

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/helixir/unpaywall-client/internal/domain"
)

const (
	snapshotName = "snapshot"

	// maxSnapshotLine bounds one JSON-lines record.
	maxSnapshotLine = 16 << 20

	// searchPageSize matches the page size of the remote search endpoint.
	searchPageSize = 50
)

var gzipMagic = []byte{0x1f, 0x8b}

// snapshotRecord holds the fields needed to answer searches.
type snapshotRecord struct {
	DOI   string `json:"doi"`
	Title string `json:"title"`
	IsOA  bool   `json:"is_oa"`
}

// SnapshotSource answers Unpaywall request URLs from a JSON-lines dump,
// one DOI object per line, optionally gzip-compressed.
type SnapshotSource struct {
	basePath string
	records  map[string]json.RawMessage
	index    []snapshotRecord
}

var _ Source = (*SnapshotSource)(nil)

// OpenSnapshot loads the dump at path. baseURL is the API root the request
// URLs are built against.
func OpenSnapshot(path, baseURL string) (*SnapshotSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	s, err := NewSnapshotSource(f, baseURL)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", path, err)
	}
	return s, nil
}

// NewSnapshotSource reads a dump from r. Gzip input is detected by its magic bytes.
func NewSnapshotSource(r io.Reader, baseURL string) (*SnapshotSource, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}

	br := bufio.NewReader(r)
	if head, err := br.Peek(len(gzipMagic)); err == nil && bytes.Equal(head, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	} else {
		r = br
	}

	s := &SnapshotSource{
		basePath: strings.TrimRight(base.Path, "/"),
		records:  make(map[string]json.RawMessage),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSnapshotLine)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rec snapshotRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.DOI == "" {
			return nil, fmt.Errorf("line %d: record has no doi", line)
		}

		key := strings.ToLower(rec.DOI)
		if _, dup := s.records[key]; !dup {
			s.index = append(s.index, rec)
		}
		s.records[key] = json.RawMessage(bytes.Clone(raw))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	return s, nil
}

// Name returns the source name.
func (s *SnapshotSource) Name() string {
	return snapshotName
}

// Len returns the number of records in the snapshot.
func (s *SnapshotSource) Len() int {
	return len(s.records)
}

// Fetch answers a DOI or search URL. Unknown DOIs yield a 404 response,
// as the remote service does.
func (s *SnapshotSource) Fetch(ctx context.Context, rawURL string) (*domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing request url: %w", err)
	}

	rel := strings.TrimPrefix(strings.TrimPrefix(u.Path, s.basePath), "/")
	if rel == "search" {
		return s.search(rawURL, u.Query())
	}

	if body, ok := s.records[strings.ToLower(rel)]; ok {
		return jsonResponse(rawURL, http.StatusOK, body), nil
	}

	msg, _ := json.Marshal(map[string]any{
		"HTTP_status_code": http.StatusNotFound,
		"error":            true,
		"message":          fmt.Sprintf("'%s' is not in the snapshot", rel),
	})
	return jsonResponse(rawURL, http.StatusNotFound, msg), nil
}

type searchResult struct {
	Response json.RawMessage `json:"response"`
	Score    float64         `json:"score"`
	Snippet  string          `json:"snippet"`
}

// search matches the query case-insensitively against record titles.
func (s *SnapshotSource) search(rawURL string, params url.Values) (*domain.Response, error) {
	query := strings.ToLower(strings.TrimSpace(params.Get("query")))

	var isOA *bool
	if v := params.Get("is_oa"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parsing is_oa: %w", err)
		}
		isOA = &b
	}

	results := make([]searchResult, 0)
	for _, rec := range s.index {
		if len(results) == searchPageSize {
			break
		}
		if isOA != nil && rec.IsOA != *isOA {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(rec.Title), query) {
			continue
		}
		results = append(results, searchResult{
			Response: s.records[strings.ToLower(rec.DOI)],
			Score:    1,
		})
	}

	body, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return nil, fmt.Errorf("encoding search results: %w", err)
	}
	return jsonResponse(rawURL, http.StatusOK, body), nil
}

func jsonResponse(rawURL string, status int, body []byte) *domain.Response {
	return &domain.Response{
		URL:        rawURL,
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       bytes.Clone(body),
	}
}
