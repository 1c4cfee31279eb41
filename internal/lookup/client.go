// Package lookup is the entry point for DOI lookups: it validates identifier
// lists, reads records through the response cache and turns them into tables,
// links and PDF downloads.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/unpaywall-client/internal/cache"
	"github.com/helixir/unpaywall-client/internal/domain"
	"github.com/helixir/unpaywall-client/internal/observability"
	"github.com/helixir/unpaywall-client/internal/pdf"
	"github.com/helixir/unpaywall-client/internal/table"
)

// DailyQuota is the largest number of identifiers accepted in one batch.
const DailyQuota = 100000

// CacheAPI is what the client needs from a response cache.
// *cache.ResponseCache implements it.
type CacheAPI interface {
	Get(ctx context.Context, doi string, opts cache.GetOptions) (*domain.Response, error)
	Search(ctx context.Context, query string, isOA *bool, mode domain.ErrorMode) (*domain.Response, error)
}

var _ CacheAPI = (*cache.ResponseCache)(nil)

// PDFDownloader fetches the PDF behind a link. *pdf.Downloader implements it.
type PDFDownloader interface {
	Open(ctx context.Context, rawURL string) (*pdf.Handle, error)
	SaveToFile(ctx context.Context, rawURL, path string, progress io.Writer) (int64, error)
}

var _ PDFDownloader = (*pdf.Downloader)(nil)

// ProgressFunc is called once per processed identifier with the number done so far.
type ProgressFunc func(done, total int)

// Options controls a single lookup call.
type Options struct {
	// Format selects raw or extended rows. Empty means raw.
	Format domain.Format
	// ErrorMode selects raise or ignore. Empty means raise.
	ErrorMode domain.ErrorMode
	// Progress, if set, is called after each identifier.
	Progress ProgressFunc
	// Force re-fetches cached records.
	Force bool
	// IgnoreCache fetches without reading or writing the cache.
	IgnoreCache bool
}

func (o Options) getOptions(bypass bool) cache.GetOptions {
	return cache.GetOptions{
		ErrorMode:   o.ErrorMode,
		Force:       o.Force,
		IgnoreCache: o.IgnoreCache || bypass,
	}
}

func (o Options) resolve() (domain.Format, domain.ErrorMode, error) {
	format := o.Format
	if format == "" {
		format = domain.FormatRaw
	}
	if err := format.Validate(); err != nil {
		return "", "", err
	}

	mode := o.ErrorMode
	if mode == "" {
		mode = domain.ErrorModeRaise
	}
	if err := mode.Validate(); err != nil {
		return "", "", err
	}
	return format, mode, nil
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithPDFDownloader sets the downloader used for PDF links.
func WithPDFDownloader(d PDFDownloader) Option {
	return func(c *Client) {
		c.pdf = d
	}
}

// WithBypassCache makes every lookup skip the cache, as if IgnoreCache were always set.
func WithBypassCache(bypass bool) Option {
	return func(c *Client) {
		c.bypass = bypass
	}
}

// LockFunc runs fn while holding a lock shared by every process using the
// same cache store. It reports false without running fn when the lock is held.
type LockFunc func(ctx context.Context, key int64, fn func(ctx context.Context) error) (bool, error)

// WithLock sets the cross-process lock of the cache store.
func WithLock(lock LockFunc) Option {
	return func(c *Client) {
		c.lock = lock
	}
}

// WithHealthCheck sets the function Ping uses to check the cache store.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(c *Client) {
		c.health = fn
	}
}

// WithCloser registers a function run by Close.
func WithCloser(fn func() error) Option {
	return func(c *Client) {
		c.closers = append(c.closers, fn)
	}
}

// Client performs lookups through a response cache.
type Client struct {
	mu      sync.RWMutex
	cache   CacheAPI
	pdf     PDFDownloader
	bypass  bool
	lock    LockFunc
	health  func(ctx context.Context) error
	logger  zerolog.Logger
	metrics *observability.Metrics
	closers []func() error
}

// New creates a client backed by c.
func New(c CacheAPI, opts ...Option) *Client {
	client := &Client{
		cache:  c,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = observability.WithComponent(client.logger, "lookup")
	return client
}

// Init replaces the cache used by subsequent lookups.
func (c *Client) Init(cache CacheAPI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = cache
}

// Cache returns the cache in use.
func (c *Client) Cache() CacheAPI {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache
}

// Lock returns the cross-process lock of the cache store, or nil when the
// store has none.
func (c *Client) Lock() LockFunc {
	return c.lock
}

// Ping checks the cache store. Stores without a connection always succeed.
func (c *Client) Ping(ctx context.Context) error {
	if c.health == nil {
		return nil
	}
	return c.health(ctx)
}

// Close releases resources registered with WithCloser, in reverse order.
func (c *Client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// ValidateIdentifiers checks that v is a non-empty list of at most DailyQuota
// identifiers and returns a copy with surrounding whitespace removed from each
// element. Order and duplicates are kept.
func ValidateIdentifiers(v any) ([]string, error) {
	var list []string
	switch x := v.(type) {
	case nil:
		return nil, noIdentifiers()
	case []string:
		list = x
	case []any:
		list = make([]string, len(x))
		for i, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, notAList()
			}
			list[i] = s
		}
	default:
		return nil, notAList()
	}

	if len(list) == 0 {
		return nil, noIdentifiers()
	}
	if len(list) > DailyQuota {
		return nil, domain.NewValidationError(domain.ErrInvalidInput, "dois",
			fmt.Sprintf("the number of DOIs (%d) exceeds the daily quota of %d", len(list), DailyQuota))
	}

	out := make([]string, len(list))
	for i, s := range list {
		out[i] = strings.TrimSpace(s)
	}
	return out, nil
}

func noIdentifiers() error {
	return domain.NewValidationError(domain.ErrInvalidInput, "dois", "no DOI specified")
}

func notAList() error {
	return domain.NewValidationError(domain.ErrInvalidInput, "dois", "the input format must be of type list")
}

// Records looks up every identifier in order and returns the combined table.
// Identifiers with no record are skipped. It returns nil when no row was produced.
func (c *Client) Records(ctx context.Context, dois any, opts Options) (*table.Table, error) {
	format, mode, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	list, err := ValidateIdentifiers(dois)
	if err != nil {
		return nil, err
	}
	opts.ErrorMode = mode

	out := table.New()
	for i, doi := range list {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(list))
		}

		record, err := c.JSON(ctx, doi, opts)
		if err != nil {
			return nil, err
		}

		rows, err := table.Flatten(record, format)
		if err != nil {
			return nil, err
		}
		c.metrics.RecordRecordProcessed(string(format), rows.Len())
		out.Concat(rows)
	}

	if out.Len() == 0 {
		return nil, nil
	}
	return out, nil
}

// JSON returns the decoded record for doi, or nil when there is none.
func (c *Client) JSON(ctx context.Context, doi string, opts Options) (map[string]any, error) {
	var record map[string]any
	ok, err := c.decode(ctx, doi, opts, &record)
	if !ok || err != nil {
		return nil, err
	}
	return record, nil
}

// Record returns the typed record for doi, or nil when there is none.
func (c *Client) Record(ctx context.Context, doi string, opts Options) (*domain.Record, error) {
	var record domain.Record
	ok, err := c.decode(ctx, doi, opts, &record)
	if !ok || err != nil {
		return nil, err
	}
	return &record, nil
}

// decode fetches doi and decodes the body into v. It reports false when
// there was nothing to decode, including failures swallowed by the ignore mode.
func (c *Client) decode(ctx context.Context, doi string, opts Options, v any) (bool, error) {
	_, mode, err := opts.resolve()
	if err != nil {
		return false, err
	}
	opts.ErrorMode = mode

	resp, err := c.Cache().Get(ctx, doi, opts.getOptions(c.bypass))
	if err != nil || resp == nil {
		return false, err
	}

	if resp.Empty() {
		err := domain.NewParseError(doi, errors.New("empty response body"))
		if mode.Ignore() {
			c.logger.Warn().Str("doi", doi).Err(err).Msg("no record returned")
			return false, nil
		}
		return false, err
	}

	if err := resp.JSON(doi, v); err != nil {
		if mode.Ignore() {
			c.logger.Warn().Str("doi", doi).Err(err).Msg("record is not valid JSON")
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PDFLink returns best_oa_location.url_for_pdf, or "" when there is none.
func (c *Client) PDFLink(ctx context.Context, doi string, opts Options) (string, error) {
	r, err := c.Record(ctx, doi, opts)
	if err != nil {
		return "", err
	}
	return r.PDFLink(), nil
}

// DocLink returns best_oa_location.url, or "" when there is none.
func (c *Client) DocLink(ctx context.Context, doi string, opts Options) (string, error) {
	r, err := c.Record(ctx, doi, opts)
	if err != nil {
		return "", err
	}
	return r.DocLink(), nil
}

// AllLinks returns the doc link and the PDF link, de-duplicated in that order.
func (c *Client) AllLinks(ctx context.Context, doi string, opts Options) ([]string, error) {
	r, err := c.Record(ctx, doi, opts)
	if err != nil {
		return nil, err
	}
	return r.AllLinks(), nil
}

// DownloadPDFHandle opens the best PDF of doi for streaming. The caller closes it.
func (c *Client) DownloadPDFHandle(ctx context.Context, doi string, opts Options) (*pdf.Handle, error) {
	link, err := c.pdfLink(ctx, doi, opts)
	if err != nil {
		return nil, err
	}
	return c.pdf.Open(ctx, link)
}

// DownloadPDFFile saves the best PDF of doi as dir/filename and returns the path.
// An empty filename is derived from the DOI; an empty dir means the working directory.
func (c *Client) DownloadPDFFile(ctx context.Context, doi, filename, dir string, progress io.Writer, opts Options) (string, error) {
	link, err := c.pdfLink(ctx, doi, opts)
	if err != nil {
		return "", err
	}

	if filename == "" {
		filename = DefaultFilename(doi)
	}
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, filename)

	if _, err := c.pdf.SaveToFile(ctx, link, path, progress); err != nil {
		return "", err
	}
	return path, nil
}

func (c *Client) pdfLink(ctx context.Context, doi string, opts Options) (string, error) {
	if c.pdf == nil {
		return "", fmt.Errorf("no PDF downloader configured")
	}
	link, err := c.PDFLink(ctx, doi, opts)
	if err != nil {
		return "", err
	}
	if link == "" {
		return "", domain.NewNotFoundError("pdf link", doi)
	}
	return link, nil
}

// DefaultFilename derives a file name from a DOI: path separators become
// underscores and ".pdf" is appended.
func DefaultFilename(doi string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, strings.TrimSpace(doi))
	return name + ".pdf"
}

// Query runs a free-text search and flattens the response object of each result.
// It returns nil when the search produced no row.
func (c *Client) Query(ctx context.Context, text string, isOA *bool, opts Options) (*table.Table, error) {
	format, mode, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewValidationError(domain.ErrInvalidInput, "query", "no query specified")
	}

	resp, err := c.Cache().Search(ctx, text, isOA, mode)
	if err != nil || resp == nil {
		return nil, err
	}

	var body struct {
		Results []struct {
			Response map[string]any `json:"response"`
		} `json:"results"`
	}
	if err := resp.JSON(text, &body); err != nil {
		if mode.Ignore() {
			c.logger.Warn().Str("query", text).Err(err).Msg("search results are not valid JSON")
			return nil, nil
		}
		return nil, err
	}

	out := table.New()
	for i, r := range body.Results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(body.Results))
		}
		rows, err := table.Flatten(r.Response, format)
		if err != nil {
			return nil, err
		}
		out.Concat(rows)
	}

	if out.Len() == 0 {
		return nil, nil
	}
	return out, nil
}
