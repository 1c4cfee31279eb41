// Package pdf downloads the open-access PDFs referenced by Unpaywall records.
package pdf

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/unpaywall-client/internal/observability"
)

// Sentinel errors for PDF download operations.
var (
	// ErrNotPDF is returned when the server answers with something other than a PDF,
	// typically an HTML landing page.
	ErrNotPDF = errors.New("pdf: response is not a PDF")
	// ErrTooLarge is returned when the file exceeds the maximum allowed size.
	ErrTooLarge = errors.New("pdf: file exceeds maximum size")
	// ErrDownloadFailed is returned when the download fails due to network or HTTP errors.
	ErrDownloadFailed = errors.New("pdf: download failed")
	// ErrSSRF is returned when the URL resolves to a private/internal network address.
	ErrSSRF = errors.New("pdf: request to private network denied")
)

// Defaults applied by NewDownloader.
const (
	DefaultTimeout   = 60 * time.Second
	DefaultMaxSize   = 100 * 1024 * 1024
	DefaultUserAgent = "unpaywall-client/1.0"
)

var pdfMagic = []byte("%PDF-")

// DownloadResult holds a PDF read fully into memory.
type DownloadResult struct {
	Content     []byte
	ContentHash string // SHA-256, hex encoded
	SizeBytes   int64
	ContentType string
}

// Handle is an open PDF download. Callers must Close it.
type Handle struct {
	io.Reader
	body io.Closer

	// URL is the final URL after redirects.
	URL string
	// ContentType is the Content-Type header of the answer.
	ContentType string
	// Size is the announced Content-Length, or -1 if unknown.
	Size int64
}

// Close releases the underlying connection.
func (h *Handle) Close() error {
	return h.body.Close()
}

// Config holds downloader configuration.
type Config struct {
	// Timeout bounds a whole download, body included.
	Timeout time.Duration
	// MaxSize is the maximum file size in bytes.
	MaxSize int64
	// UserAgent is sent with every request.
	UserAgent string
	// AllowPrivateNetworks disables the private address checks. Tests only.
	AllowPrivateNetworks bool
}

// Downloader fetches PDFs over HTTP.
type Downloader struct {
	client               *http.Client
	maxSize              int64
	userAgent            string
	allowPrivateNetworks bool
	logger               zerolog.Logger
	metrics              *observability.Metrics
}

// NewDownloader creates a Downloader. metrics may be nil.
func NewDownloader(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Downloader {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	d := &Downloader{
		maxSize:              cfg.MaxSize,
		userAgent:            cfg.UserAgent,
		allowPrivateNetworks: cfg.AllowPrivateNetworks,
		logger:               observability.WithComponent(logger, "pdf"),
		metrics:              metrics,
	}

	d.client = &http.Client{
		Timeout: cfg.Timeout,
		// Repository links often redirect; every hop is checked.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("%w: too many redirects", ErrDownloadFailed)
			}
			if !d.allowPrivateNetworks {
				return validateURLNotPrivate(req.URL.String())
			}
			return nil
		},
	}

	return d
}

// Open starts a download and returns a streaming handle. The handle yields
// at most MaxSize bytes; reading past that fails with ErrTooLarge.
func (d *Downloader) Open(ctx context.Context, rawURL string) (*Handle, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: no PDF link", ErrDownloadFailed)
	}
	if !d.allowPrivateNetworks {
		if err := validateURLNotPrivate(rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP %d", ErrDownloadFailed, resp.StatusCode)
	}
	if resp.ContentLength > d.maxSize {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: announced %d bytes, limit %d", ErrTooLarge, resp.ContentLength, d.maxSize)
	}

	contentType := resp.Header.Get("Content-Type")
	br := bufio.NewReader(resp.Body)
	if !isPDFContentType(contentType) {
		head, _ := br.Peek(len(pdfMagic))
		if !bytes.Equal(head, pdfMagic) {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: Content-Type is %q", ErrNotPDF, contentType)
		}
	}

	return &Handle{
		Reader:      &limitedReader{r: br, remaining: d.maxSize, max: d.maxSize},
		body:        resp.Body,
		URL:         resp.Request.URL.String(),
		ContentType: contentType,
		Size:        resp.ContentLength,
	}, nil
}

// Download reads a PDF fully into memory.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*DownloadResult, error) {
	h, err := d.Open(ctx, rawURL)
	if err != nil {
		d.metrics.RecordPDFDownload(0, err)
		return nil, err
	}
	defer h.Close()

	content, err := io.ReadAll(h)
	if err != nil {
		d.metrics.RecordPDFDownload(0, err)
		return nil, readError(err)
	}

	hash := sha256.Sum256(content)
	d.metrics.RecordPDFDownload(int64(len(content)), nil)

	return &DownloadResult{
		Content:     content,
		ContentHash: hex.EncodeToString(hash[:]),
		SizeBytes:   int64(len(content)),
		ContentType: h.ContentType,
	}, nil
}

// SaveToFile downloads a PDF into path and returns the number of bytes written.
// The file only appears once the download completed. progress, if not nil,
// receives a copy of every chunk written.
func (d *Downloader) SaveToFile(ctx context.Context, rawURL, path string, progress io.Writer) (int64, error) {
	n, err := d.saveToFile(ctx, rawURL, path, progress)
	d.metrics.RecordPDFDownload(n, err)
	if err != nil {
		d.logger.Debug().Err(err).Str("url", rawURL).Msg("pdf download failed")
		return 0, err
	}

	d.logger.Debug().Str("path", path).Int64("bytes", n).Msg("pdf saved")
	return n, nil
}

func (d *Downloader) saveToFile(ctx context.Context, rawURL, path string, progress io.Writer) (int64, error) {
	h, err := d.Open(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer h.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var w io.Writer = tmp
	if progress != nil {
		w = io.MultiWriter(tmp, progress)
	}

	n, err := io.Copy(w, h)
	if err != nil {
		tmp.Close()
		return 0, readError(err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("moving file into place: %w", err)
	}

	return n, nil
}

func readError(err error) error {
	if errors.Is(err, ErrTooLarge) {
		return err
	}
	return fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
}

// limitedReader fails with ErrTooLarge once more than max bytes were read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	max       int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, l.max)
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n + int(l.remaining), fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, l.max)
	}
	return n, err
}

func isPDFContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "application/pdf")
	}
	return mediaType == "application/pdf" || mediaType == "application/x-pdf"
}

// privatePrefixes lists ranges that must not be reachable through a PDF link.
var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// validateURLNotPrivate rejects non-HTTP schemes and hosts resolving to private addresses.
func validateURLNotPrivate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSSRF, err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q is not allowed", ErrSSRF, parsed.Scheme)
	}

	host := parsed.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: DNS lookup failed for %s: %w", ErrDownloadFailed, host, err)
	}
	for _, ipStr := range ips {
		addr, err := netip.ParseAddr(ipStr)
		if err == nil && isPrivateAddr(addr) {
			return fmt.Errorf("%w: %s resolves to private address %s", ErrSSRF, host, ipStr)
		}
	}
	return nil
}
