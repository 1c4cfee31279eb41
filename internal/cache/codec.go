package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/helixir/unpaywall-client/internal/domain"
)

const blobVersion = 1

// ErrCorruptBlob is returned when a persisted cache cannot be decoded.
var ErrCorruptBlob = errors.New("corrupt cache blob")

// blob is the persisted form of the cache. The two maps always share the same key set.
type blob struct {
	Version     int                        `json:"version"`
	Content     map[string]domain.Response `json:"content"`
	AccessTimes map[string]time.Time       `json:"access_times"`
}

// encodeEntries serializes entries as gzip-compressed JSON.
func encodeEntries(entries map[string]Entry) ([]byte, error) {
	b := blob{
		Version:     blobVersion,
		Content:     make(map[string]domain.Response, len(entries)),
		AccessTimes: make(map[string]time.Time, len(entries)),
	}
	for k, e := range entries {
		b.Content[k] = e.Value
		b.AccessTimes[k] = e.LastAccess
	}

	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encoding cache: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing cache: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compressing cache: %w", err)
	}

	return buf.Bytes(), nil
}

// decodeEntries is the inverse of encodeEntries.
func decodeEntries(data []byte) (map[string]Entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}

	var b blob
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	if b.Version != blobVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptBlob, b.Version)
	}
	if len(b.Content) != len(b.AccessTimes) {
		return nil, fmt.Errorf("%w: %d responses but %d access times", ErrCorruptBlob, len(b.Content), len(b.AccessTimes))
	}

	entries := make(map[string]Entry, len(b.Content))
	for k, v := range b.Content {
		at, ok := b.AccessTimes[k]
		if !ok {
			return nil, fmt.Errorf("%w: no access time for %q", ErrCorruptBlob, k)
		}
		entries[k] = Entry{Key: k, Value: v, LastAccess: at}
	}

	return entries, nil
}
