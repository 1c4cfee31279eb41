package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/helixir/unpaywall-client/internal/domain"
)

// DefaultPath is the default location of the file store.
const DefaultPath = "unpaywall_cache"

// Store persists the encoded cache as a single blob.
type Store interface {
	// Load returns the stored blob, or an error wrapping domain.ErrNotFound
	// if nothing has been saved at this location yet.
	Load(ctx context.Context) ([]byte, error)

	// Save replaces the stored blob.
	Save(ctx context.Context, blob []byte) error

	// Location identifies where the blob lives, for logs and errors.
	Location() string
}

// FileStore keeps the blob in a local file.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file store. An empty path selects DefaultPath.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

// Location returns the file path.
func (s *FileStore) Location() string {
	return s.path
}

// Load reads the file.
func (s *FileStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewNotFoundError("cache", s.path)
		}
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	return data, nil
}

// Save writes the blob to a temporary file and renames it over the target,
// so a crash never leaves a truncated cache behind.
func (s *FileStore) Save(ctx context.Context, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}

// MemoryStore keeps the blob in memory for the lifetime of the process.
type MemoryStore struct {
	mu   sync.Mutex
	blob []byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Location returns "memory".
func (s *MemoryStore) Location() string {
	return "memory"
}

// Load returns the last saved blob.
func (s *MemoryStore) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blob == nil {
		return nil, domain.NewNotFoundError("cache", "memory")
	}
	return append([]byte(nil), s.blob...), nil
}

// Save keeps a copy of blob.
func (s *MemoryStore) Save(_ context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blob = append([]byte(nil), blob...)
	return nil
}

// storeKind returns a metrics label for s.
func storeKind(s Store) string {
	switch s.(type) {
	case *FileStore:
		return "file"
	case *PostgresStore:
		return "postgres"
	case *RedisStore:
		return "redis"
	case *MemoryStore:
		return "memory"
	default:
		return "custom"
	}
}
