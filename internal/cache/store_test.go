package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/unpaywall-client/internal/domain"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file is not found", func(t *testing.T) {
		store := NewFileStore(filepath.Join(t.TempDir(), "absent"))

		_, err := store.Load(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("save creates directories and replaces content", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nested", "cache")
		store := NewFileStore(path)
		assert.Equal(t, path, store.Location())

		require.NoError(t, store.Save(ctx, []byte("first")))
		require.NoError(t, store.Save(ctx, []byte("second")))

		data, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), data)

		files, err := os.ReadDir(filepath.Join(dir, "nested"))
		require.NoError(t, err)
		require.Len(t, files, 1, "temp files are cleaned up")
		assert.Equal(t, "cache", files[0].Name())
	})

	t.Run("default path", func(t *testing.T) {
		assert.Equal(t, DefaultPath, NewFileStore("").Location())
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		store := NewFileStore(filepath.Join(t.TempDir(), "cache"))

		assert.ErrorIs(t, store.Save(ctx, []byte("x")), context.Canceled)
		_, err := store.Load(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStoreKind(t *testing.T) {
	assert.Equal(t, "file", storeKind(NewFileStore("")))
	assert.Equal(t, "postgres", storeKind(NewPostgresStore(nil, "", "")))
	assert.Equal(t, "redis", storeKind(NewRedisStore(nil, "")))
	assert.Equal(t, "memory", storeKind(NewMemoryStore()))
	assert.Equal(t, "custom", storeKind(&memStore{}))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Load(ctx)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	blob := []byte("blob")
	require.NoError(t, store.Save(ctx, blob))
	blob[0] = 'X'

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)
}
