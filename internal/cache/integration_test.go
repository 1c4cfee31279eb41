//go:build integration

package cache_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/helixir/unpaywall-client/internal/cache"
	"github.com/helixir/unpaywall-client/internal/config"
	"github.com/helixir/unpaywall-client/internal/database"
	"github.com/helixir/unpaywall-client/internal/domain"
)

type staticFetcher struct{ calls int }

func (f *staticFetcher) Fetch(_ context.Context, doi string) (*domain.Response, error) {
	f.calls++
	return &domain.Response{StatusCode: http.StatusOK, Body: []byte(`{"doi":"` + doi + `"}`)}, nil
}

func (f *staticFetcher) Search(context.Context, string, *bool) (*domain.Response, error) {
	return &domain.Response{StatusCode: http.StatusOK, Body: []byte(`{"results":[]}`)}, nil
}

func TestPostgresStore_Integration(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("unpaywall"),
		tcpostgres.WithUsername("unpaywall"),
		tcpostgres.WithPassword("unpaywall"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := database.New(ctx, &config.DatabaseConfig{
		Host:           host,
		Port:           port.Int(),
		User:           "unpaywall",
		Password:       "unpaywall",
		Name:           "unpaywall",
		SSLMode:        config.SSLModeDisable,
		MaxConns:       2,
		MinConns:       1,
		ConnectTimeout: 10 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	migrator, err := database.NewMigrator(db, "", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	fetcher := &staticFetcher{}
	c, err := cache.New(ctx, cache.NewPostgresStore(db, cache.DefaultTable, "team"), fetcher)
	require.NoError(t, err)

	_, err = c.Get(ctx, "10.1038/nature12373", cache.GetOptions{})
	require.NoError(t, err)

	reloaded, err := cache.New(ctx, cache.NewPostgresStore(db, cache.DefaultTable, "team"), fetcher)
	require.NoError(t, err)
	assert.Equal(t, c.Entries(), reloaded.Entries())

	_, err = reloaded.Get(ctx, "10.1038/nature12373", cache.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)

	require.NoError(t, reloaded.Reset(ctx))
	empty, err := cache.New(ctx, cache.NewPostgresStore(db, cache.DefaultTable, "team"), fetcher)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestRedisStore_Integration(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	fetcher := &staticFetcher{}
	c, err := cache.New(ctx, cache.NewRedisStore(client, "unpaywall_cache"), fetcher)
	require.NoError(t, err)

	_, err = c.Get(ctx, "10.1038/nature12373", cache.GetOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "10.1038/nature12373"))

	reloaded, err := cache.New(ctx, cache.NewRedisStore(client, "unpaywall_cache"), fetcher)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Len())
}
