package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/helixir/unpaywall-client/internal/domain"
)

// DefaultTable is the table created by the bundled migrations.
const DefaultTable = "response_cache_blobs"

// PgxQuerier is the subset of database.DBTX used by PostgresStore.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresStore keeps the blob in one row of a PostgreSQL table, keyed by location.
type PostgresStore struct {
	db       PgxQuerier
	table    string
	location string

	selectSQL string
	upsertSQL string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store for the row named location in table.
// An empty table selects DefaultTable.
func NewPostgresStore(db PgxQuerier, table, location string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	if location == "" {
		location = DefaultPath
	}
	quoted := pq.QuoteIdentifier(table)

	return &PostgresStore{
		db:       db,
		table:    table,
		location: location,
		selectSQL: fmt.Sprintf(
			`SELECT blob FROM %s WHERE location = $1`, quoted),
		upsertSQL: fmt.Sprintf(
			`INSERT INTO %s (location, blob, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (location) DO UPDATE SET blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at`, quoted),
	}
}

// Location returns table/location.
func (s *PostgresStore) Location() string {
	return s.table + "/" + s.location
}

// Load reads the blob row.
func (s *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(ctx, s.selectSQL, s.location).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("cache", s.Location())
		}
		return nil, fmt.Errorf("loading cache blob: %w", err)
	}
	return data, nil
}

// Save upserts the blob row.
func (s *PostgresStore) Save(ctx context.Context, blob []byte) error {
	if _, err := s.db.Exec(ctx, s.upsertSQL, s.location, blob); err != nil {
		return fmt.Errorf("saving cache blob: %w", err)
	}
	return nil
}
