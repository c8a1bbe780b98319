package cache

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultTable is the table used by PostgresStore.
const DefaultTable = "hcpcs_validation_cache"

// DBTX is the subset of pgx used by PostgresStore.
// Satisfied by *pgxpool.Pool.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
}

var copyColumns = []string{
	"code", "is_valid", "reason", "invalid_reason",
	"validated_by", "model", "created_at_ms", "legacy",
}

// PostgresStore keeps the cache snapshot in a PostgreSQL table.
// Save replaces every row inside one transaction, so concurrent readers see
// either the old or the new snapshot.
type PostgresStore struct {
	db    DBTX
	table string
}

// NewPostgresStore creates a store using the default table name.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db, table: DefaultTable}
}

// WithTable sets the table name. An empty name keeps the current one.
func (s *PostgresStore) WithTable(table string) *PostgresStore {
	if table != "" {
		s.table = table
	}
	return s
}

// Location returns the table name.
func (s *PostgresStore) Location() string {
	return "postgres:" + s.table
}

// EnsureSchema creates the cache table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			code           TEXT PRIMARY KEY,
			is_valid       BOOLEAN NOT NULL,
			reason         TEXT NOT NULL DEFAULT '',
			invalid_reason TEXT NOT NULL DEFAULT '',
			validated_by   TEXT NOT NULL DEFAULT '',
			model          TEXT NOT NULL DEFAULT '',
			created_at_ms  BIGINT NOT NULL,
			legacy         BOOLEAN NOT NULL DEFAULT FALSE
		)`, pgx.Identifier{s.table}.Sanitize())

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create cache table: %w", err)
	}
	return nil
}

// Load reads every row of the cache table.
func (s *PostgresStore) Load(ctx context.Context) (map[string]hcpcs.Entry, error) {
	query := fmt.Sprintf(`
		SELECT code, is_valid, reason, invalid_reason, validated_by, model, created_at_ms, legacy
		FROM %s`, pgx.Identifier{s.table}.Sanitize())

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query cache table: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]hcpcs.Entry)
	for rows.Next() {
		var e hcpcs.Entry
		if err := rows.Scan(&e.Code, &e.IsValid, &e.Reason, &e.InvalidReason,
			&e.ValidatedBy, &e.Model, &e.Timestamp, &e.Legacy); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		entries[e.Code] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache rows: %w", err)
	}
	return entries, nil
}

// Save replaces the table contents with entries using the COPY protocol.
func (s *PostgresStore) Save(ctx context.Context, entries map[string]hcpcs.Entry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cache save: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, "DELETE FROM "+pgx.Identifier{s.table}.Sanitize()); err != nil {
		return fmt.Errorf("clear cache table: %w", err)
	}

	rows := make([][]any, 0, len(entries))
	for code, e := range entries {
		rows = append(rows, []any{
			code, e.IsValid, e.Reason, e.InvalidReason,
			e.ValidatedBy, e.Model, e.Timestamp, e.Legacy,
		})
	}

	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, copyColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy cache rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cache save: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
