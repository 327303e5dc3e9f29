package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	_ "modernc.org/sqlite"             // Register sqlite as database/sql driver

	"filterspec/internal/config"
)

var ErrUniqueViolation = errors.New("unique constraint violation")

// ErrUnknownRelation is returned when a query names a table or column the
// database does not have, usually a definitions file out of sync with the schema.
var ErrUnknownRelation = errors.New("unknown table or column")

// Querier is implemented by both *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store wraps a database connection and dialect.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// New creates a Store from config.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	dialect := NewDialect(driver)
	if driver == "sqlite" && cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open(dialect.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == "postgres" {
		if cfg.PoolSize > 0 {
			db.SetMaxOpenConns(cfg.PoolSize)
		}
	} else if driver == "sqlite" {
		// SQLite: single writer, WAL mode for concurrent reads
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{DB: db, Dialect: dialect}, nil
}

// Close closes the database connection.
func (s *Store) Close() {
	s.DB.Close()
}

// QueryRows executes a query and returns results as []map[string]any.
func QueryRows(ctx context.Context, q Querier, sqlStr string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

// QueryCount executes a query returning a single number.
func QueryCount(ctx context.Context, q Querier, sqlStr string, args ...any) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Exec executes a statement and returns the number of rows affected.
func Exec(ctx context.Context, q Querier, sqlStr string, args ...any) (int64, error) {
	result, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// MapError maps a database error to a well-known sentinel error using the store's dialect.
func MapError(dialect Dialect, err error) error {
	if err == nil {
		return nil
	}
	return dialect.MapError(err)
}

// normalizeValue converts database-specific types to JSON-serializable Go types.
func normalizeValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	// database/sql often returns []byte for TEXT columns
	s := string(b)
	// SQLite keeps timestamps as text
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return s
}

// NormalizeBooleans converts integer 0/1 values to bool for specified fields.
// This is needed for SQLite where BOOLEAN columns are stored as INTEGER.
func NormalizeBooleans(rows []map[string]any, boolFields []string) {
	if len(boolFields) == 0 || len(rows) == 0 {
		return
	}
	boolSet := make(map[string]bool, len(boolFields))
	for _, f := range boolFields {
		boolSet[f] = true
	}
	for _, row := range rows {
		for k, v := range row {
			if !boolSet[k] {
				continue
			}
			switch val := v.(type) {
			case int64:
				row[k] = val != 0
			case float64:
				row[k] = val != 0
			}
		}
	}
}
