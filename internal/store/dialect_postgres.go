package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes MapError recognises.
const (
	pgUniqueViolation = "23505"
	pgUndefinedTable  = "42P01"
	pgUndefinedColumn = "42703"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string                       { return "postgres" }
func (d *PostgresDialect) DriverName() string                 { return "pgx" }
func (d *PostgresDialect) Placeholders() sq.PlaceholderFormat { return sq.Dollar }
func (d *PostgresDialect) NeedsBoolFix() bool                 { return false }

func (d *PostgresDialect) ColumnType(fieldType string) string {
	switch fieldType {
	case "int", "integer":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "float":
		return "DOUBLE PRECISION"
	case "decimal":
		return "NUMERIC"
	case "boolean", "bool":
		return "BOOLEAN"
	case "uuid":
		return "UUID"
	case "timestamp", "instant", "offset_datetime":
		return "TIMESTAMPTZ"
	case "datetime":
		return "TIMESTAMP"
	case "date":
		return "DATE"
	case "json", "file":
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (d *PostgresDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = 'public')`,
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) MapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	case pgUndefinedTable, pgUndefinedColumn:
		return fmt.Errorf("%w: %w", ErrUnknownRelation, err)
	}
	return err
}
