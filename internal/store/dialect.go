package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// Placeholders is the squirrel placeholder format of the driver.
	Placeholders() sq.PlaceholderFormat

	// ColumnType maps a metadata field type to the database DDL type.
	ColumnType(fieldType string) string

	// TableExists checks whether a table exists.
	TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error)

	// MapError inspects a driver error and returns a well-known sentinel error if applicable.
	MapError(err error) error

	// NeedsBoolFix returns true if boolean columns come back as integers (SQLite).
	NeedsBoolFix() bool
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}
