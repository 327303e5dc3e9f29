package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string                       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string                 { return "sqlite" }
func (d *SQLiteDialect) Placeholders() sq.PlaceholderFormat { return sq.Question }
func (d *SQLiteDialect) NeedsBoolFix() bool                 { return true }

func (d *SQLiteDialect) ColumnType(fieldType string) string {
	switch fieldType {
	case "int", "integer", "bigint", "boolean", "bool":
		return "INTEGER"
	case "float", "decimal":
		return "REAL"
	default:
		// uuid, dates and timestamps are stored as text
		return "TEXT"
	}
}

func (d *SQLiteDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	if strings.Contains(errStr, "no such table") || strings.Contains(errStr, "no such column") {
		return fmt.Errorf("%w: %w", ErrUnknownRelation, err)
	}
	return err
}
