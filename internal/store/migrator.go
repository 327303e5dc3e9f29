package store

import (
	"context"
	"fmt"
	"strings"

	"filterspec/internal/metadata"
)

type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// MigrateAll creates the missing tables of every entity and many-to-many
// join table in the registry. Existing tables are left alone.
func (m *Migrator) MigrateAll(ctx context.Context, reg *metadata.Registry) error {
	for _, e := range reg.AllEntities() {
		if err := m.Migrate(ctx, e); err != nil {
			return err
		}
	}
	for _, rel := range reg.AllRelations() {
		if !rel.IsManyToMany() {
			continue
		}
		if err := m.MigrateJoinTable(ctx, rel, reg.GetEntity(rel.Source), reg.GetEntity(rel.Target)); err != nil {
			return err
		}
	}
	return nil
}

// Migrate creates the entity's table if it doesn't exist.
func (m *Migrator) Migrate(ctx context.Context, entity *metadata.Entity) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}
	if exists {
		return nil
	}
	return m.createTable(ctx, entity)
}

// MigrateJoinTable creates a join table for a many-to-many relation if it doesn't exist.
func (m *Migrator) MigrateJoinTable(ctx context.Context, rel *metadata.Relation, source, target *metadata.Entity) error {
	if source == nil || target == nil {
		return fmt.Errorf("join table %s: unknown entity", rel.JoinTable)
	}
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, rel.JoinTable)
	if err != nil {
		return fmt.Errorf("check join table exists: %w", err)
	}
	if exists {
		return nil
	}

	sql := fmt.Sprintf(
		`CREATE TABLE %s (
			%s %s NOT NULL,
			%s %s NOT NULL,
			PRIMARY KEY (%s, %s)
		)`,
		rel.JoinTable,
		rel.SourceJoinKey, m.keyType(source, rel.SourceKey),
		rel.TargetJoinKey, m.keyType(target, rel.TargetKey),
		rel.SourceJoinKey, rel.TargetJoinKey,
	)
	if _, err := Exec(ctx, m.store.DB, sql); err != nil {
		return fmt.Errorf("create join table %s: %w", rel.JoinTable, err)
	}
	return nil
}

func (m *Migrator) keyType(e *metadata.Entity, column string) string {
	if f := e.GetField(column); f != nil {
		return m.store.Dialect.ColumnType(f.Type)
	}
	if column == e.PrimaryKeyField() {
		return m.store.Dialect.ColumnType(e.PrimaryKey.Type)
	}
	return m.store.Dialect.ColumnType("")
}

func (m *Migrator) createTable(ctx context.Context, entity *metadata.Entity) error {
	var cols []string
	pk := entity.PrimaryKeyField()
	if !entity.HasField(pk) {
		cols = append(cols, pk+" "+m.store.Dialect.ColumnType(entity.PrimaryKey.Type)+" PRIMARY KEY")
	}
	for _, f := range entity.Fields {
		col := f.Name + " " + m.store.Dialect.ColumnType(f.Type)
		if f.Name == pk {
			col += " PRIMARY KEY"
		} else if !f.Nullable {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}

	// Add deleted_at if soft delete is enabled and not already in fields
	if entity.SoftDelete && !entity.HasField("deleted_at") {
		cols = append(cols, "deleted_at "+m.store.Dialect.ColumnType("timestamp"))
	}

	sql := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", entity.Table, strings.Join(cols, ",\n  "))
	if _, err := Exec(ctx, m.store.DB, sql); err != nil {
		return fmt.Errorf("create table %s: %w", entity.Table, err)
	}

	if entity.SoftDelete {
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_deleted_at ON %s (deleted_at) WHERE deleted_at IS NULL",
			entity.Table, entity.Table)
		if _, err := Exec(ctx, m.store.DB, idx); err != nil {
			return fmt.Errorf("create soft delete index on %s: %w", entity.Table, err)
		}
	}
	return nil
}
