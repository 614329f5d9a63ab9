package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration is one versioned schema change.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager applies versioned migrations and records them in
// schema_migrations.
type MigrationManager struct {
	db   *sql.DB
	fsys fs.FS
}

// NewMigrationManager returns a manager over the migrations compiled into
// the binary.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		// The embed pattern guarantees the directory exists.
		panic(err)
	}
	return NewMigrationManagerFS(db, sub)
}

// NewMigrationManagerFS returns a manager reading *.sql files from the
// root of fsys.
func NewMigrationManagerFS(db *sql.DB, fsys fs.FS) *MigrationManager {
	return &MigrationManager{
		db:   db,
		fsys: fsys,
	}
}

// ApplyMigrations applies every pending migration in version order. Each
// migration runs in its own transaction.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

// ValidateSchema ensures the database has the tables and indexes the
// stores depend on.
func (m *MigrationManager) ValidateSchema() error {
	validator := NewSchemaValidator(m.db)
	if err := validator.ValidateTablesExist(); err != nil {
		return err
	}
	return validator.ValidateIndexes()
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// loadMigrations reads files named like "001_initial_schema.sql".
func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		content, err := fs.ReadFile(m.fsys, entry.Name())
		if err != nil {
			return nil, err
		}

		parts := strings.SplitN(strings.TrimSuffix(entry.Name(), ".sql"), "_", 2)
		migration := Migration{
			Version: parts[0],
			SQL:     string(content),
		}
		if len(parts) == 2 {
			migration.Description = parts[1]
		}
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func (m *MigrationManager) getAppliedMigrations() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}

	return tx.Commit()
}
