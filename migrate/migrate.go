// Package migrate applies embedded SQL migration files to a database,
// tracking what has already run in a migrations table so that Run is safe
// to call on every process start.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/relayforge/relayforge/log"
)

// Migrator applies the .sql files under path in an embedded filesystem,
// in lexical filename order, recording each applied filename so repeat
// runs are no-ops.
type Migrator struct {
	assets embed.FS
	engine string
	path   string
	db     *sql.DB
	log    log.Logger
}

// New constructs a Migrator reading migration files from assets. engine
// selects the dialect used for the tracking table DDL ("postgres" or
// "sqlite"); any other value falls back to the postgres dialect.
func New(assets embed.FS, engine string, logger log.Logger) *Migrator {
	return &Migrator{
		assets: assets,
		engine: engine,
		path:   "migrations",
		log:    logger,
	}
}

// SetDB sets the database connection migrations run against.
func (m *Migrator) SetDB(db *sql.DB) {
	m.db = db
}

// SetPath sets the directory, relative to the embedded filesystem root,
// that migration files are read from.
func (m *Migrator) SetPath(path string) {
	m.path = path
}

// Run ensures the tracking table exists, then applies every .sql file
// under path that is not already recorded as applied, each inside its own
// transaction, in filename order.
func (m *Migrator) Run(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("cannot create migrations table: %w", err)
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("cannot load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(m.assets, m.path)
	if err != nil {
		return fmt.Errorf("cannot read migration directory %q: %w", m.path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if applied[name] {
			continue
		}
		if err := m.apply(ctx, name); err != nil {
			return fmt.Errorf("cannot apply migration %q: %w", name, err)
		}
		m.log.Info("Applied migration", "file", name)
	}

	return nil
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			filename TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if m.engine == "sqlite" {
		ddl = `
			CREATE TABLE IF NOT EXISTS migrations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				filename TEXT NOT NULL UNIQUE,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`
	}

	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

func (m *Migrator) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT filename FROM migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, name string) error {
	contents, err := fs.ReadFile(m.assets, m.path+"/"+name)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (filename) VALUES ($1)", name); err != nil {
		return err
	}

	return tx.Commit()
}
