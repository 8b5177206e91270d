package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration is one embedded schema step. Files run in name order, so
// names carry a numeric prefix.
type migration struct {
	name string
	sql  string
}

// RunMigrations applies every embedded migration not yet recorded in
// schema_migrations. Each step runs in its own transaction.
func RunMigrations(ctx context.Context, db *DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}
	steps, err := embeddedMigrations()
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(steps))
	count := 0
	for _, m := range steps {
		known[m.name] = true
		if applied[m.name] {
			continue
		}
		err := db.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES (?)`, m.name)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}
		log.Info().Str("migration", m.name).Msg("migration applied")
		count++
	}

	// A database written by a newer build still opens; its extra steps
	// are only reported.
	for name := range applied {
		if !known[name] {
			log.Warn().Str("migration", name).Msg("database has a migration this build does not know")
		}
	}
	log.Debug().Int("applied", count).Int("total", len(steps)).Msg("database schema up to date")
	return nil
}

// SchemaVersion returns the name of the latest applied migration, or ""
// for an empty database.
func (db *DB) SchemaVersion(ctx context.Context) (string, error) {
	var name sql.NullString
	err := db.QueryRowContext(ctx, `SELECT MAX(name) FROM schema_migrations`).Scan(&name)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return "", nil
		}
		return "", fmt.Errorf("reading schema version: %w", err)
	}
	return name.String, nil
}

func appliedMigrations(ctx context.Context, db *DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("listing applied migrations: %w", err)
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

func embeddedMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var steps []migration
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		body, err := migrationsFS.ReadFile(path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		if strings.TrimSpace(string(body)) == "" {
			return nil, errors.New("empty migration " + e.Name())
		}
		steps = append(steps, migration{name: e.Name(), sql: string(body)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].name < steps[j].name })
	return steps, nil
}
