// Package migrations applies the embedded PostGIS schema at startup.
//
// Files are named NNN_description.sql and run in lexicographic order. Each
// applied file is recorded in schema_migrations, so Run is idempotent.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var sqlFiles embed.FS

// requiredTables must exist once all migrations have run.
var requiredTables = []string{"stops"}

// migration is one embedded SQL file.
type migration struct {
	version string
	sql     string
}

// Run applies every migration not yet recorded in schema_migrations, each in
// its own transaction, then verifies the required tables exist.
func Run(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("migrations: ensure tracking table: %w", err)
	}

	all, err := embedded()
	if err != nil {
		return fmt.Errorf("migrations: load files: %w", err)
	}

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return fmt.Errorf("migrations: read applied versions: %w", err)
	}

	todo := pending(all, applied)
	for _, m := range todo {
		if err := apply(ctx, pool, m); err != nil {
			return fmt.Errorf("migrations: apply %q: %w", m.version, err)
		}
		log.Printf("migrations: applied %q", m.version)
	}
	log.Printf("migrations: %d pending, %d already applied", len(todo), len(all)-len(todo))

	return checkTables(ctx, pool)
}

// embedded returns the SQL files in lexicographic order (embed.FS.ReadDir
// guarantees the order).
func embedded() ([]migration, error) {
	des, err := sqlFiles.ReadDir(".")
	if err != nil {
		return nil, err
	}

	var out []migration
	for _, de := range des {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".sql") {
			continue
		}
		b, err := sqlFiles.ReadFile(de.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", de.Name(), err)
		}
		out = append(out, migration{version: de.Name(), sql: string(b)})
	}
	return out, nil
}

// pending filters out migrations whose version is already applied.
func pending(all []migration, applied map[string]bool) []migration {
	var out []migration
	for _, m := range all {
		if !applied[m.version] {
			out = append(out, m)
		}
	}
	return out
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		seen[v] = true
	}
	return seen, rows.Err()
}

// apply runs one migration and records its version atomically.
func apply(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("exec sql: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit(ctx)
}

// checkTables is a sanity check that the business tables exist; it is not a
// structural diff.
func checkTables(ctx context.Context, pool *pgxpool.Pool) error {
	for _, table := range requiredTables {
		var exists bool
		err := pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("migrations: check table %q: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("migrations: required table %q is missing", table)
		}
	}
	return nil
}
