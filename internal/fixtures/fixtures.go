// Package fixtures provides a small goose-versioned canonical schema, used
// to build real SQLite-shaped databases for export/import round-trip tests
// without hand-assembling page images, the same way the teacher's own
// internal/store/migrate.go drives schema setup through goose rather than
// embedding raw DDL strings in test code.
package fixtures

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Apply runs every embedded migration against db, creating the canonical
// "widgets" fixture schema and its seed rows.
func Apply(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetVerbose(false)
	goose.SetLogger(goose.NopLogger())

	// goose's dialect name controls SQL generation, not the database/sql
	// driver name; blocksql registers modernc.org/sqlite as "sqlite" but
	// still asks goose for "sqlite3" SQL syntax, same split the teacher's
	// migrate.go documents.
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}
