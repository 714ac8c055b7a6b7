package commands

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blocksql/blocksql/internal/fixtures"
	"github.com/blocksql/blocksql/internal/output"
	"github.com/blocksql/blocksql/pkg/blocksql"

	_ "modernc.org/sqlite"
)

// NewBootstrapCmd builds the goose-versioned canonical fixture schema
// (internal/fixtures) into a throwaway SQLite file and imports it into db,
// the same fixture database export/import round-trip tests exercise
// (see internal/xport/fixture_test.go).
func NewBootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap <db>",
		Short: "Populate a database with the canonical fixture schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbName := args[0]
			image, err := buildFixtureImage()
			if err != nil {
				return cmdErr(err)
			}
			return withDB(cmd, dbName, func(ctx context.Context, db *blocksql.DB) error {
				if err := db.Import(ctx, image); err != nil {
					return err
				}
				type resp struct {
					DB    string `json:"db"`
					Bytes int    `json:"bytes"`
				}
				return output.PrintSuccess(resp{DB: dbName, Bytes: len(image)})
			})
		},
	}
	return cmd
}

// buildFixtureImage applies internal/fixtures's goose migrations to a
// scratch on-disk SQLite file and returns its bytes.
func buildFixtureImage() ([]byte, error) {
	dir, err := os.MkdirTemp("", "blocksqlctl-bootstrap-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "fixture.db")
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := fixtures.Apply(sqldb); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	if err := sqldb.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}
