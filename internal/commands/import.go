package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/blocksql/blocksql/internal/output"
	"github.com/blocksql/blocksql/pkg/blocksql"
)

// NewImportCmd replaces a database's entire contents with a standalone
// SQLite file image (spec §4.5 Import).
func NewImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <db> <in-file>",
		Short: "Import a standalone SQLite file, replacing the database's contents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbName, inPath := args[0], args[1]
			image, err := os.ReadFile(inPath)
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
