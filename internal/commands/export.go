package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/blocksql/blocksql/internal/output"
	"github.com/blocksql/blocksql/pkg/blocksql"
)

// NewExportCmd snapshots a database into a standalone SQLite file (spec
// §4.5 Export).
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <db> <out-file>",
		Short: "Export a database to a standalone SQLite file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbName, outPath := args[0], args[1]
			return withDB(cmd, dbName, func(ctx context.Context, db *blocksql.DB) error {
				image, err := db.Export(ctx, blocksql.ExportOptions{})
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, image, 0o644); err != nil {
					return err
				}
				type resp struct {
					Bytes int `json:"bytes"`
				}
				return output.PrintSuccess(resp{Bytes: len(image)})
			})
		},
	}
	return cmd
}
