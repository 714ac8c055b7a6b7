package commands

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/blocksql/blocksql/internal/output"
	"github.com/blocksql/blocksql/pkg/blocksql"
)

// NewExecCmd runs a single SQL statement against a database, optionally with
// JSON-encoded bound parameters (spec §6.2 ColumnValue wire shape).
func NewExecCmd() *cobra.Command {
	var paramsJSON string

	cmd := &cobra.Command{
		Use:   "exec <db> <sql>",
		Short: "Execute a SQL statement and print its result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbName, sqlText := args[0], args[1]

			var params []blocksql.ColumnValue
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return cmdErr(err)
				}
			}

			return withDB(cmd, dbName, func(ctx context.Context, db *blocksql.DB) error {
				result, err := db.ExecuteWithParams(ctx, sqlText, params)
				if err != nil {
					return err
				}
				return output.PrintSuccess(result)
			})
		},
	}

	cmd.Flags().StringVar(&paramsJSON, "params", "", `JSON array of ColumnValue, e.g. '[{"Integer":1},{"Text":"a"}]'`)
	return cmd
}
