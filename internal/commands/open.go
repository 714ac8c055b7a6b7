package commands

import (
	"github.com/spf13/cobra"

	"github.com/blocksql/blocksql/internal/output"
	"github.com/blocksql/blocksql/pkg/blocksql"
)

// NewOpenCmd opens (creating if necessary) a database, running crash
// recovery, and reports its handle id and leader status.
func NewOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <db>",
		Short: "Open a database, running crash recovery if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := blocksql.Open(ctx, args[0], blocksql.Options{Backend: backendFromFlags(cmd)})
			if err != nil {
				return cmdErr(err)
			}
			defer func() { _ = db.Close() }()

			type resp struct {
				DB       string `json:"db"`
				IsLeader bool   `json:"isLeader"`
			}
			return output.PrintSuccess(resp{DB: args[0], IsLeader: db.IsLeader()})
		},
	}
	return cmd
}
