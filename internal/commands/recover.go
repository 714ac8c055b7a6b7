package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blocksql/blocksql/internal/checksum"
	"github.com/blocksql/blocksql/internal/config"
	"github.com/blocksql/blocksql/internal/durablelog"
	"github.com/blocksql/blocksql/internal/durablelog/boltlog"
	"github.com/blocksql/blocksql/internal/durablelog/fslog"
	"github.com/blocksql/blocksql/internal/output"
	"github.com/blocksql/blocksql/internal/recovery"
)

// NewRecoverCmd runs the startup crash-recovery protocol (spec §4.4)
// against a database directly, bypassing pkg/blocksql's once-per-process
// gate — useful for an operator re-running recovery after changing
// --on-corruption without restarting whatever process normally owns it.
func NewRecoverCmd() *cobra.Command {
	var onCorruption string

	cmd := &cobra.Command{
		Use:   "recover <db>",
		Short: "Run crash recovery against a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbName := args[0]
			ctx := cmd.Context()

			log, err := openLog(cmd)
			if err != nil {
				return cmdErr(err)
			}

			policy := recovery.Repair
			switch onCorruption {
			case "report":
				policy = recovery.Report
			case "fail":
				policy = recovery.Fail
			}

			report, err := recovery.Run(ctx, log, dbName, recovery.Options{
				OnCorruption: policy,
				DefaultAlgo:  checksum.FastHash,
			})
			if err != nil {
				return cmdErr(err)
			}
			return output.PrintSuccess(report)
		},
	}

	cmd.Flags().StringVar(&onCorruption, "on-corruption", "repair", "repair, report, or fail")
	return cmd
}

// openLog opens the durable log backend selected by --backend directly,
// without going through pkg/blocksql's process-wide runtime.
func openLog(cmd *cobra.Command) (durablelog.Log, error) {
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	if backendFromFlags(cmd) == "bbolt" {
		return boltlog.Open(filepath.Join(dataDir, "blocksql.bbolt"))
	}
	return fslog.Open(filepath.Join(dataDir, "store"))
}
