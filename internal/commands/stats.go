package commands

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/blocksql/blocksql/internal/output"
)

type statsResp struct {
	DB           string `json:"db"`
	BlockCount   int    `json:"blockCount"`
	TotalBytes   uint64 `json:"totalBytes"`
	TotalHuman   string `json:"totalHuman"`
	CommitMarker uint64 `json:"commitMarker"`
}

// NewStatsCmd reports block counts and on-disk size for a database directly
// from the durable log, without opening block storage or a SQL connection.
func NewStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <db>",
		Short: "Show block counts and size for a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbName := args[0]
			ctx := cmd.Context()

			log, err := openLog(cmd)
			if err != nil {
				return cmdErr(err)
			}

			blocks, err := log.ScanBlocks(ctx, dbName)
			if err != nil {
				return cmdErr(err)
			}
			marker, err := log.GetMarker(ctx, dbName)
			if err != nil {
				return cmdErr(err)
			}

			var total uint64
			for _, payload := range blocks {
				total += uint64(len(payload))
			}

			return output.PrintSuccess(statsResp{
				DB:           dbName,
				BlockCount:   len(blocks),
				TotalBytes:   total,
				TotalHuman:   humanize.Bytes(total),
				CommitMarker: marker,
			})
		},
	}
	return cmd
}
