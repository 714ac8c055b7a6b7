package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/blocksql/blocksql/internal/output"
	"github.com/blocksql/blocksql/pkg/blocksql"
)

type printedError struct {
	err error
}

func (e printedError) Error() string {
	// The JSON error response already printed is the real output; cobra
	// must not log this one a second time.
	return "error already printed"
}

func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	if printErr := output.PrintError(err); printErr != nil {
		slog.Default().Error("failed to print error response", "error", printErr)
	}
	return printedError{err: err}
}

func backendFromFlags(cmd *cobra.Command) string {
	backend, _ := cmd.Flags().GetString("backend")
	return backend
}

// withDB opens dbName with the CLI's backend flag applied, runs fn, and
// closes the handle regardless of fn's outcome.
func withDB(cmd *cobra.Command, dbName string, fn func(ctx context.Context, db *blocksql.DB) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := blocksql.Open(ctx, dbName, blocksql.Options{Backend: backendFromFlags(cmd)})
	if err != nil {
		return cmdErr(err)
	}
	defer func() { _ = db.Close() }()

	if err := fn(ctx, db); err != nil {
		return cmdErr(err)
	}
	return nil
}
