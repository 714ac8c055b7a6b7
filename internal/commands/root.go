// Package commands implements blocksqlctl's cobra command tree, grounded on
// the original CLI's internal/commands package: a persistent JSON output
// envelope, a --db-path-style override wired into internal/config before
// any subcommand runs, and one printedError sentinel so a command that has
// already emitted its JSON error doesn't also get logged twice by cobra.
package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blocksql/blocksql/internal/config"
	"github.com/blocksql/blocksql/internal/output"
)

// Execute runs the CLI application.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := newRootCmd(version)

	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Default().Error("command failed", "error", err.Error())
		}
	}
	return err
}

// newRootCmd builds the command tree without executing it, so tests can
// introspect subcommand wiring directly.
func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "blocksqlctl",
		Short:         "Operate block-storage-backed SQLite databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.EnsureConfigDir(); err != nil {
				return err
			}
			if dataDir, err := cmd.Flags().GetString("data-dir"); err == nil && dataDir != "" {
				config.SetDataDirOverride(dataDir)
			}
			return nil
		},
	}

	root.PersistentFlags().String("data-dir", "", "Override the durable-log data directory")
	root.PersistentFlags().String("backend", "", "Durable log backend: fs or bbolt")
	root.Flags().BoolP("version", "v", false, "version for blocksqlctl")

	root.AddCommand(NewOpenCmd())
	root.AddCommand(NewExecCmd())
	root.AddCommand(NewExportCmd())
	root.AddCommand(NewImportCmd())
	root.AddCommand(NewRecoverCmd())
	root.AddCommand(NewStatsCmd())
	root.AddCommand(NewBootstrapCmd())

	return root
}
