// Command blocksqlctl is an operator CLI for blocksql: open, execute,
// export/import, recover, and inspect block-storage-backed SQLite
// databases outside of a host process embedding pkg/blocksql directly.
package main

import (
	"os"
	"runtime/debug"

	"github.com/blocksql/blocksql/internal/commands"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
