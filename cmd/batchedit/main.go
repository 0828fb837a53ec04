// Command batchedit previews and applies batch edits to plankton survey
// datasets, in-process or against a running API server.
package main

import (
	"os"

	"github.com/turtacn/plankton-batchedit/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
