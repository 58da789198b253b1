// Command comet drives the adversarial mutation/test co-evolution engine
// from the command line: run, resume, report, check-config, following the
// platform's cobra entrypoint pattern (cmd/aleutian). Unlike aleutian,
// each command loads its own config explicitly rather than through a
// fatal PersistentPreRun, so check-config can report a bad config
// instead of dying before it gets the chance.
package main

import (
	"fmt"
	"os"
)

// exitCode is set by a command's RunE before it returns, so that
// deferred cleanup (sandbox teardown, store/journal close, telemetry
// shutdown) runs before the process actually exits.
var exitCode int

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
