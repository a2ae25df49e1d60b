// focusd is the focus daemon. It serves the focus HTTP API over a local
// SQLite database until SIGTERM or SIGINT.
package main

import (
	"os"

	"github.com/runger/focus/internal/cmd"
)

func main() {
	os.Exit(cmd.ExecuteDaemon())
}
