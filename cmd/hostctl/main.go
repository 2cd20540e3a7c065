// Command hostctl validates domains, runs scenarios through the execution
// host and inspects or replays the dispatch journal.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/intenthost/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
