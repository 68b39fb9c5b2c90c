// Command universe validates schemas, runs scenarios, stress-tests the
// lock manager and inspects journaled traces.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/universe/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
