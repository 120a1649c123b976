// ============================================================================
// taskrunner - demo CLI for the parallel-task runtime
// ============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/taskrunner/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
