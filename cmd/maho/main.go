// Command maho runs the cobra-based CLI in github.com/leftmike/maho/cmd:
// version prints the build version, and mvcc drives the mvcc.Engine storage engine directly by its own Plan-tree
// boundary (cmd/mvcc.go), bypassing the SQL front end the way mvcc itself
// does (SPEC_FULL.md).
package main

import (
	"fmt"
	"os"

	"github.com/leftmike/maho/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
