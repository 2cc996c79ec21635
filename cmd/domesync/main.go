// Command domesync serves a project directory as a live, patchable
// instance tree (spec.md §4.7 Serve Session), the out-of-scope CLI
// surface (spec.md §1) made concrete enough to exercise the core
// end-to-end and provide a runnable binary (SPEC_FULL.md cmd surface).
package main

import (
	"fmt"
	"os"

	"github.com/jra3/domesync/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
