// Command nodegraph runs node graphs from the command line and serves the
// editor control API.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
