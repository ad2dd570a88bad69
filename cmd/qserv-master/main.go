// Package main is the entrypoint for qserv-master, the command-line
// client that drives query execution, explain, and validation against a
// Qserv worker fleet.
//
// Grounded on the teacher's cmd/gateway/main.go build-version wiring via
// ldflags, generalized from a long-running HTTP daemon to a one-shot CLI
// invocation: internal/cli.CLI owns the cobra command tree and process
// lifecycle, this file only injects the build stamp and exit code.
package main

import (
	"os"

	"github.com/qserv/qserv/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	os.Exit(cli.New().Execute())
}
