// Package main provides the tasksync server and command-line client.
// The server exposes the reconciliation engine over REST/WebSocket on
// localhost:8090 by default; the other commands work on the local store.
package main

import (
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := NewRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		out := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr}
		out.Error(err)
		return GetExitCode(err)
	}
	return ExitSuccess
}
