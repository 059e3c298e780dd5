// Package main provides the fingerprinter CLI. It records a content digest
// for every file under a directory (or for every URL of a list), compares
// the result with the previous run, and reports which entries were added,
// deleted or changed.
//
// Usage:
//
//	fingerprinter [path] [flags]
//	fingerprinter --urls https://example.com/a,https://example.com/b
//	fingerprinter history --name out --data-dir .
//
// A bare "history" argument selects the subcommand; a directory of that name
// is scanned as ./history or --path history.
//
// Exit status:
//
//	0  no changes
//	1  changes found
//	2  invalid configuration
//	3  fatal error
//	4  first run, nothing to compare with
//
// In watch mode the process exits 0 when interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitNoChanges     = 0
	exitChanges       = 1
	exitInvalidConfig = 2
	exitFatal         = 3
	exitFirstRun      = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
