package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"fingerprinter/internal/runner"
	"fingerprinter/internal/store"
)

const bell = "\a"

var (
	okColor     = color.New(color.FgGreen)
	noticeColor = color.New(color.FgYellow)
	dimColor    = color.New(color.FgYellow, color.Faint)
)

// reporter prints run summaries for humans.
type reporter struct {
	w      io.Writer
	layout store.Layout
	timing bool
	beep   bool
}

func (r *reporter) result(res runner.RunResult) {
	for _, w := range res.Warnings {
		dimColor.Fprintf(r.w, "WARN: %s ignored: %v\n", w.Path, w.Err)
	}
	okColor.Fprintf(r.w, "Fingerprints saved to %s (%d entries)\n", r.layout.Baseline(), res.Snapshot.Len())

	switch {
	case res.FirstRun:
		noticeColor.Fprintln(r.w, "No previous snapshot, comparison skipped.")
	case !res.Changed:
		okColor.Fprintln(r.w, "No changes")
	default:
		cs := res.ChangeSet
		noticeColor.Fprintf(r.w, "Changes since %s: %d new, %d deleted, %d changed\n",
			cs.PreviousTimestamp, len(cs.Added), len(cs.Deleted), len(cs.Changed))
		r.list("new", cs.Added)
		r.list("deleted", cs.Deleted)
		r.list("changed", cs.Changed)
		if res.Artifact != "" {
			fmt.Fprintf(r.w, "recorded: %s\n", res.Artifact)
		}
		if len(res.Patches) > 0 {
			fmt.Fprintf(r.w, "patches: %s (%d)\n", r.layout.Patches(res.Snapshot.CreatedAt().Epoch), len(res.Patches))
		}
		if r.beep {
			fmt.Fprint(r.w, bell)
		}
	}

	if r.timing {
		for _, t := range res.Timings {
			fmt.Fprintf(r.w, "%-8s %s\n", t.Step, t.Duration)
		}
	}
}

func (r *reporter) list(kind string, paths []string) {
	for _, p := range paths {
		fmt.Fprintf(r.w, "  %-8s %s\n", kind, p)
	}
}
