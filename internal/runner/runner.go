// Package runner orchestrates one fingerprint run: produce the new snapshot,
// load the previous baseline, diff, record the change set, and save the new
// baseline. Loop repeats independent runs for watch mode.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fingerprinter/internal/delta"
	"fingerprinter/internal/diff"
	"fingerprinter/internal/hasher"
	"fingerprinter/internal/scan"
	"fingerprinter/internal/snapshot"
	"fingerprinter/internal/store"
	"fingerprinter/internal/validate"
)

// ErrDigestMismatch is returned when the baseline was recorded with another
// digest algorithm; diffing would report every entry as changed.
var ErrDigestMismatch = errors.New("baseline digest algorithm differs")

// Producer yields the new snapshot of a run: a tree scan or a URL fetch.
type Producer func(ctx context.Context) (scan.Result, error)

// Timing is the duration of one run step.
type Timing struct {
	Step     string
	Duration time.Duration
}

// RunResult is the outcome of one run.
type RunResult struct {
	FirstRun  bool // no previous baseline existed
	Changed   bool
	ChangeSet snapshot.ChangeSet
	Snapshot  *snapshot.Snapshot
	Warnings  []scan.Warning
	Timings   []Timing
	// Artifact locates the recorded change set: the history file for the
	// JSON sink (empty when it had nothing to write), the run ID for the
	// sqlite sink.
	Artifact string
	Patches  []string
}

// Options configures a Runner.
type Options struct {
	Layout  store.Layout
	Produce Producer
	Sink    Sink
	Algo    hasher.Algo
	// BlobDir holds cached bodies; Patches needs it.
	BlobDir string
	Patches bool
	Diff    diff.Options
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Runner executes runs. It keeps no state between runs.
type Runner struct {
	opts Options
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.Algo == "" {
		opts.Algo = hasher.Default
	}
	if opts.Sink == nil {
		opts.Sink = JSONSink{Layout: opts.Layout}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts}
}

// Run performs one run. Per-entry read failures come back as warnings; an
// unreadable root, a corrupt or mismatched baseline, and any failure to
// persist are returned as errors.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	var res RunResult
	log := r.opts.Logger
	step := r.stopwatch(&res)

	produced, err := r.opts.Produce(ctx)
	if err != nil {
		return res, fmt.Errorf("produce snapshot: %w", err)
	}
	curr := produced.Snapshot
	res.Snapshot = curr
	res.Warnings = produced.Warnings
	step("scan")

	prev, err := store.Load(r.opts.Layout.Baseline())
	if err != nil {
		return res, err
	}
	step("load")

	if prev == nil {
		res.FirstRun = true
		log.Info().Str("baseline", r.opts.Layout.Baseline()).Msg("no previous snapshot, comparison skipped")
	} else {
		if err := r.checkAlgo(prev); err != nil {
			return res, err
		}
		cs := delta.Diff(prev, curr)
		if err := validate.ChangeSet(cs); err != nil {
			return res, fmt.Errorf("change set: %w", err)
		}
		res.ChangeSet = cs
		res.Changed = !cs.IsEmpty()
		step("diff")
	}

	// Patches are written before the change set is recorded; a failure
	// leaves no history entry or baseline for it.
	if res.Changed && r.opts.Patches && r.opts.BlobDir != "" && len(res.ChangeSet.Changed) > 0 {
		patches := diff.Make(res.ChangeSet.Changed, prev, curr, diff.BlobDir(r.opts.BlobDir), r.opts.Diff)
		if len(patches) > 0 {
			dir := r.opts.Layout.Patches(curr.CreatedAt().Epoch)
			if err := diff.Write(dir, patches); err != nil {
				return res, fmt.Errorf("write patches: %w", err)
			}
			for _, p := range patches {
				res.Patches = append(res.Patches, p.Name)
			}
			log.Debug().Str("dir", dir).Int("patches", len(patches)).Msg("patches written")
		}
	}

	artifact, err := r.opts.Sink.Record(ctx, Record{Previous: prev, Current: curr, Changes: res.ChangeSet, FirstRun: res.FirstRun})
	if err != nil {
		return res, fmt.Errorf("record changes: %w", err)
	}
	res.Artifact = artifact

	if err := store.Save(r.opts.Layout.Baseline(), curr); err != nil {
		return res, fmt.Errorf("save baseline: %w", err)
	}
	step("persist")

	log.Debug().
		Bool("first_run", res.FirstRun).
		Int("new", len(res.ChangeSet.Added)).
		Int("deleted", len(res.ChangeSet.Deleted)).
		Int("changed", len(res.ChangeSet.Changed)).
		Msg("run complete")
	return res, nil
}

func (r *Runner) checkAlgo(prev *snapshot.Snapshot) error {
	algo, err := hasher.Parse(prev.Algorithm())
	if err != nil {
		return &store.CorruptSnapshotError{Path: r.opts.Layout.Baseline(), Err: err}
	}
	if algo != r.opts.Algo {
		return fmt.Errorf("%w: %s uses %s, run uses %s", ErrDigestMismatch, r.opts.Layout.Baseline(), algo, r.opts.Algo)
	}
	return nil
}

// stopwatch returns a func that appends the time since its previous call
// under the given step name.
func (r *Runner) stopwatch(res *RunResult) func(string) {
	last := r.opts.Now()
	return func(name string) {
		now := r.opts.Now()
		res.Timings = append(res.Timings, Timing{Step: name, Duration: now.Sub(last)})
		last = now
	}
}
