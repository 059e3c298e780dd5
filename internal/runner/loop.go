package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"fingerprinter/internal/exclude"
)

// LoopOptions configures Loop.
type LoopOptions struct {
	Period time.Duration
	// Trigger, when non-nil, starts an extra cycle on every receive.
	Trigger <-chan struct{}
	// OnResult sees every cycle's outcome. A non-nil return stops the loop
	// and is returned by Loop.
	OnResult func(RunResult, error) error
}

// Loop runs r immediately and then on every tick or trigger until ctx is
// done. Each cycle is an independent run executed under a context that
// ignores ctx's cancellation, so a signal can only stop the loop between
// cycles and never interrupts a baseline write. Loop returns nil when ctx
// is done.
func Loop(ctx context.Context, r *Runner, opts LoopOptions) error {
	if opts.Period <= 0 {
		return fmt.Errorf("runner: loop period must be positive, got %s", opts.Period)
	}
	ticker := time.NewTicker(opts.Period)
	defer ticker.Stop()

	cycle := func() error {
		res, err := r.Run(context.WithoutCancel(ctx))
		if opts.OnResult != nil {
			return opts.OnResult(res, err)
		}
		return nil
	}

	if err := cycle(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-opts.Trigger:
		}
		// A cancel that raced with the tick wins.
		if ctx.Err() != nil {
			return nil
		}
		if err := cycle(); err != nil {
			return err
		}
	}
}

// WatchTree reports filesystem activity under root on the returned channel,
// coalescing bursts: one value is sent once no event has arrived for
// debounce. Excluded directories are not watched and events on excluded
// paths are dropped. The watcher stops when ctx is done.
func WatchTree(ctx context.Context, root string, classifier *exclude.Classifier, debounce time.Duration, log zerolog.Logger) (<-chan struct{}, error) {
	if classifier == nil {
		classifier = exclude.New(nil)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	tw := &treeWatcher{root: root, classifier: classifier, fsw: fsw, log: log}
	if err := tw.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	out := make(chan struct{}, 1)
	go tw.run(ctx, debounce, out)
	return out, nil
}

type treeWatcher struct {
	root       string
	classifier *exclude.Classifier
	fsw        *fsnotify.Watcher
	log        zerolog.Logger
}

// addTree watches dir and every non-excluded directory below it; fsnotify
// watches are not recursive.
func (tw *treeWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := tw.relative(p); ok && tw.classifier.ExcludeDir(rel) {
			return filepath.SkipDir
		}
		if err := tw.fsw.Add(p); err != nil {
			tw.log.Warn().Str("path", p).Err(err).Msg("cannot watch directory")
		}
		return nil
	})
}

func (tw *treeWatcher) run(ctx context.Context, debounce time.Duration, out chan<- struct{}) {
	defer tw.fsw.Close()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	fire := func() {
		select {
		case out <- struct{}{}:
		default:
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-tw.fsw.Events:
			if !ok {
				return
			}
			if !tw.relevant(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// New directories need their own watch.
				_ = tw.addTree(ev.Name)
			}
			tw.log.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("change event")
			mu.Lock()
			if timer == nil {
				timer = time.AfterFunc(debounce, fire)
			} else {
				timer.Reset(debounce)
			}
			mu.Unlock()
		case err, ok := <-tw.fsw.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				tw.log.Warn().Err(err).Msg("watch error")
				continue
			}
			fire()
		}
	}
}

// relevant drops events on excluded paths and pure chmod events.
func (tw *treeWatcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	rel, ok := tw.relative(ev.Name)
	if !ok || rel == "." {
		return false
	}
	if dir := path.Dir(rel); dir != "." && tw.classifier.ExcludeDir(dir) {
		return false
	}
	return !tw.classifier.ExcludeFile(rel) && !tw.classifier.ExcludeDir(rel)
}

func (tw *treeWatcher) relative(p string) (string, bool) {
	rel, err := filepath.Rel(tw.root, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}
