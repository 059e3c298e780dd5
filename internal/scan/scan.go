// Package scan walks a directory tree and fingerprints every file that the
// exclusion policy keeps, producing a snapshot.Snapshot.
//
// The walk itself is sequential and top-down so excluded directories are
// pruned before anything below them is read. Hashing is fanned out to a
// bounded worker pool; results land in a key-unique map, so the snapshot is
// the same whatever order the workers finish in.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fingerprinter/internal/cache"
	"fingerprinter/internal/exclude"
	"fingerprinter/internal/hasher"
	"fingerprinter/internal/snapshot"
)

// ErrRootUnreadable is returned (wrapped) when the scan root is missing, is
// not a directory, or cannot be listed.
var ErrRootUnreadable = errors.New("scan root unreadable")

// Options configures a Scanner.
type Options struct {
	Classifier *exclude.Classifier
	Hasher     *hasher.Hasher
	// Workers bounds concurrent hashing. Default: runtime.NumCPU().
	Workers int
	// BlobDir, when set, receives a content-addressed copy of every hashed
	// file (see cache.SaveBlob) so later runs can produce patches.
	BlobDir string
	Logger  zerolog.Logger
	// Now is the clock used for the snapshot timestamp. Default: time.Now.
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.Classifier == nil {
		o.Classifier = exclude.New(nil)
	}
	if o.Hasher == nil {
		o.Hasher = hasher.New(hasher.Default)
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Warning is a per-file problem that did not stop the scan.
type Warning struct {
	Path string // relative to the root
	Err  error
}

// Result is the outcome of one scan.
type Result struct {
	Snapshot *snapshot.Snapshot
	Warnings []Warning
}

// Scanner fingerprints directory trees.
type Scanner struct {
	opts Options
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	opts.defaults()
	return &Scanner{opts: opts}
}

// Scan fingerprints the tree at root. The snapshot timestamp is taken once,
// before the walk starts. Unreadable files are recorded with the hasher's
// sentinel digest and reported as warnings; only an unreadable root or a
// cancelled ctx fail the scan.
func (s *Scanner) Scan(ctx context.Context, root string) (Result, error) {
	created := snapshot.NewTimestamp(s.opts.Now())

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrRootUnreadable, root, err)
	}
	st, err := os.Stat(rootAbs)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRootUnreadable, err)
	}
	if !st.IsDir() {
		return Result{}, fmt.Errorf("%w: %s is not a directory", ErrRootUnreadable, root)
	}
	// WalkDir does not descend into a symlinked root; walk its target and
	// keep root as the snapshot source.
	if rootAbs, err = filepath.EvalSymlinks(rootAbs); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRootUnreadable, err)
	}

	ws := &walkState{
		ctx:   ctx,
		opts:  s.opts,
		root:  rootAbs,
		files: make(map[string]string),
	}
	ws.group.SetLimit(s.opts.Workers)

	walkErr := filepath.WalkDir(rootAbs, ws.visit)
	// Workers already started must finish before the map is read.
	_ = ws.group.Wait()
	if walkErr != nil {
		return Result{}, walkErr
	}

	sort.Slice(ws.warnings, func(i, j int) bool { return ws.warnings[i].Path < ws.warnings[j].Path })
	for _, w := range ws.warnings {
		s.opts.Logger.Warn().Str("path", w.Path).Err(w.Err).Msg("unreadable entry")
	}
	s.opts.Logger.Debug().Str("root", root).Int("files", len(ws.files)).Int("warnings", len(ws.warnings)).Msg("scan complete")

	return Result{
		Snapshot: snapshot.New(root, created, string(s.opts.Hasher.Algo()), ws.files),
		Warnings: ws.warnings,
	}, nil
}

type walkState struct {
	ctx   context.Context
	opts  Options
	root  string
	group errgroup.Group

	mu       sync.Mutex
	files    map[string]string
	warnings []Warning
}

func (ws *walkState) visit(path string, d fs.DirEntry, err error) error {
	if ctxErr := ws.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		if path == ws.root {
			return fmt.Errorf("%w: %v", ErrRootUnreadable, err)
		}
		rel, _ := ws.relative(path)
		ws.warn(rel, err)
		if d != nil && d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}
	rel, ok := ws.relative(path)
	if !ok {
		return nil
	}
	if d.IsDir() {
		if ws.opts.Classifier.ExcludeDir(rel) {
			ws.opts.Logger.Debug().Str("dir", rel).Msg("excluded directory pruned")
			return filepath.SkipDir
		}
		return nil
	}
	if ws.opts.Classifier.ExcludeFile(rel) {
		return nil
	}
	if !ws.hashable(path, rel, d) {
		return nil
	}
	ws.group.Go(func() error {
		ws.hash(path, rel)
		return nil
	})
	return nil
}

// hashable filters out entries whose read could block or that are not file
// content: FIFOs, sockets, devices and symlinks to directories. Dangling
// symlinks are kept so they surface as unreadable files.
func (ws *walkState) hashable(path, rel string, d fs.DirEntry) bool {
	mode := d.Type()
	if mode&fs.ModeSymlink != 0 {
		target, err := os.Stat(path)
		if err != nil {
			return true
		}
		mode = target.Mode().Type()
	}
	if mode.IsRegular() {
		return true
	}
	ws.opts.Logger.Debug().Str("path", rel).Str("mode", mode.String()).Msg("non-regular entry skipped")
	return false
}

func (ws *walkState) hash(path, rel string) {
	digest, err := ws.opts.Hasher.HashFile(path)
	ws.mu.Lock()
	ws.files[rel] = digest
	if err != nil {
		ws.warnings = append(ws.warnings, Warning{Path: rel, Err: err})
	}
	ws.mu.Unlock()

	if err == nil && ws.opts.BlobDir != "" && !cache.HasBlob(ws.opts.BlobDir, digest) {
		ws.storeBlob(path, rel, digest)
	}
}

func (ws *walkState) storeBlob(path, rel, digest string) {
	f, err := os.Open(path)
	if err != nil {
		ws.opts.Logger.Debug().Str("path", rel).Err(err).Msg("blob copy skipped")
		return
	}
	defer f.Close()
	if err := cache.SaveBlob(ws.opts.BlobDir, digest, f); err != nil {
		ws.opts.Logger.Warn().Str("path", rel).Err(err).Msg("blob copy failed")
	}
}

func (ws *walkState) warn(rel string, err error) {
	ws.mu.Lock()
	ws.warnings = append(ws.warnings, Warning{Path: rel, Err: err})
	ws.mu.Unlock()
}

// relative returns path relative to the root with forward slashes.
func (ws *walkState) relative(path string) (string, bool) {
	rel, err := filepath.Rel(ws.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return "", false
	}
	return rel, true
}
