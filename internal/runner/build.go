package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"fingerprinter/internal/cache"
	"fingerprinter/internal/config"
	"fingerprinter/internal/diff"
	"fingerprinter/internal/exclude"
	"fingerprinter/internal/fetch"
	"fingerprinter/internal/hasher"
	"fingerprinter/internal/scan"
	"fingerprinter/internal/sqlstore"
	"fingerprinter/internal/store"
)

// Assembly is a Runner wired from a config.Config, plus what its watch
// trigger needs.
type Assembly struct {
	Runner     *Runner
	Root       string // absolute scan root; empty in URL mode
	Classifier *exclude.Classifier
	closers    []func() error
}

// Close releases the sink.
func (a *Assembly) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build wires a Runner for cfg. cfg must have passed Validate.
func Build(cfg config.Config, log zerolog.Logger) (*Assembly, error) {
	algo, err := hasher.Parse(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	h := hasher.New(algo)
	layout := store.Layout{DataDir: cfg.DataDir, Name: cfg.Name}
	asm := &Assembly{}

	opts := Options{
		Layout:  layout,
		Algo:    algo,
		Patches: cfg.Patches,
		Diff:    diff.Options{MaxBytes: cfg.MaxPatchBytes},
		Logger:  log,
	}

	if cfg.URLMode() {
		urls, err := cfg.ResolveURLs()
		if err != nil {
			return nil, err
		}
		source := "urls:" + cfg.Name
		opts.BlobDir = cache.Dir(cfg.DataDir, source)
		f := fetch.New(fetch.Config{
			Timeout:  cfg.FetchTimeout,
			MaxBytes: cfg.FetchMaxBytes,
			Workers:  cfg.Workers,
			Hasher:   h,
			BlobDir:  opts.BlobDir,
			Logger:   log,
		})
		opts.Produce = func(ctx context.Context) (scan.Result, error) {
			return f.Snapshot(ctx, source, urls)
		}
	} else {
		root, err := filepath.Abs(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", scan.ErrRootUnreadable, err)
		}
		classifier, err := Classifier(cfg, root)
		if err != nil {
			return nil, err
		}
		if cfg.StoreBlobs {
			opts.BlobDir = cache.Dir(cfg.DataDir, root)
		}
		s := scan.New(scan.Options{
			Classifier: classifier,
			Hasher:     h,
			Workers:    cfg.Workers,
			BlobDir:    opts.BlobDir,
			Logger:     log,
		})
		given := cfg.Root
		opts.Produce = func(ctx context.Context) (scan.Result, error) {
			return s.Scan(ctx, given)
		}
		asm.Root = root
		asm.Classifier = classifier
	}

	switch cfg.Sink {
	case config.SinkSQLite:
		db, err := sqlstore.Open(cfg.SQLiteFile(), sqlstore.WithLogger(log))
		if err != nil {
			return nil, err
		}
		opts.Sink = SQLiteSink{DB: db}
		asm.closers = append(asm.closers, db.Close)
	default:
		opts.Sink = JSONSink{Layout: layout}
	}

	asm.Runner = New(opts)
	return asm, nil
}

// Classifier builds the exclusion policy for a tree scan of root: the
// configured names, the artifact names, the optional ignore file, and
// patterns covering the data directory and sqlite file when they live
// inside root.
func Classifier(cfg config.Config, root string) (*exclude.Classifier, error) {
	layout := store.Layout{DataDir: cfg.DataDir, Name: cfg.Name}
	names := append(append([]string(nil), cfg.Exclude...), layout.ArtifactNames()...)

	var opts []exclude.Option
	if cfg.IgnoreFile != "" {
		o, err := exclude.WithIgnoreFile(cfg.IgnoreFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	lines := artifactPatterns(cfg, root)
	if len(lines) > 0 {
		opts = append(opts, exclude.WithIgnoreLines(lines...))
	}
	return exclude.New(names, opts...), nil
}

func artifactPatterns(cfg config.Config, root string) []string {
	var lines []string
	relData, inside := within(root, cfg.DataDir)
	switch {
	case inside && relData != ".":
		lines = append(lines, "/"+relData+"/")
	case inside:
		n := cfg.Name
		lines = append(lines,
			// Temporary siblings written by atomic saves.
			"/.tmp-"+n+".*",
			"/"+n+".*.diff.json",
			"/"+n+".*.patches/",
			"/cache/"+cache.PathKey(root)+"/",
		)
	}
	if cfg.Sink == config.SinkSQLite {
		if rel, ok := within(root, cfg.SQLiteFile()); ok && !(inside && relData != "." && strings.HasPrefix(rel, relData+"/")) {
			// -wal and -shm companions share the prefix.
			lines = append(lines, "/"+rel+"*")
		}
	}
	return lines
}

// within reports p relative to root with forward slashes, and whether p
// lies inside root.
func within(root, p string) (string, bool) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}
