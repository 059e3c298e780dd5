package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fingerprinter/internal/config"
	"fingerprinter/internal/hasher"
	"fingerprinter/internal/logging"
	"fingerprinter/internal/runner"
	"fingerprinter/internal/store"
)

// errInvalidConfig marks errors that map to exitInvalidConfig.
var errInvalidConfig = errors.New("invalid configuration")

// app carries the output streams and the exit status of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer
	code   int
}

// flags mirrors the CLI; values are applied on top of the config only when
// the flag was set explicitly.
type flags struct {
	configFile    string
	path          string
	urls          []string
	urlFile       string
	name          string
	dataDir       string
	exclude       []string
	ignoreFile    string
	algo          string
	workers       int
	watch         bool
	period        time.Duration
	watchEvents   bool
	debounce      time.Duration
	timing        bool
	verbose       bool
	beep          bool
	logJSON       bool
	noColor       bool
	sink          string
	sqlitePath    string
	storeBlobs    bool
	patches       bool
	maxPatchBytes int
	fetchTimeout  time.Duration
	fetchMaxBytes int64
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	cmd := newRootCmd(ctx, a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		a.fail(err)
	}
	return a.code
}

func (a *app) fail(err error) {
	color.New(color.FgRed).Fprintf(a.stderr, "error: %v\n", err)
	if errors.Is(err, errInvalidConfig) || errors.Is(err, config.ErrNoTarget) {
		a.code = exitInvalidConfig
		return
	}
	a.code = exitFatal
}

func newRootCmd(ctx context.Context, a *app) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "fingerprinter [path]",
		Short: "Fingerprint a directory tree or a URL list and report changes since the last run",
		Long: `fingerprinter records a content digest for every file under a directory,
or for every URL of a list, saves the result as a JSON baseline and compares
each new run with the previous one.

Examples:

	fingerprinter ./site
	fingerprinter ./site --exclude node_modules --name site --data-dir ~/.fp
	fingerprinter --url-file urls.txt --watch --period 10m

A directory named "history" is taken for the history subcommand; scan it
as ./history or with --path history.
`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return fmt.Errorf("%w: %v", errInvalidConfig, err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if cmd.Flags().Changed("path") && f.path != args[0] {
					return fmt.Errorf("%w: path given both as argument and --path", errInvalidConfig)
				}
				f.path = args[0]
				if err := cmd.Flags().Set("path", args[0]); err != nil {
					return err
				}
			}
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			return a.execute(ctx, cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configFile, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&f.path, "path", "p", "", "directory to fingerprint")
	fs.StringSliceVarP(&f.urls, "urls", "u", nil, "URLs to fingerprint (comma-separated or repeated)")
	fs.StringVar(&f.urlFile, "url-file", "", "file with one URL per line")
	fs.StringVarP(&f.name, "name", "n", "", `artifact base name (default "out")`)
	fs.StringVarP(&f.dataDir, "data-dir", "d", "", `directory for snapshots and diffs (default ".")`)
	fs.StringArrayVarP(&f.exclude, "exclude", "e", nil, "directory or file name to exclude, added to the defaults (repeatable)")
	fs.StringVar(&f.ignoreFile, "ignore-file", "", "gitignore-style pattern file")
	fs.StringVar(&f.algo, "algo", "", fmt.Sprintf("digest algorithm %v (default %q)", hasher.Supported(), hasher.Default))
	fs.IntVar(&f.workers, "workers", 0, "concurrent hashing or fetch workers (default: CPU count)")
	fs.BoolVarP(&f.watch, "watch", "w", false, "repeat the run every --period until interrupted")
	fs.DurationVar(&f.period, "period", 0, "watch period (default 1m)")
	fs.BoolVar(&f.watchEvents, "watch-events", false, "in watch mode, also run after filesystem changes")
	fs.DurationVar(&f.debounce, "debounce", 0, "quiet time before an event-triggered run (default 500ms)")
	fs.BoolVar(&f.timing, "timing", false, "print per-step durations")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	fs.BoolVar(&f.beep, "beep", false, "ring the terminal bell when changes are found")
	fs.BoolVar(&f.logJSON, "log-json", false, "log JSON lines instead of console output")
	fs.BoolVar(&f.noColor, "no-color", false, "disable colored output")
	fs.StringVar(&f.sink, "sink", "", `where change sets go: "json" or "sqlite" (default "json")`)
	fs.StringVar(&f.sqlitePath, "sqlite-path", "", "sqlite database (default <data-dir>/<name>.db)")
	fs.BoolVar(&f.storeBlobs, "store-blobs", false, "keep a content-addressed copy of every file for patches")
	fs.BoolVar(&f.patches, "patches", false, "write unified patches for changed entries with cached bodies")
	fs.IntVar(&f.maxPatchBytes, "max-patch-bytes", 0, "skip patches whose inputs exceed this size")
	fs.DurationVar(&f.fetchTimeout, "fetch-timeout", 0, "per-URL timeout (default 30s)")
	fs.Int64Var(&f.fetchMaxBytes, "fetch-max-bytes", 0, "per-URL body cap (default 10MiB)")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errInvalidConfig, err)
	})
	cmd.AddCommand(newHistoryCmd(a))
	return cmd
}

// resolveConfig layers defaults, the optional YAML file and explicitly set
// flags, then validates the result.
func resolveConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg := config.Defaults()
	if f.configFile != "" {
		loaded, err := config.LoadFile(f.configFile)
		if err != nil {
			return cfg, fmt.Errorf("%w: %v", errInvalidConfig, err)
		}
		cfg = loaded
	}

	set := cmd.Flags().Changed
	if set("path") {
		cfg.Root = f.path
	}
	if set("urls") {
		cfg.URLs = f.urls
	}
	if set("url-file") {
		cfg.URLFile = f.urlFile
	}
	if set("name") {
		cfg.Name = f.name
	}
	if set("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if set("exclude") {
		cfg.Exclude = append(cfg.Exclude, f.exclude...)
	}
	if set("ignore-file") {
		cfg.IgnoreFile = f.ignoreFile
	}
	if set("algo") {
		cfg.Algorithm = f.algo
	}
	if set("workers") {
		cfg.Workers = f.workers
	}
	if set("watch") {
		cfg.Watch = f.watch
	}
	if set("period") {
		cfg.Period = f.period
	}
	if set("watch-events") {
		cfg.WatchEvents = f.watchEvents
	}
	if set("debounce") {
		cfg.Debounce = f.debounce
	}
	if set("timing") {
		cfg.Timing = f.timing
	}
	if set("verbose") {
		cfg.Verbose = f.verbose
	}
	if set("beep") {
		cfg.Beep = f.beep
	}
	if set("log-json") {
		cfg.LogJSON = f.logJSON
	}
	if set("sink") {
		cfg.Sink = f.sink
	}
	if set("sqlite-path") {
		cfg.SQLitePath = f.sqlitePath
	}
	if set("store-blobs") {
		cfg.StoreBlobs = f.storeBlobs
	}
	if set("patches") {
		cfg.Patches = f.patches
	}
	if set("max-patch-bytes") {
		cfg.MaxPatchBytes = f.maxPatchBytes
	}
	if set("fetch-timeout") {
		cfg.FetchTimeout = f.fetchTimeout
	}
	if set("fetch-max-bytes") {
		cfg.FetchMaxBytes = f.fetchMaxBytes
	}
	if f.noColor {
		color.NoColor = true
	}

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrNoTarget) {
			return cfg, err
		}
		return cfg, fmt.Errorf("%w: %v", errInvalidConfig, err)
	}
	return cfg, nil
}

func (a *app) execute(ctx context.Context, cfg config.Config) error {
	log := logging.New(a.stderr, logging.Options{Verbose: cfg.Verbose, JSON: cfg.LogJSON, NoColor: color.NoColor})
	asm, err := runner.Build(cfg, log)
	if err != nil {
		return err
	}
	defer asm.Close()

	layout := store.Layout{DataDir: cfg.DataDir, Name: cfg.Name}
	out := &reporter{w: a.stdout, layout: layout, timing: cfg.Timing, beep: cfg.Beep}

	if !cfg.Watch {
		res, err := asm.Runner.Run(ctx)
		if err != nil {
			return err
		}
		out.result(res)
		a.code = exitCode(res)
		return nil
	}

	opts := runner.LoopOptions{
		Period: cfg.Period,
		OnResult: func(res runner.RunResult, err error) error {
			if err != nil {
				color.New(color.FgRed).Fprintf(a.stderr, "error: %v\n", err)
				if errors.Is(err, store.ErrCorruptSnapshot) || errors.Is(err, runner.ErrDigestMismatch) {
					return err
				}
				return nil
			}
			out.result(res)
			return nil
		},
	}
	if cfg.WatchEvents && asm.Root != "" {
		events, err := runner.WatchTree(ctx, asm.Root, asm.Classifier, cfg.Debounce, log)
		if err != nil {
			return err
		}
		opts.Trigger = events
	}
	log.Info().Dur("period", cfg.Period).Bool("events", opts.Trigger != nil).Msg("watching")
	if err := runner.Loop(ctx, asm.Runner, opts); err != nil {
		return err
	}
	log.Info().Msg("watch stopped")
	a.code = exitNoChanges
	return nil
}

func exitCode(res runner.RunResult) int {
	switch {
	case res.FirstRun:
		return exitFirstRun
	case res.Changed:
		return exitChanges
	default:
		return exitNoChanges
	}
}
