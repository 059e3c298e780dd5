// Package config holds the fingerprinter run configuration: defaults, an
// optional YAML file, and validation. CLI flags are applied by the caller on
// top of what LoadFile returns.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fingerprinter/internal/hasher"
)

// ErrNoTarget is returned by Validate when neither a root path nor a URL
// list is configured.
var ErrNoTarget = errors.New("config: one of path or urls is required")

// Sink names.
const (
	SinkJSON   = "json"
	SinkSQLite = "sqlite"
)

// DefaultExclude is the exclusion list used when none is configured.
var DefaultExclude = []string{".git", ".venv", ".idea", "Include", "Lib", "Scripts"}

// Config is one run's configuration.
type Config struct {
	Root    string   `yaml:"path"`
	URLs    []string `yaml:"urls"`
	URLFile string   `yaml:"url_file"`
	Name    string   `yaml:"name"`
	DataDir string   `yaml:"data_dir"`

	Exclude    []string `yaml:"exclude"`
	IgnoreFile string   `yaml:"ignore_file"`
	Algorithm  string   `yaml:"algorithm"`
	Workers    int      `yaml:"workers"`

	Watch       bool          `yaml:"watch"`
	Period      time.Duration `yaml:"period"`
	WatchEvents bool          `yaml:"watch_events"`
	Debounce    time.Duration `yaml:"debounce"`

	Timing  bool `yaml:"timing"`
	Verbose bool `yaml:"verbose"`
	Beep    bool `yaml:"beep"`
	LogJSON bool `yaml:"log_json"`

	Sink       string `yaml:"sink"`
	SQLitePath string `yaml:"sqlite_path"`

	StoreBlobs    bool `yaml:"store_blobs"`
	Patches       bool `yaml:"patches"`
	MaxPatchBytes int  `yaml:"max_patch_bytes"`

	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	FetchMaxBytes int64         `yaml:"fetch_max_bytes"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Name:          "out",
		DataDir:       ".",
		Exclude:       append([]string(nil), DefaultExclude...),
		Algorithm:     string(hasher.Default),
		Period:        time.Minute,
		Debounce:      500 * time.Millisecond,
		Sink:          SinkJSON,
		MaxPatchBytes: 1 << 20,
		FetchTimeout:  30 * time.Second,
		FetchMaxBytes: 10 << 20,
	}
}

// LoadFile overlays the YAML file at path on Defaults(). Keys absent from
// the file keep their default.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// SQLiteFile returns the database path of the sqlite sink.
func (c Config) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, c.Name+".db")
}

// URLMode reports whether the run fingerprints URLs instead of a tree.
func (c Config) URLMode() bool { return c.Root == "" && (len(c.URLs) > 0 || c.URLFile != "") }

// Validate checks c. A missing target is reported alone as ErrNoTarget;
// other problems are joined into one error.
func (c Config) Validate() error {
	if c.Root == "" && len(c.URLs) == 0 && c.URLFile == "" {
		return ErrNoTarget
	}
	var errs []error
	if c.Root != "" && (len(c.URLs) > 0 || c.URLFile != "") {
		errs = append(errs, errors.New("path and urls are mutually exclusive"))
	}
	// "." would let "<name>.diff.json" of one name collide with the history
	// file "<other>.<epoch>.diff.json" of another in a shared data_dir.
	if c.Name == "" || strings.ContainsAny(c.Name, `/\.`) {
		errs = append(errs, fmt.Errorf("name %q must be a plain file name without '.'", c.Name))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if _, err := hasher.Parse(c.Algorithm); err != nil {
		errs = append(errs, err)
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if c.Watch && c.Period <= 0 {
		errs = append(errs, fmt.Errorf("period must be positive in watch mode, got %s", c.Period))
	}
	if c.WatchEvents && c.Root == "" {
		errs = append(errs, errors.New("watch_events needs a path"))
	}
	if c.Debounce < 0 {
		errs = append(errs, fmt.Errorf("debounce must be >= 0, got %s", c.Debounce))
	}
	switch c.Sink {
	case SinkJSON, SinkSQLite:
	default:
		errs = append(errs, fmt.Errorf("sink %q: want %s or %s", c.Sink, SinkJSON, SinkSQLite))
	}
	if c.MaxPatchBytes < 0 {
		errs = append(errs, fmt.Errorf("max_patch_bytes must be >= 0, got %d", c.MaxPatchBytes))
	}
	for _, u := range c.URLs {
		if err := checkURL(u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolveURLs returns c.URLs followed by the entries of c.URLFile. Blank
// lines and lines starting with '#' are skipped.
func (c Config) ResolveURLs() ([]string, error) {
	out := append([]string(nil), c.URLs...)
	if c.URLFile == "" {
		return out, nil
	}
	f, err := os.Open(c.URLFile)
	if err != nil {
		return nil, fmt.Errorf("config: url file: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := checkURL(line); err != nil {
			return nil, fmt.Errorf("config: url file %s: %w", c.URLFile, err)
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: url file: %w", err)
	}
	return out, nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q: want an absolute http(s) URL", raw)
	}
	return nil
}
