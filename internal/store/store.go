// Package store persists snapshots and change sets as JSON files under a
// data directory.
//
// Layout for a fingerprint named <name>:
//   - <dataDir>/<name>.json                  current baseline (overwritten each run)
//   - <dataDir>/<name>.diff.json             latest change set (overwritten)
//   - <dataDir>/<name>.<epoch>.diff.json     change-set history (never overwritten)
//   - <dataDir>/<name>.<epoch>.patches/      unified patches for that run
//
// Every write goes through a temporary file and a rename, so a failed write
// never leaves a parseable partial file behind.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"fingerprinter/internal/cache"
	"fingerprinter/internal/snapshot"
	"fingerprinter/internal/validate"
)

// ErrCorruptSnapshot matches every *CorruptSnapshotError via errors.Is.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// CorruptSnapshotError reports a baseline file that exists but cannot be
// used. It is fatal: treating it as empty would report every path deleted.
type CorruptSnapshotError struct {
	Path string
	Err  error
}

func (e *CorruptSnapshotError) Error() string {
	return fmt.Sprintf("corrupt snapshot %s: %v", e.Path, e.Err)
}

func (e *CorruptSnapshotError) Unwrap() error { return e.Err }

func (e *CorruptSnapshotError) Is(target error) bool { return target == ErrCorruptSnapshot }

// Layout names the artifacts of one fingerprint under DataDir.
type Layout struct {
	DataDir string
	Name    string
}

// Baseline is the current snapshot file.
func (l Layout) Baseline() string { return filepath.Join(l.DataDir, l.Name+".json") }

// LatestDiff is the change set of the most recent run with changes.
func (l Layout) LatestDiff() string { return filepath.Join(l.DataDir, l.Name+".diff.json") }

// HistoryDiff is the history file for epoch, before collision suffixing.
func (l Layout) HistoryDiff(epoch int64) string {
	return filepath.Join(l.DataDir, l.Name+"."+strconv.FormatInt(epoch, 10)+".diff.json")
}

// Patches is the directory receiving unified patches for epoch.
func (l Layout) Patches(epoch int64) string {
	return filepath.Join(l.DataDir, l.Name+"."+strconv.FormatInt(epoch, 10)+".patches")
}

// ArtifactNames returns the base names scans should never fingerprint.
func (l Layout) ArtifactNames() []string {
	return []string{filepath.Base(l.Baseline()), filepath.Base(l.LatestDiff())}
}

// Load reads a snapshot. A missing file yields (nil, nil), the "first run"
// outcome. A file that exists but does not decode or validate yields a
// *CorruptSnapshotError.
func Load(path string) (*snapshot.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var doc snapshot.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, &CorruptSnapshotError{Path: path, Err: err}
	}
	if err := validate.Document(doc); err != nil {
		return nil, &CorruptSnapshotError{Path: path, Err: err}
	}
	return snapshot.FromDocument(doc), nil
}

// Save writes s to path atomically.
func Save(path string, s *snapshot.Snapshot) error {
	return cache.WriteAtomic(path, encodeJSON(s.Document()))
}

// SaveChangeSet writes cs to path atomically, replacing any previous file.
func SaveChangeSet(path string, cs snapshot.ChangeSet) error {
	return cache.WriteAtomic(path, encodeJSON(cs.Document()))
}

// AppendHistory writes cs as the history artifact for epoch and returns the
// path used. An existing artifact is never replaced: when the name is taken
// a "-1", "-2", ... suffix is tried instead.
func AppendHistory(l Layout, epoch int64, cs snapshot.ChangeSet) (string, error) {
	write := encodeJSON(cs.Document())
	for seq := 0; ; seq++ {
		p := historyPath(l, epoch, seq)
		err := cache.WriteAtomicExclusive(p, write)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
}

// LoadChangeSet reads a diff artifact.
func LoadChangeSet(path string) (snapshot.ChangeSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return snapshot.ChangeSet{}, err
	}
	var doc snapshot.DiffDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return snapshot.ChangeSet{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return snapshot.ChangeSetFromDocument(doc), nil
}

func historyPath(l Layout, epoch int64, seq int) string {
	if seq == 0 {
		return l.HistoryDiff(epoch)
	}
	name := fmt.Sprintf("%s.%d-%d.diff.json", l.Name, epoch, seq)
	return filepath.Join(l.DataDir, name)
}

func encodeJSON(v any) func(io.Writer) error {
	return func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	}
}
