// Package snapshot defines the fingerprint data model used across the tool:
//
//   - Snapshot: an immutable mapping of relative path (or URL) to content
//     digest, captured for one source at one logical instant.
//   - ChangeSet: the classified difference between two snapshots.
//
// Both types are values decoupled from their persisted JSON shapes; see
// wire.go for the on-disk documents.
package snapshot

import (
	"time"

	"fingerprinter/internal/sortutil"
)

// TimeLayout is the human-readable timestamp format stored in snapshots and
// diff artifacts (ISO-8601, local time, second precision).
const TimeLayout = "2006-01-02T15:04:05"

// Timestamp carries both representations of a snapshot's creation instant.
type Timestamp struct {
	Human string // TimeLayout formatted
	Epoch int64  // seconds since the Unix epoch
}

// NewTimestamp captures t in both representations.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Human: t.Format(TimeLayout), Epoch: t.Unix()}
}

// Snapshot maps relative paths to lowercase hex digests. It is never mutated
// after construction; accessors hand out copies.
type Snapshot struct {
	source  string
	created Timestamp
	algo    string
	files   map[string]string
}

// New builds a Snapshot from files. The map is copied, so the caller may keep
// using its own. A nil map yields an empty (not nil) file set.
func New(source string, created Timestamp, algo string, files map[string]string) *Snapshot {
	cp := make(map[string]string, len(files))
	for p, d := range files {
		cp[p] = d
	}
	return &Snapshot{source: source, created: created, algo: algo, files: cp}
}

// Source is the scanned directory or URL-set label.
func (s *Snapshot) Source() string { return s.source }

// CreatedAt is the single logical timestamp shared by every entry.
func (s *Snapshot) CreatedAt() Timestamp { return s.created }

// Algorithm names the digest algorithm; empty for baselines that predate it.
func (s *Snapshot) Algorithm() string { return s.algo }

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.files) }

// Digest looks up the digest recorded for path.
func (s *Snapshot) Digest(path string) (string, bool) {
	d, ok := s.files[path]
	return d, ok
}

// Paths returns all entry paths in lexicographic order.
func (s *Snapshot) Paths() []string {
	return sortutil.SortedKeys(s.files)
}

// Files returns a copy of the path→digest mapping.
func (s *Snapshot) Files() map[string]string {
	cp := make(map[string]string, len(s.files))
	for p, d := range s.files {
		cp[p] = d
	}
	return cp
}

// SameFiles reports whether both snapshots hold exactly the same
// (path, digest) pairs. Timestamps and sources are ignored.
func (s *Snapshot) SameFiles(other *Snapshot) bool {
	if len(s.files) != len(other.files) {
		return false
	}
	for p, d := range s.files {
		if od, ok := other.files[p]; !ok || od != d {
			return false
		}
	}
	return true
}
