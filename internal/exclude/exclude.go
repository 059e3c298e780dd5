// Package exclude decides which directories and files a scan skips.
//
// Rules:
//   - A directory is excluded when the first segment of its path relative to
//     the scan root equals an exclusion entry. Matching is per segment and
//     exact: "libfoo" and "libs" do not match "lib".
//   - A file is excluded when its bare name equals an exclusion entry,
//     whatever directory it lives in.
//   - Optionally, gitignore-style patterns (WithIgnoreFile) exclude further
//     paths on top of the two rules above.
package exclude

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// Classifier holds an exclusion set. It is read-only after New and safe for
// concurrent use.
type Classifier struct {
	names    map[string]struct{}
	patterns []*ignore.GitIgnore
}

// Option customises a Classifier.
type Option func(*Classifier)

// WithIgnoreLines adds gitignore-style patterns. Options accumulate: a path
// matching any pattern set is excluded.
func WithIgnoreLines(lines ...string) Option {
	return func(c *Classifier) { c.patterns = append(c.patterns, ignore.CompileIgnoreLines(lines...)) }
}

// WithIgnoreFile compiles the gitignore-style pattern file at p.
func WithIgnoreFile(p string) (Option, error) {
	gi, err := ignore.CompileIgnoreFile(p)
	if err != nil {
		return nil, fmt.Errorf("exclude: ignore file %s: %w", p, err)
	}
	return func(c *Classifier) { c.patterns = append(c.patterns, gi) }, nil
}

// New builds a Classifier from an exclusion list. Empty entries are dropped.
func New(names []string, opts ...Option) *Classifier {
	c := &Classifier{names: ToSet(names)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ToSet builds a string set from a slice, skipping empty strings.
func ToSet(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, v := range list {
		if v != "" {
			m[v] = struct{}{}
		}
	}
	return m
}

// IsExcluded reports whether the directory candidate is excluded when
// scanning root: its first segment relative to root must equal an entry of
// exclusions. The root itself and paths outside root are never excluded.
func IsExcluded(root, candidate string, exclusions map[string]struct{}) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return firstSegmentIn(filepath.ToSlash(rel), exclusions)
}

// ExcludeDir applies the directory rule to rel, a slash-separated path
// relative to the scan root ("." is the root).
func (c *Classifier) ExcludeDir(rel string) bool {
	if firstSegmentIn(rel, c.names) {
		return true
	}
	return c.matchPattern(rel, true)
}

// ExcludeFile applies the file rule to rel, a slash-separated path relative
// to the scan root.
func (c *Classifier) ExcludeFile(rel string) bool {
	if _, ok := c.names[path.Base(rel)]; ok {
		return true
	}
	return c.matchPattern(rel, false)
}

func (c *Classifier) matchPattern(rel string, dir bool) bool {
	if rel == "." {
		return false
	}
	for _, gi := range c.patterns {
		if gi.MatchesPath(rel) {
			return true
		}
		// "name/" patterns only match with the trailing slash.
		if dir && gi.MatchesPath(rel+"/") {
			return true
		}
	}
	return false
}

func firstSegmentIn(rel string, set map[string]struct{}) bool {
	if rel == "." || rel == "" || rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	first, _, _ := strings.Cut(rel, "/")
	_, ok := set[first]
	return ok
}
