// Package validate performs structural checks on persisted snapshot
// documents and on computed change sets. It is not a JSON-Schema validator;
// it checks the constraints whose violation would make a baseline unusable.
//
// Issues are aggregated into a single error so one pass reports everything.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fingerprinter/internal/hasher"
	"fingerprinter/internal/snapshot"
)

// Document validates a decoded snapshot document:
//
//   - meta.path must be non-empty.
//   - meta.updated_on.a must use snapshot.TimeLayout; .b must be >= 0.
//   - meta.algo, if present, must be a supported algorithm.
//   - files must be present (an empty object is fine, null is not).
//   - Each key must be non-empty without '..' segments; each digest must be
//     non-empty lowercase hex.
func Document(doc snapshot.Document) error {
	var errs errlist

	if strings.TrimSpace(doc.Meta.Path) == "" {
		errs.add("meta.path must be non-empty")
	}
	if _, err := time.ParseInLocation(snapshot.TimeLayout, doc.Meta.UpdatedOn.A, time.Local); err != nil {
		errs.add("meta.updated_on.a must look like %s, got %q", snapshot.TimeLayout, doc.Meta.UpdatedOn.A)
	}
	if doc.Meta.UpdatedOn.B < 0 {
		errs.add("meta.updated_on.b must be >= 0 (got %d)", doc.Meta.UpdatedOn.B)
	}
	if doc.Meta.Algo != "" {
		if _, err := hasher.Parse(doc.Meta.Algo); err != nil {
			errs.add("meta.algo: %v", err)
		}
	}

	if doc.Files == nil {
		errs.add("files must be an object, got null or missing")
	}
	paths := make([]string, 0, len(doc.Files))
	for p := range doc.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		d := doc.Files[p]
		prefix := fmt.Sprintf("files[%q]", p)
		if p == "" {
			errs.add("%s: path must be non-empty", prefix)
		}
		if hasDotDot(p) {
			errs.add("%s: path must not contain '..' segments", prefix)
		}
		if !isLowerHex(d) {
			errs.add("%s: digest must be non-empty lowercase hex, got %q", prefix, d)
		}
	}

	return errs.err()
}

// ChangeSet checks that the three path sets are sorted, free of duplicates
// and pairwise disjoint.
func ChangeSet(cs snapshot.ChangeSet) error {
	var errs errlist
	owner := make(map[string]string, cs.Len())
	for _, set := range []struct {
		name  string
		paths []string
	}{{"added", cs.Added}, {"deleted", cs.Deleted}, {"changed", cs.Changed}} {
		if !sort.StringsAreSorted(set.paths) {
			errs.add("%s paths must be sorted", set.name)
		}
		for _, p := range set.paths {
			if prev, dup := owner[p]; dup {
				errs.add("path %q is in both %s and %s", p, prev, set.name)
				continue
			}
			owner[p] = set.name
		}
	}
	return errs.err()
}

// --- helpers -----------------------------------------------------------------

func hasDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func isLowerHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// errlist aggregates multiple validation issues into a single error.
type errlist struct {
	msgs []string
}

func (e *errlist) add(format string, args ...any) {
	if e == nil {
		return
	}
	e.msgs = append(e.msgs, fmt.Sprintf(format, args...))
}

func (e *errlist) err() error {
	if e == nil || len(e.msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(e.msgs, "\n"))
}
