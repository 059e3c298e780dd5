// Package delta computes the change set between two snapshots.
//
// Diff is pure and deterministic: no I/O, sorted output, and the same result
// whether or not the equal-snapshot short-circuit is taken.
package delta

import (
	"fingerprinter/internal/snapshot"
	"fingerprinter/internal/sortutil"
)

// Diff classifies every path that differs between prev and curr:
//
//   - Deleted: in prev, not in curr
//   - Changed: in both, digests differ
//   - Added:   in curr, not in prev
//
// Both snapshots' timestamps are carried into the result. A nil snapshot is
// treated as empty.
func Diff(prev, curr *snapshot.Snapshot) snapshot.ChangeSet {
	cs := snapshot.ChangeSet{
		Added:             []string{},
		Deleted:           []string{},
		Changed:           []string{},
		PreviousTimestamp: timestampOf(prev),
		CurrentTimestamp:  timestampOf(curr),
	}
	if handleTrivial(prev, curr) {
		return cs
	}

	prevFiles := filesOf(prev)
	currFiles := filesOf(curr)

	cs.Deleted, cs.Changed = classifyDeletedAndChanged(prevFiles, currFiles)
	cs.Added = classifyAdded(prevFiles, currFiles)

	cs.Added = sortutil.StablePathSort(cs.Added)
	cs.Deleted = sortutil.StablePathSort(cs.Deleted)
	cs.Changed = sortutil.StablePathSort(cs.Changed)
	return cs
}

// handleTrivial reports whether both sides hold the same (path, digest) pairs.
func handleTrivial(prev, curr *snapshot.Snapshot) bool {
	switch {
	case prev == nil && curr == nil:
		return true
	case prev == nil:
		return curr.Len() == 0
	case curr == nil:
		return prev.Len() == 0
	default:
		return prev.SameFiles(curr)
	}
}

func classifyDeletedAndChanged(prev, curr map[string]string) ([]string, []string) {
	deleted := make([]string, 0)
	changed := make([]string, 0)
	for path, pd := range prev {
		if cd, ok := curr[path]; ok {
			if pd != cd {
				changed = append(changed, path)
			}
			continue
		}
		deleted = append(deleted, path)
	}
	return deleted, changed
}

func classifyAdded(prev, curr map[string]string) []string {
	added := make([]string, 0)
	for path := range curr {
		if _, ok := prev[path]; !ok {
			added = append(added, path)
		}
	}
	return added
}

func filesOf(s *snapshot.Snapshot) map[string]string {
	if s == nil {
		return map[string]string{}
	}
	return s.Files()
}

func timestampOf(s *snapshot.Snapshot) string {
	if s == nil {
		return ""
	}
	return s.CreatedAt().Human
}
