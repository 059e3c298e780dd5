package snapshot

// ChangeSet classifies every path that differs between two snapshots.
// Added, Deleted and Changed are sorted and pairwise disjoint; a path that is
// present on both sides with the same digest appears in none of them.
type ChangeSet struct {
	Added   []string
	Deleted []string
	Changed []string

	PreviousTimestamp string
	CurrentTimestamp  string
}

// IsEmpty reports whether no path was added, deleted or changed.
func (c ChangeSet) IsEmpty() bool { return c.Len() == 0 }

// Len is the total number of classified paths.
func (c ChangeSet) Len() int { return len(c.Added) + len(c.Deleted) + len(c.Changed) }
