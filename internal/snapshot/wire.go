package snapshot

// Document is the persisted snapshot shape:
//
//	{"meta": {"path": ..., "updated_on": {"a": ISO, "b": epoch}}, "files": {...}}
//
// Algo is an extension; baselines written without it decode with Algo == "".
type Document struct {
	Meta  Meta              `json:"meta"`
	Files map[string]string `json:"files"`
}

// Meta is the "meta" object of a snapshot document.
type Meta struct {
	Path      string    `json:"path"`
	UpdatedOn UpdatedOn `json:"updated_on"`
	Algo      string    `json:"algo,omitempty"`
}

// UpdatedOn keeps the short keys the format has always used.
type UpdatedOn struct {
	A string `json:"a"`
	B int64  `json:"b"`
}

// DiffDocument is the persisted change-set shape.
type DiffDocument struct {
	New     []string `json:"new"`
	Deleted []string `json:"deleted"`
	Changed []string `json:"changed"`
	Meta    DiffMeta `json:"meta"`
}

// DiffMeta records the provenance timestamps of a diff artifact.
type DiffMeta struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Document converts the snapshot to its persisted form.
func (s *Snapshot) Document() Document {
	return Document{
		Meta: Meta{
			Path:      s.source,
			UpdatedOn: UpdatedOn{A: s.created.Human, B: s.created.Epoch},
			Algo:      s.algo,
		},
		Files: s.Files(),
	}
}

// FromDocument rebuilds a Snapshot. Callers validate the document first;
// a nil Files map still becomes an empty snapshot here.
func FromDocument(doc Document) *Snapshot {
	return New(doc.Meta.Path, Timestamp{Human: doc.Meta.UpdatedOn.A, Epoch: doc.Meta.UpdatedOn.B}, doc.Meta.Algo, doc.Files)
}

// Document converts the change set to its persisted form. Empty sets are
// written as [] rather than null.
func (c ChangeSet) Document() DiffDocument {
	return DiffDocument{
		New:     nonNil(c.Added),
		Deleted: nonNil(c.Deleted),
		Changed: nonNil(c.Changed),
		Meta:    DiffMeta{Old: c.PreviousTimestamp, New: c.CurrentTimestamp},
	}
}

// ChangeSetFromDocument rebuilds a ChangeSet from a diff artifact.
func ChangeSetFromDocument(doc DiffDocument) ChangeSet {
	return ChangeSet{
		Added:             nonNil(doc.New),
		Deleted:           nonNil(doc.Deleted),
		Changed:           nonNil(doc.Changed),
		PreviousTimestamp: doc.Meta.Old,
		CurrentTimestamp:  doc.Meta.New,
	}
}

func nonNil(s []string) []string {
	return append([]string{}, s...)
}
