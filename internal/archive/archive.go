// Package archive exports the artifacts of one fingerprint as a reproducible
// ZIP archive:
//
//	index.json                         # history entries, newest first
//	baseline.json                      # current snapshot, when present
//	history/<name>.<epoch>.diff.json   # change-set history
//	patches/<epoch>/<patch>            # unified patches, when recorded
//
// Entries are sorted, timestamps are fixed and paths are sanitized, so the
// same artifacts always produce the same bytes.
package archive

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"fingerprinter/internal/cache"
	"fingerprinter/internal/store"
)

// FixedZipTime ensures byte-for-byte reproducible archives (1980-01-01 UTC).
var FixedZipTime = time.Unix(315532800, 0).UTC()

// Index is written to index.json.
type Index struct {
	Name    string       `json:"name"`
	Entries []IndexEntry `json:"entries"`
}

// IndexEntry summarises one history artifact.
type IndexEntry struct {
	File    string `json:"file"`
	Epoch   int64  `json:"epoch"`
	New     int    `json:"new"`
	Deleted int    `json:"deleted"`
	Changed int    `json:"changed"`
	Patches int    `json:"patches,omitempty"`
}

// Export writes the archive for l to out atomically and returns the number
// of history entries it holds.
func Export(l store.Layout, out string) (int, error) {
	history, err := store.ListHistory(l)
	if err != nil {
		return 0, fmt.Errorf("archive: %w", err)
	}
	idx := Index{Name: l.Name, Entries: make([]IndexEntry, 0, len(history))}

	err = cache.WriteAtomic(out, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		used := map[string]struct{}{}

		var files []entry
		if b, err := os.ReadFile(l.Baseline()); err == nil {
			files = append(files, entry{name: "baseline.json", data: b})
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}

		patchesSeen := map[int64]bool{}
		for _, h := range history {
			b, err := os.ReadFile(h.Path)
			if err != nil {
				return err
			}
			files = append(files, entry{name: "history/" + filepath.Base(h.Path), data: b})

			ie := IndexEntry{
				File:    filepath.Base(h.Path),
				Epoch:   h.Epoch,
				New:     len(h.ChangeSet.Added),
				Deleted: len(h.ChangeSet.Deleted),
				Changed: len(h.ChangeSet.Changed),
			}
			if !patchesSeen[h.Epoch] {
				patchesSeen[h.Epoch] = true
				patches, err := readPatches(l.Patches(h.Epoch), h.Epoch)
				if err != nil {
					return err
				}
				ie.Patches = len(patches)
				files = append(files, patches...)
			}
			idx.Entries = append(idx.Entries, ie)
		}

		if err := writeJSON(zw, EnsureUniqueName("index.json", used), idx); err != nil {
			return err
		}
		sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
		for _, f := range files {
			if err := writeEntry(zw, EnsureUniqueName(SanitizePath(f.name), used), f.data); err != nil {
				return err
			}
		}
		return zw.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("archive: %w", err)
	}
	return len(idx.Entries), nil
}

type entry struct {
	name string
	data []byte
}

func readPatches(dir string, epoch int64) ([]entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	prefix := path.Join("patches", strconv.FormatInt(epoch, 10))
	var out []entry
	for _, de := range des {
		if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), ".tmp-") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, entry{name: prefix + "/" + de.Name(), data: b})
	}
	return out, nil
}

// SanitizePath normalizes ZIP entry paths (forward slashes, no drive, no
// leading '/') and removes '.' and '..' segments without escaping the root.
func SanitizePath(p string) string {
	s := filepath.ToSlash(p)
	if len(s) > 1 && s[1] == ':' {
		s = s[2:]
	}
	s = strings.TrimLeft(s, "/")
	parts := strings.Split(s, "/")
	stack := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			if n := len(stack); n > 0 {
				stack = stack[:n-1]
			}
			continue
		}
		stack = append(stack, part)
	}
	s = strings.Join(stack, "/")
	if s == "" {
		return "entry"
	}
	return s
}

// EnsureUniqueName returns name, or name with -1, -2, ... before the
// extension when it is already used.
func EnsureUniqueName(name string, used map[string]struct{}) string {
	if _, ok := used[name]; !ok {
		used[name] = struct{}{}
		return name
	}
	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i:]
	}
	for n := 1; ; n++ {
		alt := fmt.Sprintf("%s-%d%s", base, n, ext)
		if _, ok := used[alt]; !ok {
			used[alt] = struct{}{}
			return alt
		}
	}
}

func writeJSON(zw *zip.Writer, name string, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return writeEntry(zw, name, append(b, '\n'))
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	h := &zip.FileHeader{Name: name, Method: zip.Deflate}
	h.SetMode(0o644)
	h.Modified = FixedZipTime
	w, err := zw.CreateHeader(h)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
