package diff

// Patch generation for the changed entries of a change set.
//
// Highlights:
//   - Windows-safe patch filenames (sanitization + uniqueness).
//   - Determinism: names are built identically for identical input and the
//     result is sorted by name.
//   - Entries whose bodies are not cached are skipped, not failed.

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"fingerprinter/internal/cache"
	"fingerprinter/internal/snapshot"
)

// BodyProvider returns the content recorded under a digest.
type BodyProvider interface {
	Body(digest string) ([]byte, error)
}

// BlobDir reads bodies from a content-addressed cache directory.
type BlobDir string

// Body implements BodyProvider.
func (d BlobDir) Body(digest string) ([]byte, error) { return cache.ReadBlob(string(d), digest) }

// Patch is one rendered unified patch.
type Patch struct {
	Name     string // file name, unique within one run
	Path     string // snapshot key the patch is about
	Body     string
	Oversize bool
}

type generatedPatch struct {
	name     string
	path     string
	body     string
	oversize bool
}

// invalidFileCharsRe contains characters that are invalid in Windows filenames.
var invalidFileCharsRe = regexp.MustCompile(`[\\:*?"<>|]`)

// Make renders a patch for every path in changed whose current body is
// available from bodies. When the previous body is missing the patch adds
// the whole current content.
func Make(changed []string, prev, curr *snapshot.Snapshot, bodies BodyProvider, opt Options) []Patch {
	used := make(map[string]struct{}, len(changed))
	out := make([]generatedPatch, 0, len(changed))
	for _, p := range changed {
		newDigest, ok := curr.Digest(p)
		if !ok {
			continue
		}
		b, err := bodies.Body(newDigest)
		if err != nil {
			continue
		}
		var a []byte
		if oldDigest, ok := prev.Digest(p); ok {
			if ab, err := bodies.Body(oldDigest); err == nil {
				a = ab
			}
		}
		body, oversize := diffFile(p, opt, a, b)
		name := uniquePatchName(safeDiffBase(p), shortDigest(newDigest), used)
		out = append(out, generatedPatch{name: name, path: p, body: body, oversize: oversize})
	}

	sorted := sortAndPackage(out)
	patches := make([]Patch, len(sorted))
	for i, g := range sorted {
		patches[i] = Patch{Name: g.name, Path: g.path, Body: g.body, Oversize: g.oversize}
	}
	return patches
}

// Write stores patches as individual files under dir.
func Write(dir string, patches []Patch) error {
	for _, p := range patches {
		body := p.Body
		if err := cache.WriteAtomic(filepath.Join(dir, p.Name), func(w io.Writer) error {
			_, err := io.WriteString(w, body)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// diffFile picks a two-sided patch when the old body is known and an
// add-only patch otherwise.
func diffFile(p string, opt Options, a, b []byte) (string, bool) {
	if a == nil {
		return Added("b/"+p, b, opt)
	}
	return Unified("a/"+p, "b/"+p, a, b, opt)
}

func sortAndPackage(patches []generatedPatch) []generatedPatch {
	out := append([]generatedPatch(nil), patches...)
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// safeDiffBase returns a filesystem-safe base name (without extension):
// URL schemes and slashes become '_' and invalid characters are removed.
func safeDiffBase(p string) string {
	base := filepath.ToSlash(p)
	base = strings.ReplaceAll(base, "://", "_")
	base = strings.ReplaceAll(base, "/", "_")
	base = invalidFileCharsRe.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, "._")
	if base == "" {
		base = "patch"
	}
	return base
}

// shortHash returns the first 8 hex characters of the sha256 of s.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

func shortDigest(d string) string {
	if len(d) > 8 {
		return d[:8]
	}
	return d
}

// uniquePatchName returns base+".patch", or a suffixed variant when that
// name is already used in this run.
func uniquePatchName(base, hashHint string, used map[string]struct{}) string {
	name := base + ".patch"
	if _, ok := used[name]; !ok {
		used[name] = struct{}{}
		return name
	}
	suffix := hashHint
	if suffix == "" {
		suffix = shortHash(base)
	}
	name = base + "-" + suffix + ".patch"
	if _, ok := used[name]; !ok {
		used[name] = struct{}{}
		return name
	}
	name = base + "-" + suffix + "-" + shortHash(base+suffix) + ".patch"
	used[name] = struct{}{}
	return name
}
