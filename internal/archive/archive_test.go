package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fingerprinter/internal/snapshot"
	"fingerprinter/internal/store"
)

func TestSanitizePath(t *testing.T) {
	cases := map[string]string{
		"/abs/path": "abs/path",
		"C:/win/x":  "win/x",
		"a/../../b": "b",
		"./a/./b":   "a/b",
		"":          "entry",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizePath(filepath.FromSlash(in)), "input %q", in)
	}
}

func TestEnsureUniqueName(t *testing.T) {
	used := map[string]struct{}{}
	assert.Equal(t, "a.json", EnsureUniqueName("a.json", used))
	assert.Equal(t, "a-1.json", EnsureUniqueName("a.json", used))
	assert.Equal(t, "a-2.json", EnsureUniqueName("a.json", used))
}

func seed(t *testing.T) store.Layout {
	t.Helper()
	l := store.Layout{DataDir: t.TempDir(), Name: "out"}
	snap := snapshot.New("/src", snapshot.NewTimestamp(time.Unix(300, 0)), "md5", map[string]string{"a": "d41d8cd98f00b204e9800998ecf8427e"})
	require.NoError(t, store.Save(l.Baseline(), snap))

	for i, cs := range []snapshot.ChangeSet{
		{Added: []string{"a"}, Deleted: []string{}, Changed: []string{}},
		{Added: []string{}, Deleted: []string{"b"}, Changed: []string{"c"}},
	} {
		_, err := store.AppendHistory(l, int64(100*(i+1)), cs)
		require.NoError(t, err)
	}
	dir := l.Patches(200)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.patch"), []byte("--- a/c\n+++ b/c\n"), 0o644))
	return l
}

func readZip(t *testing.T, p string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(p)
	require.NoError(t, err)
	defer zr.Close()
	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = b
		assert.True(t, f.Modified.Equal(FixedZipTime), "entry %s has a non-fixed time", f.Name)
	}
	return out
}

func TestExportLayout(t *testing.T) {
	l := seed(t)
	out := filepath.Join(t.TempDir(), "export", "out.zip")

	n, err := Export(l, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries := readZip(t, out)
	assert.Contains(t, entries, "baseline.json")
	assert.Contains(t, entries, "history/out.100.diff.json")
	assert.Contains(t, entries, "history/out.200.diff.json")
	assert.Equal(t, "--- a/c\n+++ b/c\n", string(entries["patches/200/c.patch"]))

	var idx Index
	require.NoError(t, json.Unmarshal(entries["index.json"], &idx))
	require.Len(t, idx.Entries, 2)
	assert.Equal(t, int64(200), idx.Entries[0].Epoch)
	assert.Equal(t, 1, idx.Entries[0].Changed)
	assert.Equal(t, 1, idx.Entries[0].Patches)
	assert.Equal(t, 1, idx.Entries[1].New)
}

func TestExportIsReproducible(t *testing.T) {
	l := seed(t)
	a := filepath.Join(t.TempDir(), "a.zip")
	b := filepath.Join(t.TempDir(), "b.zip")
	_, err := Export(l, a)
	require.NoError(t, err)
	_, err = Export(l, b)
	require.NoError(t, err)

	ab, err := os.ReadFile(a)
	require.NoError(t, err)
	bb, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(ab, bb))
}

func TestExportEmptyDataDir(t *testing.T) {
	out := filepath.Join(t.TempDir(), "e.zip")
	n, err := Export(store.Layout{DataDir: filepath.Join(t.TempDir(), "absent"), Name: "out"}, out)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Contains(t, readZip(t, out), "index.json")
}
