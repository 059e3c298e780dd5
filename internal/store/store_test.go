package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fingerprinter/internal/snapshot"
)

func sampleSnapshot() *snapshot.Snapshot {
	ts := snapshot.NewTimestamp(time.Date(2024, 5, 1, 10, 20, 30, 0, time.Local))
	return snapshot.New("/srv/www", ts, "md5", map[string]string{
		"index.html":  "9dd4e461268c8034f5c8564e155c67a6",
		"css/app.css": "d41d8cd98f00b204e9800998ecf8427e",
	})
}

func TestLoadMissingIsFirstRun(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	l := Layout{DataDir: t.TempDir(), Name: "www"}
	orig := sampleSnapshot()
	require.NoError(t, Save(l.Baseline(), orig))

	got, err := Load(l.Baseline())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, orig.Source(), got.Source())
	assert.Equal(t, orig.CreatedAt(), got.CreatedAt())
	assert.Equal(t, "md5", got.Algorithm())
	assert.True(t, orig.SameFiles(got))
}

func TestSavedFileUsesDocumentedSchema(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.json")
	require.NoError(t, Save(p, sampleSnapshot()))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	meta := raw["meta"].(map[string]any)
	assert.Equal(t, "/srv/www", meta["path"])
	on := meta["updated_on"].(map[string]any)
	assert.Equal(t, "2024-05-01T10:20:30", on["a"])
	assert.IsType(t, float64(0), on["b"])
	assert.Len(t, raw["files"], 2)
}

func TestLoadAcceptsBaselineWithoutAlgo(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.json")
	legacy := `{"meta": {"path": ".", "updated_on": {"a": "2024-01-02T03:04:05", "b": 1704164645}},
		"files": {"a.txt": "9dd4e461268c8034f5c8564e155c67a6"}}`
	require.NoError(t, os.WriteFile(p, []byte(legacy), 0o644))

	s, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "", s.Algorithm())
	assert.Equal(t, 1, s.Len())
}

func TestLoadCorruptIsFatal(t *testing.T) {
	cases := map[string]string{
		"garbage":       "not json at all",
		"empty file":    "",
		"truncated":     `{"meta": {"path": "."`,
		"missing files": `{"meta": {"path": ".", "updated_on": {"a": "2024-01-02T03:04:05", "b": 1}}}`,
		"wrong type":    `{"meta": {"path": ".", "updated_on": {"a": "2024-01-02T03:04:05", "b": 1}}, "files": []}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "bad.json")
			require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

			s, err := Load(p)
			assert.Nil(t, s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptSnapshot))
			var ce *CorruptSnapshotError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, p, ce.Path)
		})
	}
}

func TestChangeSetArtifacts(t *testing.T) {
	l := Layout{DataDir: t.TempDir(), Name: "www"}
	cs := snapshot.ChangeSet{
		Added:             []string{"c.txt"},
		Deleted:           []string{"b.txt"},
		PreviousTimestamp: "2024-05-01T10:20:30",
		CurrentTimestamp:  "2024-05-01T10:25:30",
	}
	require.NoError(t, SaveChangeSet(l.LatestDiff(), cs))

	b, err := os.ReadFile(l.LatestDiff())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"changed": []`)

	first, err := AppendHistory(l, 1714559130, cs)
	require.NoError(t, err)
	assert.Equal(t, l.HistoryDiff(1714559130), first)

	second, err := AppendHistory(l, 1714559130, snapshot.ChangeSet{Changed: []string{"a.txt"}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.DataDir, "www.1714559130-1.diff.json"), second)

	again, err := LoadChangeSet(first)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt"}, again.Added, "history must not be overwritten")
}

func TestListHistoryNewestFirst(t *testing.T) {
	l := Layout{DataDir: t.TempDir(), Name: "www"}
	for _, epoch := range []int64{100, 300, 200} {
		_, err := AppendHistory(l, epoch, snapshot.ChangeSet{Added: []string{"x"}})
		require.NoError(t, err)
	}
	_, err := AppendHistory(l, 300, snapshot.ChangeSet{})
	require.NoError(t, err)
	require.NoError(t, SaveChangeSet(l.LatestDiff(), snapshot.ChangeSet{}))
	require.NoError(t, os.WriteFile(filepath.Join(l.DataDir, "other.100.diff.json"), []byte("{}"), 0o644))

	hist, err := ListHistory(l)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, int64(300), hist[0].Epoch)
	assert.Equal(t, 1, hist[0].Seq)
	assert.Equal(t, int64(300), hist[1].Epoch)
	assert.Equal(t, int64(200), hist[2].Epoch)
	assert.Equal(t, int64(100), hist[3].Epoch)

	none, err := ListHistory(Layout{DataDir: filepath.Join(l.DataDir, "nope"), Name: "www"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
