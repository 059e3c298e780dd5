package exclude

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExcludedSegmentExact(t *testing.T) {
	root := filepath.FromSlash("/data/project")
	set := ToSet([]string{"lib", ".git"})

	assert.True(t, IsExcluded(root, filepath.Join(root, "lib"), set))
	assert.True(t, IsExcluded(root, filepath.Join(root, "lib", "inner"), set))
	assert.True(t, IsExcluded(root, filepath.Join(root, ".git"), set))

	assert.False(t, IsExcluded(root, filepath.Join(root, "libs"), set))
	assert.False(t, IsExcluded(root, filepath.Join(root, "libfoo"), set))
	assert.False(t, IsExcluded(root, filepath.Join(root, "src", "lib"), set), "only the first segment counts")
	assert.False(t, IsExcluded(root, root, set))
	assert.False(t, IsExcluded(root, filepath.FromSlash("/data/lib"), set), "outside root")
}

func TestClassifierFilesByBareName(t *testing.T) {
	c := New([]string{"out.json", "Lib", ""})

	assert.True(t, c.ExcludeFile("out.json"))
	assert.True(t, c.ExcludeFile("deep/nested/out.json"))
	assert.False(t, c.ExcludeFile("out.json.bak"))
	assert.False(t, c.ExcludeFile("notes/lib"))

	assert.True(t, c.ExcludeDir("Lib"))
	assert.False(t, c.ExcludeDir("Library"))
	assert.False(t, c.ExcludeDir("."))
}

func TestClassifierIgnorePatterns(t *testing.T) {
	c := New(nil, WithIgnoreLines("*.tmp", "build/"))

	assert.True(t, c.ExcludeFile("a/b/x.tmp"))
	assert.False(t, c.ExcludeFile("a/b/x.txt"))
	assert.True(t, c.ExcludeDir("build"))
	assert.False(t, c.ExcludeDir("builder"))
}

func TestWithIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".fpignore")
	require.NoError(t, os.WriteFile(p, []byte("# comment\n*.log\n"), 0o644))

	opt, err := WithIgnoreFile(p)
	require.NoError(t, err)
	c := New(nil, opt)
	assert.True(t, c.ExcludeFile("server.log"))

	_, err = WithIgnoreFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
