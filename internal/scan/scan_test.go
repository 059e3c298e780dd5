package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fingerprinter/internal/cache"
	"fingerprinter/internal/delta"
	"fingerprinter/internal/exclude"
	"fingerprinter/internal/hasher"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func newScanner(excl ...string) *Scanner {
	return New(Options{
		Classifier: exclude.New(excl),
		Hasher:     hasher.New(hasher.MD5),
		Workers:    4,
		Logger:     zerolog.Nop(),
	})
}

func TestScanRelativeForwardSlashPaths(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x", "sub/dir/b.txt": "y"})

	res, err := newScanner().Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub/dir/b.txt"}, res.Snapshot.Paths())
	d, _ := res.Snapshot.Digest("a.txt")
	assert.Equal(t, "9dd4e461268c8034f5c8564e155c67a6", d)
	assert.Equal(t, root, res.Snapshot.Source())
	assert.Equal(t, "md5", res.Snapshot.Algorithm())
	assert.Empty(t, res.Warnings)
}

func TestScanEmptyTree(t *testing.T) {
	res, err := newScanner().Scan(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Snapshot.Len())
	assert.NotNil(t, res.Snapshot.Files())
}

func TestScanExclusionIsSegmentExact(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"lib/skip.txt":     "1",
		"libs/keep.txt":    "2",
		"libfoo/keep.txt":  "3",
		"src/lib/keep.txt": "4",
		"out.json":         "5",
		"src/out.json":     "6",
	})

	res, err := newScanner("lib", "out.json").Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"libfoo/keep.txt", "libs/keep.txt", "src/lib/keep.txt"}, res.Snapshot.Paths())
}

func TestScanTwiceIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "1", "b/c": "2", "b/d/e": "3"})

	s := newScanner()
	first, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, first.Snapshot.Files(), second.Snapshot.Files())
}

func TestScanResultIndependentOfWorkerCount(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for i := 0; i < 64; i++ {
		files[fmt.Sprintf("d%d/f%d.txt", i%7, i)] = fmt.Sprintf("content %d", i)
	}
	writeTree(t, root, files)

	one := New(Options{Workers: 1, Logger: zerolog.Nop()})
	many := New(Options{Workers: 16, Logger: zerolog.Nop()})
	a, err := one.Scan(context.Background(), root)
	require.NoError(t, err)
	b, err := many.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, a.Snapshot.Files(), b.Snapshot.Files())
}

func TestScanTimestampCapturedOnce(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "1", "b": "2", "c": "3"})

	var calls atomic.Int32
	s := New(Options{Logger: zerolog.Nop(), Now: func() time.Time {
		calls.Add(1)
		return time.Unix(1700000000, 0)
	}})
	res, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1700000000), res.Snapshot.CreatedAt().Epoch)
}

func TestScanToleratesDanglingSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x", "b.txt": "y"})
	require.NoError(t, os.Symlink(filepath.Join(root, "gone"), filepath.Join(root, "broken")))

	s := newScanner()
	res, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "broken", res.Warnings[0].Path)
	assert.True(t, hasher.IsUnreadable(res.Warnings[0].Err))

	d, ok := res.Snapshot.Digest("broken")
	require.True(t, ok)
	assert.Equal(t, hasher.New(hasher.MD5).Sentinel(), d)
	_, ok = res.Snapshot.Digest("a.txt")
	assert.True(t, ok)
	_, ok = res.Snapshot.Digest("b.txt")
	assert.True(t, ok)
}

func TestScanToleratesPermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced here")
	}
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x", "secret.txt": "s"})
	secret := filepath.Join(root, "secret.txt")
	require.NoError(t, os.Chmod(secret, 0o000))
	t.Cleanup(func() { _ = os.Chmod(secret, 0o644) })

	res, err := newScanner().Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.True(t, errors.Is(res.Warnings[0].Err, os.ErrPermission))
	assert.Equal(t, 2, res.Snapshot.Len())
}

func TestScanSkipsSymlinkedDirectories(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	other := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x"})
	writeTree(t, other, map[string]string{"inner.txt": "y"})
	require.NoError(t, os.Symlink(other, filepath.Join(root, "linked")))

	res, err := newScanner().Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, res.Snapshot.Paths())
}

func TestScanFollowsSymlinkedRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	target := t.TempDir()
	writeTree(t, target, map[string]string{"a.txt": "x", "sub/b.txt": "y"})
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(target, link))

	direct, err := newScanner().Scan(context.Background(), target)
	require.NoError(t, err)
	res, err := newScanner().Scan(context.Background(), link)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, res.Snapshot.Paths())
	assert.True(t, res.Snapshot.SameFiles(direct.Snapshot))
	assert.Equal(t, link, res.Snapshot.Source())
	assert.Empty(t, res.Warnings)
}

func TestScanMissingRootIsFatal(t *testing.T) {
	_, err := newScanner().Scan(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, ErrRootUnreadable)

	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err = newScanner().Scan(context.Background(), f)
	assert.ErrorIs(t, err, ErrRootUnreadable)
}

func TestScanHonoursCancellation(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newScanner().Scan(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanStoresBlobs(t *testing.T) {
	root := t.TempDir()
	blobs := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "hello"})

	s := New(Options{BlobDir: blobs, Logger: zerolog.Nop()})
	res, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	d, _ := res.Snapshot.Digest("a.txt")
	body, err := cache.ReadBlob(blobs, d)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestRescanScenarios(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x", "b.txt": "y"})
	s := newScanner()
	base, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))
	writeTree(t, root, map[string]string{"c.txt": "z"})
	next, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	cs := delta.Diff(base.Snapshot, next.Snapshot)
	assert.Equal(t, []string{"c.txt"}, cs.Added)
	assert.Equal(t, []string{"b.txt"}, cs.Deleted)
	assert.Empty(t, cs.Changed)

	writeTree(t, root, map[string]string{"a.txt": "xx"})
	last, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	cs = delta.Diff(next.Snapshot, last.Snapshot)
	assert.Equal(t, []string{"a.txt"}, cs.Changed)
	assert.Empty(t, cs.Added)
	assert.Empty(t, cs.Deleted)
}
