// Package cache provides the on-disk primitives shared by the snapshot store
// and the content cache:
//   - Atomic file writes (WriteAtomic, WriteAtomicExclusive)
//   - Per-source cache directories (PathKey, Dir)
//   - A content-addressed blob store (SaveBlob, ReadBlob, HasBlob)
//
// Conventions:
//   - A per-source cache lives at: <dataDir>/cache/<pathKey>/
//   - Blobs are stored under:      <dataDir>/cache/<pathKey>/blobs/aa/bb/<digest>
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	cacheDirName = "cache"
	blobsDirName = "blobs"
)

// PathKey returns a short, stable identifier for a source (absolute path or
// URL-set label): the first 12 hex chars of its sha256.
func PathKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])[:12]
}

// Dir resolves the cache directory of source under dataDir.
func Dir(dataDir, source string) string {
	return filepath.Join(dataDir, cacheDirName, PathKey(source))
}

// WriteAtomic writes path through a temporary sibling that is fsynced and
// then renamed over path, so readers see either the old or the complete new
// content, never a partial file.
func WriteAtomic(path string, write func(io.Writer) error) error {
	tmp, err := writeTemp(path, write)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// WriteAtomicExclusive is WriteAtomic for files that must never be
// overwritten. It fails with an error matching fs.ErrExist when path already
// exists.
func WriteAtomicExclusive(path string, write func(io.Writer) error) error {
	if _, err := os.Lstat(path); err == nil {
		return &fs.PathError{Op: "create", Path: path, Err: fs.ErrExist}
	}
	tmp, err := writeTemp(path, write)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	err = os.Link(tmp, path)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}
	// Filesystems without hard links: fall back to rename after a re-check.
	if _, serr := os.Lstat(path); serr == nil {
		return &fs.PathError{Op: "create", Path: path, Err: fs.ErrExist}
	}
	return os.Rename(tmp, path)
}

func writeTemp(path string, write func(io.Writer) error) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, f, err := createTempFile(dir, filepath.Base(path))
	if err != nil {
		return "", err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// SaveBlob stores content-addressed data under <dir>/blobs/aa/bb/<digest>.
// If the blob already exists, the call is a no-op. The digest is trusted,
// not recomputed.
func SaveBlob(dir, digest string, r io.Reader) error {
	if !validDigest(digest) {
		return fmt.Errorf("cache: invalid digest %q for blob storage", digest)
	}
	p := blobPath(dir, digest)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return WriteAtomic(p, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// ReadBlob loads a blob by digest.
func ReadBlob(dir, digest string) ([]byte, error) {
	if !validDigest(digest) {
		return nil, fmt.Errorf("cache: invalid digest %q for blob read", digest)
	}
	return os.ReadFile(blobPath(dir, digest))
}

// HasBlob checks for the existence of a blob.
func HasBlob(dir, digest string) bool {
	if !validDigest(digest) {
		return false
	}
	_, err := os.Stat(blobPath(dir, digest))
	return err == nil
}

// blobPath returns <dir>/blobs/aa/bb/<digest>.
func blobPath(dir, digest string) string {
	h := strings.ToLower(digest)
	return filepath.Join(dir, blobsDirName, h[:2], h[2:4], h)
}

// createTempFile creates ".tmp-<base>-<rand>" in dir. Caller closes it.
func createTempFile(dir, base string) (string, *os.File, error) {
	f, err := os.CreateTemp(dir, ".tmp-"+base+"-")
	if err != nil {
		return "", nil, err
	}
	return f.Name(), f, nil
}

func validDigest(s string) bool {
	return len(s) >= 6 && IsHex(s)
}

// IsHex checks if s is a non-empty lowercase hex string.
func IsHex(s string) bool {
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
