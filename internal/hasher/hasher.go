// Package hasher computes content digests for change detection.
//
// Digests are lowercase hex strings. None of the algorithms is meant as a
// tamper-proof checksum; they only have to change when content changes.
// Files are read in fixed-size chunks so memory use does not grow with file
// size, and an unreadable file never aborts the caller: HashFile returns the
// digest of empty input together with an *UnreadableFileError.
package hasher

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/fnv"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Algo identifies a digest algorithm.
type Algo string

const (
	MD5      Algo = "md5"      // 128-bit, matches digests of older baselines
	XXH64    Algo = "xxh64"    // 64-bit xxHash
	FNV1a128 Algo = "fnv1a128" // 128-bit FNV-1a
)

// Default is used when no algorithm is configured and for baselines that do
// not record one.
const Default = MD5

// ChunkSize is the read size used when hashing files.
const ChunkSize = 4096

// Supported returns the accepted algorithm names.
func Supported() []string {
	return []string{string(MD5), string(XXH64), string(FNV1a128)}
}

// Parse resolves an algorithm name (case-insensitive). The empty string
// resolves to Default.
func Parse(name string) (Algo, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Default, nil
	}
	for _, s := range Supported() {
		if name == s {
			return Algo(s), nil
		}
	}
	return "", fmt.Errorf("unknown digest algorithm %q (supported: %s)", name, strings.Join(Supported(), ", "))
}

// New returns a fresh hash state for the algorithm.
func (a Algo) New() hash.Hash {
	switch a {
	case XXH64:
		return xxhash.New()
	case FNV1a128:
		return fnv.New128a()
	default:
		return md5.New()
	}
}

// UnreadableFileError reports a file that could not be read while hashing.
// It is a per-item condition: callers log it and keep going.
type UnreadableFileError struct {
	Path string
	Err  error
}

func (e *UnreadableFileError) Error() string {
	return fmt.Sprintf("unreadable file %s: %v", e.Path, e.Err)
}

func (e *UnreadableFileError) Unwrap() error { return e.Err }

// IsUnreadable reports whether err is (or wraps) an *UnreadableFileError.
func IsUnreadable(err error) bool {
	var ue *UnreadableFileError
	return errors.As(err, &ue)
}

// Hasher digests files and byte buffers with one algorithm. It holds no
// mutable state and is safe for concurrent use.
type Hasher struct {
	algo     Algo
	sentinel string
}

// New returns a Hasher for algo.
func New(algo Algo) *Hasher {
	h := &Hasher{algo: algo}
	h.sentinel = h.HashBytes(nil)
	return h
}

// Algo returns the configured algorithm.
func (h *Hasher) Algo() Algo { return h.algo }

// Sentinel is the digest of empty input, recorded for unreadable files.
func (h *Hasher) Sentinel() string { return h.sentinel }

// HashBytes digests b.
func (h *Hasher) HashBytes(b []byte) string {
	d := h.algo.New()
	_, _ = d.Write(b)
	return hex.EncodeToString(d.Sum(nil))
}

// HashReader digests r in ChunkSize reads.
func (h *Hasher) HashReader(r io.Reader) (string, error) {
	d := h.algo.New()
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = d.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

// HashFile digests the file at path. The returned digest is always usable:
// when the file cannot be opened or read it is Sentinel() and the error is
// an *UnreadableFileError.
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return h.sentinel, &UnreadableFileError{Path: path, Err: err}
	}
	defer f.Close()
	sum, err := h.HashReader(f)
	if err != nil {
		return h.sentinel, &UnreadableFileError{Path: path, Err: err}
	}
	return sum, nil
}
