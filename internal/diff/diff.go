// Package diff renders unified patches for changed entries whose previous
// and current bodies are available from the content cache. It uses
// github.com/pmezard/go-difflib/difflib to produce classic unified patches
// (---/+++ headers, @@ hunks, lines prefixed with ' ', '-', '+').
package diff

import (
	"bytes"
	"fmt"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"
)

// Options controls patch generation behavior.
type Options struct {
	// MaxBytes is a guardrail on input size (old+new). When exceeded, a
	// placeholder patch is returned and oversize=true. 0 means no limit.
	MaxBytes int

	// Context is the number of context lines in unified hunks. Default 3.
	Context int
}

func (o Options) context() int {
	if o.Context <= 0 {
		return 3
	}
	return o.Context
}

// Unified produces a unified patch for a↦b. It returns the patch body and
// whether it was replaced by a placeholder because of the size limit.
func Unified(aName, bName string, a, b []byte, opt Options) (body string, oversize bool) {
	if opt.MaxBytes > 0 && (len(a)+len(b)) > opt.MaxBytes {
		return placeholder(aName, bName, "diff omitted (oversize)"), true
	}
	if isBinary(a) || isBinary(b) {
		return placeholder(aName, bName, "binary content differs"), false
	}

	u := difflib.UnifiedDiff{
		A:        splitLinesKeepNL(normalizeLF(a)),
		B:        splitLinesKeepNL(normalizeLF(b)),
		FromFile: aName,
		ToFile:   bName,
		Context:  opt.context(),
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil || s == "" {
		return placeholder(aName, bName, "no textual difference"), false
	}
	return s, false
}

// Added produces a patch that adds the entire content b (no old version).
func Added(bName string, b []byte, opt Options) (string, bool) {
	return Unified("/dev/null", bName, nil, b, opt)
}

// splitLinesKeepNL splits into lines and keeps the newline characters, which
// produces better unified hunks.
func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.SplitAfter(s, "\n")
}

// normalizeLF converts CRLF and lone CR to LF and replaces invalid UTF-8.
func normalizeLF(b []byte) string {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	b = bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
	return string(bytes.ToValidUTF8(b, []byte("\uFFFD")))
}

func isBinary(b []byte) bool {
	n := len(b)
	if n > 8000 {
		n = 8000
	}
	return bytes.IndexByte(b[:n], 0) >= 0
}

func placeholder(aName, bName, why string) string {
	return fmt.Sprintf("--- %s\n+++ %s\n@@\n# %s\n", aName, bName, why)
}
