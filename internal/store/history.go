package store

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"fingerprinter/internal/snapshot"
)

// HistoryEntry is one change-set artifact of the append-only history.
type HistoryEntry struct {
	Path      string
	Epoch     int64
	Seq       int
	ChangeSet snapshot.ChangeSet
}

// ListHistory returns the history artifacts of l, newest first. A missing
// data directory is an empty history.
func ListHistory(l Layout) ([]HistoryEntry, error) {
	entries, err := os.ReadDir(l.DataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]HistoryEntry, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		epoch, seq, ok := parseHistoryName(l.Name, e.Name())
		if !ok {
			continue
		}
		p := filepath.Join(l.DataDir, e.Name())
		cs, err := LoadChangeSet(p)
		if err != nil {
			return nil, err
		}
		out = append(out, HistoryEntry{Path: p, Epoch: epoch, Seq: seq, ChangeSet: cs})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Epoch != out[j].Epoch {
			return out[i].Epoch > out[j].Epoch
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

// parseHistoryName recognises "<name>.<epoch>.diff.json" and
// "<name>.<epoch>-<seq>.diff.json".
func parseHistoryName(name, file string) (int64, int, bool) {
	mid, ok := strings.CutPrefix(file, name+".")
	if !ok {
		return 0, 0, false
	}
	mid, ok = strings.CutSuffix(mid, ".diff.json")
	if !ok || mid == "" {
		return 0, 0, false
	}
	epochPart, seqPart, hasSeq := strings.Cut(mid, "-")
	epoch, err := strconv.ParseInt(epochPart, 10, 64)
	if err != nil || epoch < 0 {
		return 0, 0, false
	}
	seq := 0
	if hasSeq {
		seq, err = strconv.Atoi(seqPart)
		if err != nil || seq < 1 {
			return 0, 0, false
		}
	}
	return epoch, seq, true
}
