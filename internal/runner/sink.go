package runner

import (
	"context"
	"fmt"

	"fingerprinter/internal/snapshot"
	"fingerprinter/internal/sqlstore"
	"fingerprinter/internal/store"
)

// Record is what a run hands to its sink.
type Record struct {
	Previous *snapshot.Snapshot // nil on a first run
	Current  *snapshot.Snapshot
	Changes  snapshot.ChangeSet
	FirstRun bool
}

// Sink persists the outcome of a run next to the JSON baseline, which the
// runner always saves itself.
type Sink interface {
	Record(ctx context.Context, rec Record) (string, error)
}

// JSONSink writes a non-empty change set twice: the latest diff file,
// overwritten each time, and a history file that is never overwritten.
type JSONSink struct {
	Layout store.Layout
}

// Record implements Sink and returns the history file path.
func (s JSONSink) Record(_ context.Context, rec Record) (string, error) {
	if rec.FirstRun || rec.Changes.IsEmpty() {
		return "", nil
	}
	if err := store.SaveChangeSet(s.Layout.LatestDiff(), rec.Changes); err != nil {
		return "", fmt.Errorf("latest diff: %w", err)
	}
	p, err := store.AppendHistory(s.Layout, rec.Current.CreatedAt().Epoch, rec.Changes)
	if err != nil {
		return "", fmt.Errorf("history diff: %w", err)
	}
	return p, nil
}

// SQLiteSink stores every snapshot as fingerprint rows and every non-empty
// change set as change rows. It replaces the JSON diff files.
type SQLiteSink struct {
	DB *sqlstore.DB
}

// Record implements Sink and returns the run ID.
func (s SQLiteSink) Record(ctx context.Context, rec Record) (string, error) {
	runID, err := s.DB.WriteSnapshot(ctx, rec.Current)
	if err != nil {
		return "", err
	}
	if rec.FirstRun || rec.Changes.IsEmpty() {
		return runID, nil
	}
	if err := s.DB.WriteChangeSet(ctx, runID, rec.Previous, rec.Current, rec.Changes); err != nil {
		return "", err
	}
	return runID, nil
}
