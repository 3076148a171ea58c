// Package writeback commits synchronization results to the host tracker.
//
// The success path writes the external key and its audit note through a
// single Store call, so the host records both in one transaction. Failure
// notes are best effort and never block or fail the job that emits them.
package writeback

import (
	"context"
	"fmt"

	"github.com/soldercli/solder/internal/host"
	"github.com/soldercli/solder/internal/logging"
)

// SuccessNote is the audit note recorded alongside the external key.
func SuccessNote(externalKey string) string {
	return fmt.Sprintf("External issue created: %s", externalKey)
}

// FailureNote is the audit note for a job that ended terminally.
func FailureNote(cause string) string {
	return fmt.Sprintf("External issue sync failed: %s", cause)
}

// Writer performs the write-back half of a sync job.
type Writer struct {
	store host.Store
}

// New creates a Writer over the given host store.
func New(store host.Store) *Writer {
	return &Writer{store: store}
}

// Commit records the external key and its audit note on the item. Any error
// is a local-commit failure: the external issue already exists, so the
// caller retries the commit, never the creation.
func (w *Writer) Commit(ctx context.Context, objectID int64, externalKey string) error {
	if err := w.store.SetExternalKeyAndNote(ctx, objectID, externalKey, SuccessNote(externalKey)); err != nil {
		return fmt.Errorf("commit write-back for %d: %w", objectID, err)
	}
	return nil
}

// RecordFailure appends a terminal-failure note, best effort. A host that
// refuses the note costs a warning log, nothing more.
func (w *Writer) RecordFailure(ctx context.Context, objectID int64, cause string) {
	if err := w.store.AppendNote(ctx, objectID, FailureNote(cause)); err != nil {
		logging.Warn("failed to append failure note",
			"object_id", objectID,
			"error", err)
	}
}
