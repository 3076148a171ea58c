// Package host adapts the host tracker's REST API for write-back.
//
// solder consumes a deliberately narrow slice of the host: read an item's
// external reference, commit the reference and its audit note in one atomic
// call, and append a free-form note. Everything else about the host stays on
// the host's side of the save-event payload.
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Store is the persistence contract solder requires from the host tracker.
type Store interface {
	// GetExternalKey returns the external issue key recorded on the item,
	// or empty when the item has never been linked.
	GetExternalKey(ctx context.Context, objectID int64) (string, error)

	// SetExternalKeyAndNote records the external key and appends the audit
	// note in one call; the host applies both in a single transaction, so
	// the key is never visible without its note.
	SetExternalKeyAndNote(ctx context.Context, objectID int64, key, note string) error

	// AppendNote appends a free-form note to the item.
	AppendNote(ctx context.Context, objectID int64, text string) error
}

// StatusError is a non-2xx answer from the host tracker API.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("tracker API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("tracker API returned %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether the host said the item does not exist. A
// write-back against a deleted item is permanently pointless.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
