// Package store abstracts the shared document store that both the therapist
// client and the device talk through. It offers point writes, field-level
// merge writes, auto-id appends, and push subscriptions on a single document
// or on a timestamp-descending limited query. Timestamps on appended
// documents are assigned by the store, not the writer.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Doc is the field set of a single document.
type Doc map[string]interface{}

// DocIDField is the reserved snapshot field carrying the document's id in
// query results, so consumers can address the document (e.g. to merge an ack
// onto a command).
const DocIDField = "_id"

// ErrNotFound is returned by Get for a document that does not exist yet.
// During the phantom-document window this is an expected, retryable state,
// not a failure.
var ErrNotFound = errors.New("store: document not found")

// ErrUnavailable wraps transport failures talking to the store backend.
var ErrUnavailable = errors.New("store: backend unavailable")

// QuerySnapshot is one delivery of a watched query. Docs is the full limited
// result in the store's native most-recent-first order; Added holds only the
// documents this subscription has not delivered before, so consumers that
// care about new entries need not re-process unchanged data.
type QuerySnapshot struct {
	Docs  []Doc
	Added []Doc
}

// Store is the shared-store contract. Implementations must deliver watch
// events for a single path in write order for that path; there is no
// ordering guarantee across paths.
type Store interface {
	// Set replaces the document at path.
	Set(ctx context.Context, path string, doc Doc) error
	// Merge writes only the given fields, leaving others intact. Merging
	// into a missing document creates it.
	Merge(ctx context.Context, path string, doc Doc) error
	// Get reads the document at path, or ErrNotFound.
	Get(ctx context.Context, path string) (Doc, error)
	// Add appends a document to a collection under a generated id and
	// returns that id. The store stamps a "timestamp" field if the writer
	// did not.
	Add(ctx context.Context, collection string, doc Doc) (string, error)
	// WatchDoc subscribes to changes of one document. The current state, if
	// any, is delivered first.
	WatchDoc(ctx context.Context, path string) (*DocSub, error)
	// WatchQuery subscribes to the collection ordered by timestamp
	// descending, limited to limit documents per snapshot.
	WatchQuery(ctx context.Context, collection string, limit int) (*QuerySub, error)
	// Close tears down the store handle. All subscriptions die with it.
	Close() error
}

// EncodeDoc converts a typed value into a Doc via its JSON form.
func EncodeDoc(v interface{}) (Doc, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode doc: %w", err)
	}
	var d Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("encode doc: %w", err)
	}
	return d, nil
}

// DecodeDoc fills a typed value from a Doc via its JSON form.
func DecodeDoc(d Doc, out interface{}) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("decode doc: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode doc: %w", err)
	}
	return nil
}

// Timestamp renders a time the way store documents carry it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
