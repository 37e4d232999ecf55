package session

import "errors"

// ErrValidation marks a request rejected before any store write happened.
// Nothing needs undoing when callers see it.
var ErrValidation = errors.New("session: invalid request")

// ErrMetadataUnavailable is surfaced after the bounded retry for session
// metadata runs out during the phantom-document window. The session itself
// may still be fine; the caller decides whether to retry or abort.
var ErrMetadataUnavailable = errors.New("session: could not load session details")
