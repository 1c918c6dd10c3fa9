package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Session stores return these
// (optionally wrapped) so the registry can translate them into its error kinds.
//
// These represent factual states about stored items, not validation failures:
// - ErrNotFound: item does not exist in the store, or its TTL has passed
// - ErrConflict: a create found the key already taken
// - ErrInvalidState: a conditional write was rejected by the store
// - ErrUnavailable: the store could not be reached
// - ErrMalformed: the store holds bytes that do not decode into an item
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrMalformed    = errors.New("malformed item")
)
