package registry

import (
	"errors"
	"fmt"

	"idcheck/internal/session/models"
	"idcheck/internal/session/operations"
)

// ErrorKind is the coarse failure reported to callers. Diagnostic detail stays
// on the error value and in the logs.
type ErrorKind string

const (
	// KindSessionNotFound covers an absent session and, on reads, one that is
	// present but malformed, in the wrong state or stale.
	KindSessionNotFound ErrorKind = "SESSION_NOT_FOUND"
	// KindConditionalCheckFailure means the session exists but the transition
	// may not start from its current state or it is no longer fresh.
	KindConditionalCheckFailure ErrorKind = "CONDITIONAL_CHECK_FAILURE"
	// KindInternalServerError covers store failures and corrupt records.
	KindInternalServerError ErrorKind = "INTERNAL_SERVER_ERROR"
	// KindSessionAlreadyExists means a create reused a session id.
	KindSessionAlreadyExists ErrorKind = "SESSION_ALREADY_EXISTS"
	// KindInvalidSessionAttributes means a create was handed attributes that
	// could never form a valid session.
	KindInvalidSessionAttributes ErrorKind = "INVALID_SESSION_ATTRIBUTES"
)

// UpdateError is returned by UpdateSession.
type UpdateError struct {
	Kind      ErrorKind
	Operation string
	// Attributes is the current session, set only for
	// KindConditionalCheckFailure.
	Attributes models.Attributes
	Err        error
}

func (e *UpdateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Kind)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// RetrievalError is returned by GetSession.
type RetrievalError struct {
	Kind      ErrorKind
	Operation string
	// Record is the stored item when one was found but rejected.
	Record models.Record
	// Attributes is set when the record parsed but failed validation.
	Attributes        models.Attributes
	InvalidAttributes []operations.InvalidAttribute
	Err               error
}

func (e *RetrievalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Kind)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// CreateError is returned by CreateSession.
type CreateError struct {
	Kind ErrorKind
	Err  error
}

func (e *CreateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("create session: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("create session: %s", e.Kind)
}

func (e *CreateError) Unwrap() error { return e.Err }

// KindOf returns the kind carried by a registry error anywhere in err's chain,
// or "" when there is none.
func KindOf(err error) ErrorKind {
	var updateErr *UpdateError
	if errors.As(err, &updateErr) {
		return updateErr.Kind
	}
	var retrievalErr *RetrievalError
	if errors.As(err, &retrievalErr) {
		return retrievalErr.Kind
	}
	var createErr *CreateError
	if errors.As(err, &createErr) {
		return createErr.Kind
	}
	return ""
}
