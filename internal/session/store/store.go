// Package store defines the storage primitives every session backend offers:
// conditional put, conditional single-item update, point read and an indexed
// range query. Backends live in the memory, redis and postgres subpackages.
//
// Stores are pure I/O. They evaluate the condition they are handed atomically
// per item and classify outcomes into sentinel errors; they never decide
// which transition is legal.
package store

import (
	"fmt"
	"slices"

	"idcheck/internal/session/models"
	"idcheck/pkg/platform/sentinel"
)

// IndexSubjectIdentifier is the only secondary index sessions carry.
const IndexSubjectIdentifier = models.FieldSubjectIdentifier

// Condition guards a conditional update. Existence of the item is always
// required.
type Condition struct {
	// EligibleStates lists the states the item must currently be in.
	// Empty means any state.
	EligibleStates []models.SessionState
	// CreatedAfter is an exclusive lower bound on createdAt in epoch millis.
	// Zero disables the freshness check.
	CreatedAfter int64
}

// Update is a set of attribute assignments applied when Condition holds.
type Update struct {
	Set       map[string]any
	Condition Condition
}

// Query reads the subject identifier index.
type Query struct {
	Index          string
	PartitionValue string
	State          models.SessionState
	// CreatedAfter is an exclusive lower bound on createdAt in epoch millis.
	CreatedAfter int64
	// NotExpiredAt drops items whose timeToLive (epoch seconds) is not after it.
	NotExpiredAt int64
	Limit        int
	Descending   bool
}

// ConditionalCheckFailedError is returned by ConditionalUpdate when the item is
// absent or the condition does not hold. Item is the pre-image, or nil when no
// item exists under the key.
type ConditionalCheckFailedError struct {
	Item models.Record
}

func (e *ConditionalCheckFailedError) Error() string {
	if e.Item == nil {
		return "conditional check failed: item does not exist"
	}
	return fmt.Sprintf("conditional check failed for item %q", e.Item.SessionID())
}

func (e *ConditionalCheckFailedError) Unwrap() error {
	return sentinel.ErrInvalidState
}

// Matches evaluates the condition against a stored item. Backends that cannot
// push the whole condition to the server evaluate it here while holding the
// item exclusively.
func (c Condition) Matches(item models.Record) bool {
	if item == nil {
		return false
	}
	if len(c.EligibleStates) > 0 {
		state, _ := item.String(models.FieldSessionState)
		if !slices.Contains(c.EligibleStates, models.SessionState(state)) {
			return false
		}
	}
	if c.CreatedAfter != 0 {
		createdAt, ok := item.Number(models.FieldCreatedAt)
		if !ok || createdAt <= c.CreatedAfter {
			return false
		}
	}
	return true
}

// Matches reports whether an item satisfies the query filter.
func (q Query) Matches(item models.Record) bool {
	if v, _ := item.String(q.Index); v != q.PartitionValue {
		return false
	}
	if q.State != "" {
		if state, _ := item.String(models.FieldSessionState); models.SessionState(state) != q.State {
			return false
		}
	}
	createdAt, ok := item.Number(models.FieldCreatedAt)
	if !ok || createdAt <= q.CreatedAfter {
		return false
	}
	if q.NotExpiredAt != 0 {
		ttl, ok := item.Number(models.FieldTimeToLive)
		if !ok || ttl <= q.NotExpiredAt {
			return false
		}
	}
	return true
}

// Validate rejects queries against an index sessions do not carry.
func (q Query) Validate() error {
	if q.Index != IndexSubjectIdentifier {
		return fmt.Errorf("unsupported index %q", q.Index)
	}
	if q.PartitionValue == "" {
		return fmt.Errorf("index partition value is required")
	}
	return nil
}

// Apply returns a copy of item with the update's assignments.
func (u Update) Apply(item models.Record) models.Record {
	out := item.Clone()
	for k, v := range u.Set {
		out[k] = v
	}
	return out
}
