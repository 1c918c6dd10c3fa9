package operations

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"idcheck/internal/session/models"
	"idcheck/internal/session/store"
)

// GetOperation describes one way of reading a session for a decision.
type GetOperation interface {
	// Name identifies the operation in logs and metrics.
	Name() string
	// Lookup turns the caller's key into a point read or an index query.
	Lookup(key string, now time.Time) Lookup
	// Parse checks the record against the shape this read expects.
	Parse(record models.Record) (models.Attributes, error)
	// Validate returns every attribute that makes the session unusable for
	// this read, or nil.
	Validate(attrs models.Attributes, now time.Time) []InvalidAttribute

	getOperation()
}

// Lookup is either a point read by Key or, when Query is set, the first
// result of an index query.
type Lookup struct {
	Key   string
	Query *store.Query
}

// InvalidAttribute names an attribute that failed validation and the value it
// held.
type InvalidAttribute struct {
	Name  string
	Value any
}

func (a InvalidAttribute) String() string {
	return fmt.Sprintf("%s=%v", a.Name, a.Value)
}

// InvalidAttributesError carries every reason a session was rejected.
type InvalidAttributesError struct {
	Attributes []InvalidAttribute
}

func (e *InvalidAttributesError) Error() string {
	parts := make([]string, len(e.Attributes))
	for i, a := range e.Attributes {
		parts[i] = a.String()
	}
	return "invalid session attributes: " + strings.Join(parts, ", ")
}

// validate checks the state and freshness rules shared by every read.
func validate(attrs models.Attributes, now time.Time, accepted ...models.SessionState) []InvalidAttribute {
	base := attrs.Base()
	var invalid []InvalidAttribute
	if !slices.Contains(accepted, base.SessionState) {
		invalid = append(invalid, InvalidAttribute{Name: models.FieldSessionState, Value: base.SessionState})
	}
	if !models.IsFresh(base.CreatedAt, now) {
		invalid = append(invalid, InvalidAttribute{Name: models.FieldCreatedAt, Value: base.CreatedAt})
	}
	return invalid
}

// GetAuthSessionCreated reads a session before a biometric token is issued.
type GetAuthSessionCreated struct{}

func (GetAuthSessionCreated) Name() string { return "get_auth_session_created" }

func (GetAuthSessionCreated) Lookup(key string, _ time.Time) Lookup { return Lookup{Key: key} }

func (GetAuthSessionCreated) Parse(record models.Record) (models.Attributes, error) {
	attrs, err := models.ParseBaseAttributes(record)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (GetAuthSessionCreated) Validate(attrs models.Attributes, now time.Time) []InvalidAttribute {
	return validate(attrs, now, models.StateAuthSessionCreated)
}

func (GetAuthSessionCreated) getOperation() {}

// GetBiometricTokenIssued reads a session before the biometric check finishes.
type GetBiometricTokenIssued struct{}

func (GetBiometricTokenIssued) Name() string { return "get_biometric_token_issued" }

func (GetBiometricTokenIssued) Lookup(key string, _ time.Time) Lookup { return Lookup{Key: key} }

func (GetBiometricTokenIssued) Parse(record models.Record) (models.Attributes, error) {
	attrs, err := models.ParseBiometricTokenIssuedAttributes(record)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (GetBiometricTokenIssued) Validate(attrs models.Attributes, now time.Time) []InvalidAttribute {
	return validate(attrs, now, models.StateBiometricTokenIssued)
}

func (GetBiometricTokenIssued) getOperation() {}

// IssueBiometricCredential reads a finished session for credential issuance.
// RESULT_SENT is accepted too so a retried issuance succeeds after the result
// has gone out.
type IssueBiometricCredential struct{}

func (IssueBiometricCredential) Name() string { return "issue_biometric_credential" }

func (IssueBiometricCredential) Lookup(key string, _ time.Time) Lookup { return Lookup{Key: key} }

func (IssueBiometricCredential) Parse(record models.Record) (models.Attributes, error) {
	attrs, err := models.ParseBiometricSessionFinishedAttributes(record)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (IssueBiometricCredential) Validate(attrs models.Attributes, now time.Time) []InvalidAttribute {
	return validate(attrs, now, models.StateBiometricSessionFinished, models.StateResultSent)
}

func (IssueBiometricCredential) getOperation() {}

// LatestSessionForSubject finds the newest fresh session in State for a
// subject identifier. The registry key is the subject identifier, not a
// session id.
type LatestSessionForSubject struct {
	State models.SessionState
}

func (LatestSessionForSubject) Name() string { return "latest_session_for_subject" }

func (op LatestSessionForSubject) Lookup(subject string, now time.Time) Lookup {
	return Lookup{Query: &store.Query{
		Index:          store.IndexSubjectIdentifier,
		PartitionValue: subject,
		State:          op.State,
		CreatedAfter:   models.FreshnessCutoff(now),
		NotExpiredAt:   now.Unix(),
		Limit:          1,
		Descending:     true,
	}}
}

func (LatestSessionForSubject) Parse(record models.Record) (models.Attributes, error) {
	attrs, err := models.ParseBaseAttributes(record)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (op LatestSessionForSubject) Validate(attrs models.Attributes, now time.Time) []InvalidAttribute {
	return validate(attrs, now, op.State)
}

func (LatestSessionForSubject) getOperation() {}
