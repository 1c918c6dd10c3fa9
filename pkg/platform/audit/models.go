package audit

import "time"

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing per sink.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: the
	// outcome of an identity check and delivery of that outcome.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to fraud monitoring, such as a
	// user abandoning a check part way.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine progress through a session.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted after a session changes state. Keep it transport-agnostic
// so stores and sinks can fan out.
type Event struct {
	ID        string        `json:"id"`
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	Action    string        `json:"action"`
	SessionID string        `json:"session_id"`
	// Subject is the subject identifier the session verifies.
	Subject   string `json:"subject"`
	ClientID  string `json:"client_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type AuditEvent string

const (
	EventSessionCreated           AuditEvent = "session_created"
	EventBiometricTokenIssued     AuditEvent = "biometric_token_issued"
	EventBiometricSessionFinished AuditEvent = "biometric_session_finished"
	EventSessionAborted           AuditEvent = "session_aborted"
	EventResultSent               AuditEvent = "result_sent"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventBiometricSessionFinished: CategoryCompliance,
	EventResultSent:               CategoryCompliance,

	EventSessionAborted: CategorySecurity,

	EventSessionCreated:       CategoryOperations,
	EventBiometricTokenIssued: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
