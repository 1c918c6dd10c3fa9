// Package operations holds the closed set of state transitions and reads the
// session registry accepts. Every variant is a value type declared here; the
// unexported marker methods keep other packages from adding their own.
package operations

import "idcheck/internal/session/models"

// UpdateOperation describes one transition of the session state machine.
type UpdateOperation interface {
	// Name identifies the operation in logs and metrics.
	Name() string
	TargetState() models.SessionState
	// EligibleStartingStates lists the states the transition may start from.
	// An empty list means the session only has to exist.
	EligibleStartingStates() []models.SessionState
	// Mutations are the attribute assignments written on success, including
	// the new sessionState.
	Mutations() map[string]any
	// RequiresFreshness reports whether createdAt must fall inside the
	// freshness window.
	RequiresFreshness() bool
	// ReinterpretRecord parses a record returned by the store. The post-image
	// of a successful write is parsed as the target shape; the pre-image of a
	// failed one may be in any state and is parsed as the base shape.
	ReinterpretRecord(record models.Record, operationFailed bool) (models.Attributes, error)

	updateOperation()
}

// reinterpretBase parses the pre-image of a failed transition.
func reinterpretBase(record models.Record) (models.Attributes, error) {
	attrs, err := models.ParseBaseAttributes(record)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

// BiometricTokenIssued records the document type chosen for the biometric
// check and the opaque id handed to the vendor.
type BiometricTokenIssued struct {
	DocumentType string
	OpaqueID     string
}

func (BiometricTokenIssued) Name() string { return "biometric_token_issued" }

func (BiometricTokenIssued) TargetState() models.SessionState {
	return models.StateBiometricTokenIssued
}

func (BiometricTokenIssued) EligibleStartingStates() []models.SessionState {
	return []models.SessionState{models.StateAuthSessionCreated}
}

func (op BiometricTokenIssued) Mutations() map[string]any {
	return map[string]any{
		models.FieldSessionState: string(op.TargetState()),
		models.FieldDocumentType: op.DocumentType,
		models.FieldOpaqueID:     op.OpaqueID,
	}
}

func (BiometricTokenIssued) RequiresFreshness() bool { return true }

func (BiometricTokenIssued) ReinterpretRecord(record models.Record, operationFailed bool) (models.Attributes, error) {
	if operationFailed {
		return reinterpretBase(record)
	}
	attrs, err := models.ParseBiometricTokenIssuedAttributes(record)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (BiometricTokenIssued) updateOperation() {}

// BiometricSessionFinished records the vendor's biometric session id once the
// user completes the check.
type BiometricSessionFinished struct {
	BiometricSessionID string
}

func (BiometricSessionFinished) Name() string { return "biometric_session_finished" }

func (BiometricSessionFinished) TargetState() models.SessionState {
	return models.StateBiometricSessionFinished
}

func (BiometricSessionFinished) EligibleStartingStates() []models.SessionState {
	return []models.SessionState{models.StateBiometricTokenIssued}
}

func (op BiometricSessionFinished) Mutations() map[string]any {
	return map[string]any{
		models.FieldSessionState:       string(op.TargetState()),
		models.FieldBiometricSessionID: op.BiometricSessionID,
	}
}

func (BiometricSessionFinished) RequiresFreshness() bool { return true }

func (BiometricSessionFinished) ReinterpretRecord(record models.Record, operationFailed bool) (models.Attributes, error) {
	if operationFailed {
		return reinterpretBase(record)
	}
	attrs, err := models.ParseBiometricSessionFinishedAttributes(record)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (BiometricSessionFinished) updateOperation() {}

// AbortSession ends a session before the biometric check completes.
type AbortSession struct{}

func (AbortSession) Name() string { return "abort_session" }

func (AbortSession) TargetState() models.SessionState {
	return models.StateAuthSessionAborted
}

func (AbortSession) EligibleStartingStates() []models.SessionState {
	return []models.SessionState{models.StateAuthSessionCreated, models.StateBiometricTokenIssued}
}

func (op AbortSession) Mutations() map[string]any {
	return map[string]any{models.FieldSessionState: string(op.TargetState())}
}

func (AbortSession) RequiresFreshness() bool { return true }

func (AbortSession) ReinterpretRecord(record models.Record, operationFailed bool) (models.Attributes, error) {
	if operationFailed {
		return reinterpretBase(record)
	}
	attrs, err := models.ParseAuthSessionAbortedAttributes(record)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (AbortSession) updateOperation() {}

// ResultSent marks the verification result as delivered. It only requires the
// session to exist and ignores freshness, so a redelivered instruction
// succeeds again instead of failing on the state it already wrote.
type ResultSent struct{}

func (ResultSent) Name() string { return "result_sent" }

func (ResultSent) TargetState() models.SessionState {
	return models.StateResultSent
}

func (ResultSent) EligibleStartingStates() []models.SessionState { return nil }

func (op ResultSent) Mutations() map[string]any {
	return map[string]any{models.FieldSessionState: string(op.TargetState())}
}

func (ResultSent) RequiresFreshness() bool { return false }

func (ResultSent) ReinterpretRecord(record models.Record, operationFailed bool) (models.Attributes, error) {
	if operationFailed {
		return reinterpretBase(record)
	}
	attrs, err := models.ParseResultSentAttributes(record)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (ResultSent) updateOperation() {}
