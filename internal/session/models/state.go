package models

import "fmt"

// SessionState is the step a verification attempt has reached.
//
// Progression:
//
//	AUTH_SESSION_CREATED -> BIOMETRIC_TOKEN_ISSUED -> BIOMETRIC_SESSION_FINISHED -> RESULT_SENT
//
// AUTH_SESSION_ABORTED is reachable from either of the first two states.
// AUTH_SESSION_ABORTED and RESULT_SENT are terminal.
type SessionState string

const (
	StateAuthSessionCreated       SessionState = "AUTH_SESSION_CREATED"
	StateBiometricTokenIssued     SessionState = "BIOMETRIC_TOKEN_ISSUED"
	StateBiometricSessionFinished SessionState = "BIOMETRIC_SESSION_FINISHED"
	StateResultSent               SessionState = "RESULT_SENT"
	StateAuthSessionAborted       SessionState = "AUTH_SESSION_ABORTED"
)

var knownStates = map[SessionState]bool{
	StateAuthSessionCreated:       true,
	StateBiometricTokenIssued:     true,
	StateBiometricSessionFinished: true,
	StateResultSent:               true,
	StateAuthSessionAborted:       true,
}

// ParseSessionState validates a raw state string.
func ParseSessionState(raw string) (SessionState, error) {
	s := SessionState(raw)
	if !knownStates[s] {
		return "", fmt.Errorf("unknown session state: %q", raw)
	}
	return s, nil
}

func (s SessionState) String() string {
	return string(s)
}

// StateStrings converts states for logging and for store conditions.
func StateStrings(states []SessionState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
