package worker

import (
	"encoding/json"
	"fmt"
)

// CommandType names the lifecycle step a command asks for.
type CommandType string

const (
	CommandStartSession             CommandType = "START_SESSION"
	CommandBiometricTokenIssued     CommandType = "BIOMETRIC_TOKEN_ISSUED"
	CommandBiometricSessionFinished CommandType = "BIOMETRIC_SESSION_FINISHED"
	CommandAbortSession             CommandType = "ABORT_SESSION"
	CommandResultSent               CommandType = "RESULT_SENT"
)

// Command is one message on the session commands topic.
type Command struct {
	Type      CommandType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`

	// START_SESSION
	SubjectIdentifier    string `json:"subjectIdentifier,omitempty"`
	ClientID             string `json:"clientId,omitempty"`
	GovukSigninJourneyID string `json:"govukSigninJourneyId,omitempty"`
	Issuer               string `json:"issuer,omitempty"`
	ClientState          string `json:"clientState,omitempty"`
	RedirectURI          string `json:"redirectUri,omitempty"`

	// BIOMETRIC_TOKEN_ISSUED
	DocumentType string `json:"documentType,omitempty"`
	OpaqueID     string `json:"opaqueId,omitempty"`

	// BIOMETRIC_SESSION_FINISHED
	BiometricSessionID string `json:"biometricSessionId,omitempty"`

	// ABORT_SESSION
	Reason string `json:"reason,omitempty"`
}

// DecodeCommand parses and checks a command payload.
func DecodeCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode session command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Validate checks the fields the command type requires.
func (c Command) Validate() error {
	required := map[string]string{}
	switch c.Type {
	case CommandStartSession:
		required["subjectIdentifier"] = c.SubjectIdentifier
		required["clientId"] = c.ClientID
	case CommandBiometricTokenIssued:
		required["sessionId"] = c.SessionID
		required["documentType"] = c.DocumentType
		required["opaqueId"] = c.OpaqueID
	case CommandBiometricSessionFinished:
		required["sessionId"] = c.SessionID
		required["biometricSessionId"] = c.BiometricSessionID
	case CommandAbortSession, CommandResultSent:
		required["sessionId"] = c.SessionID
	default:
		return fmt.Errorf("unknown session command type %q", c.Type)
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("session command %s: %s is required", c.Type, name)
		}
	}
	return nil
}
