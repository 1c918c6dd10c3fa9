package models

import (
	"fmt"
	"strings"

	"idcheck/pkg/platform/sentinel"
)

// Shape names used in parse diagnostics.
const (
	ShapeBase                     = "base"
	ShapeBiometricTokenIssued     = "biometric_token_issued"
	ShapeBiometricSessionFinished = "biometric_session_finished"
	ShapeAuthSessionAborted       = "auth_session_aborted"
	ShapeResultSent               = "result_sent"
)

// InvalidRecordError reports a record that does not match a shape. It keeps
// the untyped record so callers can log exactly what was stored.
type InvalidRecordError struct {
	Shape  string
	Fields []string
	Record Record
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("record does not match %s session attributes: invalid %s",
		e.Shape, strings.Join(e.Fields, ", "))
}

func (e *InvalidRecordError) Unwrap() error {
	return sentinel.ErrMalformed
}

// fieldReader collects every missing or mistyped field instead of stopping at
// the first one.
type fieldReader struct {
	record  Record
	invalid []string
}

func (f *fieldReader) str(key string) string {
	v, ok := f.record.String(key)
	if !ok {
		f.invalid = append(f.invalid, key)
	}
	return v
}

func (f *fieldReader) optionalStr(key string) string {
	raw, present := f.record[key]
	if !present || raw == nil {
		return ""
	}
	v, ok := raw.(string)
	if !ok {
		f.invalid = append(f.invalid, key)
	}
	return v
}

func (f *fieldReader) num(key string) int64 {
	v, ok := f.record.Number(key)
	if !ok {
		f.invalid = append(f.invalid, key)
	}
	return v
}

func (f *fieldReader) state() SessionState {
	raw, ok := f.record.String(FieldSessionState)
	if !ok {
		f.invalid = append(f.invalid, FieldSessionState)
		return ""
	}
	s, err := ParseSessionState(raw)
	if err != nil {
		f.invalid = append(f.invalid, FieldSessionState)
	}
	return s
}

func (f *fieldReader) base() BaseAttributes {
	return BaseAttributes{
		SessionID:            f.str(FieldSessionID),
		SubjectIdentifier:    f.str(FieldSubjectIdentifier),
		ClientID:             f.str(FieldClientID),
		GovukSigninJourneyID: f.str(FieldGovukSigninJourneyID),
		Issuer:               f.str(FieldIssuer),
		ClientState:          f.str(FieldClientState),
		CreatedAt:            f.num(FieldCreatedAt),
		TimeToLive:           f.num(FieldTimeToLive),
		SessionState:         f.state(),
		RedirectURI:          f.optionalStr(FieldRedirectURI),
	}
}

func (f *fieldReader) requireState(got, want SessionState) {
	if got != "" && got != want {
		f.invalid = append(f.invalid, FieldSessionState)
	}
}

func (f *fieldReader) err(shape string) error {
	if len(f.invalid) == 0 {
		return nil
	}
	return &InvalidRecordError{Shape: shape, Fields: f.invalid, Record: f.record}
}

// ParseBaseAttributes checks the fields every state carries. Unknown extra
// fields are ignored.
func ParseBaseAttributes(r Record) (BaseAttributes, error) {
	f := &fieldReader{record: r}
	base := f.base()
	if err := f.err(ShapeBase); err != nil {
		return BaseAttributes{}, err
	}
	return base, nil
}

// ParseBiometricTokenIssuedAttributes requires documentType and opaqueId on
// top of the base fields.
func ParseBiometricTokenIssuedAttributes(r Record) (BiometricTokenIssuedAttributes, error) {
	f := &fieldReader{record: r}
	attrs := biometricTokenIssued(f)
	if err := f.err(ShapeBiometricTokenIssued); err != nil {
		return BiometricTokenIssuedAttributes{}, err
	}
	return attrs, nil
}

func biometricTokenIssued(f *fieldReader) BiometricTokenIssuedAttributes {
	return BiometricTokenIssuedAttributes{
		BaseAttributes: f.base(),
		DocumentType:   f.str(FieldDocumentType),
		OpaqueID:       f.str(FieldOpaqueID),
	}
}

// ParseBiometricSessionFinishedAttributes requires biometricSessionId on top
// of the biometric token fields.
func ParseBiometricSessionFinishedAttributes(r Record) (BiometricSessionFinishedAttributes, error) {
	f := &fieldReader{record: r}
	attrs := BiometricSessionFinishedAttributes{
		BiometricTokenIssuedAttributes: biometricTokenIssued(f),
		BiometricSessionID:             f.str(FieldBiometricSessionID),
	}
	if err := f.err(ShapeBiometricSessionFinished); err != nil {
		return BiometricSessionFinishedAttributes{}, err
	}
	return attrs, nil
}

// ParseAuthSessionAbortedAttributes requires the base fields and a state of
// AUTH_SESSION_ABORTED.
func ParseAuthSessionAbortedAttributes(r Record) (AuthSessionAbortedAttributes, error) {
	f := &fieldReader{record: r}
	base := f.base()
	f.requireState(base.SessionState, StateAuthSessionAborted)
	if err := f.err(ShapeAuthSessionAborted); err != nil {
		return AuthSessionAbortedAttributes{}, err
	}
	return AuthSessionAbortedAttributes{BaseAttributes: base}, nil
}

// ParseResultSentAttributes requires the base fields and a state of
// RESULT_SENT.
func ParseResultSentAttributes(r Record) (ResultSentAttributes, error) {
	f := &fieldReader{record: r}
	base := f.base()
	f.requireState(base.SessionState, StateResultSent)
	if err := f.err(ShapeResultSent); err != nil {
		return ResultSentAttributes{}, err
	}
	return ResultSentAttributes{BaseAttributes: base}, nil
}
