package models

// Attributes is the closed set of typed session shapes. Each later state
// extends the previous one and never removes a field.
type Attributes interface {
	Base() BaseAttributes
	Record() Record
	sessionAttributes()
}

// BaseAttributes are present in every state.
//
// Invariants:
//   - SessionID is the sole identity of a session and is never reused
//   - CreatedAt (epoch millis) is set once at creation
//   - TimeToLive (epoch seconds) is later than CreatedAt plus the freshness window
//   - SessionState only ever advances
type BaseAttributes struct {
	SessionID            string       `json:"sessionId"`
	SubjectIdentifier    string       `json:"subjectIdentifier"`
	ClientID             string       `json:"clientId"`
	GovukSigninJourneyID string       `json:"govukSigninJourneyId"`
	Issuer               string       `json:"issuer"`
	ClientState          string       `json:"clientState"`
	CreatedAt            int64        `json:"createdAt"`
	TimeToLive           int64        `json:"timeToLive"`
	SessionState         SessionState `json:"sessionState"`
	RedirectURI          string       `json:"redirectUri,omitempty"`
}

func (a BaseAttributes) Base() BaseAttributes { return a }

func (BaseAttributes) sessionAttributes() {}

func (a BaseAttributes) Record() Record {
	r := Record{
		FieldSessionID:            a.SessionID,
		FieldSubjectIdentifier:    a.SubjectIdentifier,
		FieldClientID:             a.ClientID,
		FieldGovukSigninJourneyID: a.GovukSigninJourneyID,
		FieldIssuer:               a.Issuer,
		FieldClientState:          a.ClientState,
		FieldCreatedAt:            a.CreatedAt,
		FieldTimeToLive:           a.TimeToLive,
		FieldSessionState:         string(a.SessionState),
	}
	if a.RedirectURI != "" {
		r[FieldRedirectURI] = a.RedirectURI
	}
	return r
}

// BiometricTokenIssuedAttributes adds the document chosen for the biometric
// check and the opaque id handed to the vendor.
type BiometricTokenIssuedAttributes struct {
	BaseAttributes
	DocumentType string `json:"documentType"`
	OpaqueID     string `json:"opaqueId"`
}

func (a BiometricTokenIssuedAttributes) Record() Record {
	r := a.BaseAttributes.Record()
	r[FieldDocumentType] = a.DocumentType
	r[FieldOpaqueID] = a.OpaqueID
	return r
}

// BiometricSessionFinishedAttributes adds the vendor's biometric session id.
type BiometricSessionFinishedAttributes struct {
	BiometricTokenIssuedAttributes
	BiometricSessionID string `json:"biometricSessionId"`
}

func (a BiometricSessionFinishedAttributes) Record() Record {
	r := a.BiometricTokenIssuedAttributes.Record()
	r[FieldBiometricSessionID] = a.BiometricSessionID
	return r
}

// AuthSessionAbortedAttributes narrows SessionState to AUTH_SESSION_ABORTED.
type AuthSessionAbortedAttributes struct {
	BaseAttributes
}

// ResultSentAttributes narrows SessionState to RESULT_SENT.
type ResultSentAttributes struct {
	BaseAttributes
}
