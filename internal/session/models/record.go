package models

import (
	"encoding/json"
	"math"
)

// Record is a session item exactly as the store holds it: attribute names to
// primitive values. Numbers may surface as float64, int64 or json.Number
// depending on the backend that decoded them.
type Record map[string]any

// Stored attribute names.
const (
	FieldSessionID            = "sessionId"
	FieldSubjectIdentifier    = "subjectIdentifier"
	FieldClientID             = "clientId"
	FieldGovukSigninJourneyID = "govukSigninJourneyId"
	FieldIssuer               = "issuer"
	FieldClientState          = "clientState"
	FieldCreatedAt            = "createdAt"
	FieldTimeToLive           = "timeToLive"
	FieldSessionState         = "sessionState"
	FieldRedirectURI          = "redirectUri"
	FieldDocumentType         = "documentType"
	FieldOpaqueID             = "opaqueId"
	FieldBiometricSessionID   = "biometricSessionId"
)

// String returns the value under key when it is a string.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key].(string)
	return v, ok
}

// Number returns the value under key when it is an integral number.
func (r Record) Number(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Clone returns a shallow copy; values are primitives so this is a full copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SessionID returns the primary key, or "" when absent.
func (r Record) SessionID() string {
	v, _ := r.String(FieldSessionID)
	return v
}
