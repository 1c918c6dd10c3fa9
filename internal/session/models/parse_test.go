package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idcheck/pkg/platform/sentinel"
)

func baseRecord(state SessionState) Record {
	return Record{
		FieldSessionID:            "58f4281d-d988-49ce-9586-6ef70a2be0b4",
		FieldSubjectIdentifier:    "urn:fdc:gov.uk:2022:subject",
		FieldClientID:             "mock-client-id",
		FieldGovukSigninJourneyID: "44444444-4444-4444-4444-444444444444",
		FieldIssuer:               "https://issuer.example",
		FieldClientState:          "mock-client-state",
		FieldCreatedAt:            float64(1704110400000),
		FieldTimeToLive:           float64(1704114000),
		FieldSessionState:         string(state),
	}
}

func withFields(r Record, kv ...any) Record {
	out := r.Clone()
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}

func without(r Record, keys ...string) Record {
	out := r.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func TestParseBaseAttributes(t *testing.T) {
	t.Run("parses a complete record and ignores unknown fields", func(t *testing.T) {
		rec := withFields(baseRecord(StateAuthSessionCreated), "unexpected", true, FieldRedirectURI, "https://client.example/redirect")

		attrs, err := ParseBaseAttributes(rec)
		require.NoError(t, err)
		assert.Equal(t, "58f4281d-d988-49ce-9586-6ef70a2be0b4", attrs.SessionID)
		assert.Equal(t, int64(1704110400000), attrs.CreatedAt)
		assert.Equal(t, int64(1704114000), attrs.TimeToLive)
		assert.Equal(t, StateAuthSessionCreated, attrs.SessionState)
		assert.Equal(t, "https://client.example/redirect", attrs.RedirectURI)
	})

	t.Run("redirectUri is optional", func(t *testing.T) {
		attrs, err := ParseBaseAttributes(baseRecord(StateAuthSessionCreated))
		require.NoError(t, err)
		assert.Empty(t, attrs.RedirectURI)
	})

	t.Run("accepts every numeric representation a backend can produce", func(t *testing.T) {
		for name, v := range map[string]any{
			"int64":       int64(1704110400000),
			"int":         1704110400000,
			"json.Number": json.Number("1704110400000"),
		} {
			t.Run(name, func(t *testing.T) {
				attrs, err := ParseBaseAttributes(withFields(baseRecord(StateAuthSessionCreated), FieldCreatedAt, v))
				require.NoError(t, err)
				assert.Equal(t, int64(1704110400000), attrs.CreatedAt)
			})
		}
	})

	t.Run("reports every invalid field and keeps the original record", func(t *testing.T) {
		rec := withFields(without(baseRecord(StateAuthSessionCreated), FieldClientID),
			FieldCreatedAt, "yesterday",
			FieldSessionState, "NOT_A_STATE",
			FieldRedirectURI, 42,
		)

		_, err := ParseBaseAttributes(rec)
		require.Error(t, err)

		var invalid *InvalidRecordError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, ShapeBase, invalid.Shape)
		assert.ElementsMatch(t, []string{FieldClientID, FieldCreatedAt, FieldSessionState, FieldRedirectURI}, invalid.Fields)
		assert.Equal(t, rec, invalid.Record)
		assert.True(t, errors.Is(err, sentinel.ErrMalformed))
	})

	t.Run("rejects fractional numbers", func(t *testing.T) {
		_, err := ParseBaseAttributes(withFields(baseRecord(StateAuthSessionCreated), FieldTimeToLive, 1.5))
		require.Error(t, err)
	})
}

func TestParseBiometricTokenIssuedAttributes(t *testing.T) {
	valid := withFields(baseRecord(StateBiometricTokenIssued), FieldDocumentType, "NFC_PASSPORT", FieldOpaqueID, "mock-opaque-id")

	t.Run("parses added fields", func(t *testing.T) {
		attrs, err := ParseBiometricTokenIssuedAttributes(valid)
		require.NoError(t, err)
		assert.Equal(t, "NFC_PASSPORT", attrs.DocumentType)
		assert.Equal(t, "mock-opaque-id", attrs.OpaqueID)
		assert.Equal(t, StateBiometricTokenIssued, attrs.SessionState)
	})

	t.Run("a record claiming the state without its fields is invalid", func(t *testing.T) {
		_, err := ParseBiometricTokenIssuedAttributes(baseRecord(StateBiometricTokenIssued))

		var invalid *InvalidRecordError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, ShapeBiometricTokenIssued, invalid.Shape)
		assert.ElementsMatch(t, []string{FieldDocumentType, FieldOpaqueID}, invalid.Fields)
	})

	t.Run("base failures are reported alongside added fields", func(t *testing.T) {
		_, err := ParseBiometricTokenIssuedAttributes(without(valid, FieldIssuer, FieldOpaqueID))

		var invalid *InvalidRecordError
		require.ErrorAs(t, err, &invalid)
		assert.ElementsMatch(t, []string{FieldIssuer, FieldOpaqueID}, invalid.Fields)
	})
}

func TestParseBiometricSessionFinishedAttributes(t *testing.T) {
	valid := withFields(baseRecord(StateBiometricSessionFinished),
		FieldDocumentType, "NFC_PASSPORT",
		FieldOpaqueID, "mock-opaque-id",
		FieldBiometricSessionID, "mock-biometric-session-id",
	)

	attrs, err := ParseBiometricSessionFinishedAttributes(valid)
	require.NoError(t, err)
	assert.Equal(t, "mock-biometric-session-id", attrs.BiometricSessionID)
	assert.Equal(t, "NFC_PASSPORT", attrs.DocumentType)

	_, err = ParseBiometricSessionFinishedAttributes(without(valid, FieldBiometricSessionID))
	require.Error(t, err)

	// RESULT_SENT sessions keep every field written before them.
	attrs, err = ParseBiometricSessionFinishedAttributes(withFields(valid, FieldSessionState, string(StateResultSent)))
	require.NoError(t, err)
	assert.Equal(t, StateResultSent, attrs.SessionState)
}

func TestNarrowedShapes(t *testing.T) {
	t.Run("aborted requires the aborted state", func(t *testing.T) {
		_, err := ParseAuthSessionAbortedAttributes(baseRecord(StateAuthSessionAborted))
		require.NoError(t, err)

		_, err = ParseAuthSessionAbortedAttributes(baseRecord(StateAuthSessionCreated))
		var invalid *InvalidRecordError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, []string{FieldSessionState}, invalid.Fields)
	})

	t.Run("result sent requires the result sent state", func(t *testing.T) {
		_, err := ParseResultSentAttributes(baseRecord(StateResultSent))
		require.NoError(t, err)

		_, err = ParseResultSentAttributes(baseRecord(StateBiometricSessionFinished))
		require.Error(t, err)
	})
}

func TestRecordRoundTrip(t *testing.T) {
	attrs := BiometricSessionFinishedAttributes{
		BiometricTokenIssuedAttributes: BiometricTokenIssuedAttributes{
			BaseAttributes: BaseAttributes{
				SessionID:            "session",
				SubjectIdentifier:    "subject",
				ClientID:             "client",
				GovukSigninJourneyID: "journey",
				Issuer:               "issuer",
				ClientState:          "state",
				CreatedAt:            1704110400000,
				TimeToLive:           1704114000,
				SessionState:         StateBiometricSessionFinished,
				RedirectURI:          "https://client.example/redirect",
			},
			DocumentType: "NFC_PASSPORT",
			OpaqueID:     "opaque",
		},
		BiometricSessionID: "biometric",
	}

	parsed, err := ParseBiometricSessionFinishedAttributes(attrs.Record())
	require.NoError(t, err)
	assert.Equal(t, attrs, parsed)
}

func TestFreshness(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, IsFresh(now.Add(-10*time.Minute).UnixMilli(), now))
	assert.True(t, IsFresh(now.Add(-59*time.Minute).UnixMilli(), now))
	assert.False(t, IsFresh(now.Add(-60*time.Minute).UnixMilli(), now))
	assert.False(t, IsFresh(now.Add(-61*time.Minute).UnixMilli(), now))
}
