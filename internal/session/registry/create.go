package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"idcheck/internal/session/models"
	"idcheck/pkg/platform/sentinel"
	"idcheck/pkg/requestcontext"
)

// SessionRequest carries what the caller knows when a verification starts.
type SessionRequest struct {
	SubjectIdentifier    string
	ClientID             string
	GovukSigninJourneyID string
	Issuer               string
	ClientState          string
	RedirectURI          string
}

// NewSessionAttributes builds the attributes of a new session: a fresh id,
// createdAt at the request time and a timeToLive one session TTL later.
func (r *Registry) NewSessionAttributes(ctx context.Context, req SessionRequest) models.BaseAttributes {
	now := requestcontext.Now(ctx)
	return models.BaseAttributes{
		SessionID:            uuid.NewString(),
		SubjectIdentifier:    req.SubjectIdentifier,
		ClientID:             req.ClientID,
		GovukSigninJourneyID: req.GovukSigninJourneyID,
		Issuer:               req.Issuer,
		ClientState:          req.ClientState,
		RedirectURI:          req.RedirectURI,
		CreatedAt:            now.UnixMilli(),
		TimeToLive:           now.Add(r.sessionTTL).Unix(),
		SessionState:         models.StateAuthSessionCreated,
	}
}

// CreateSession stores a new session in AUTH_SESSION_CREATED. Session ids are
// never reused: an existing live session under the same id is a
// KindSessionAlreadyExists failure.
func (r *Registry) CreateSession(ctx context.Context, attrs models.BaseAttributes) error {
	ctx, span := r.tracer.Start(ctx, "session.create")
	defer span.End()

	if err := validateNewSession(attrs); err != nil {
		r.logger.WarnContext(ctx, "refusing to create invalid session",
			"session_id", attrs.SessionID,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return r.finishCreate(span, &CreateError{Kind: KindInvalidSessionAttributes, Err: err})
	}

	err := r.store.Create(ctx, attrs.Record())
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrConflict):
		r.logger.WarnContext(ctx, "session id already in use",
			"session_id", attrs.SessionID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return r.finishCreate(span, &CreateError{Kind: KindSessionAlreadyExists, Err: err})
	default:
		r.logger.ErrorContext(ctx, "session create failed",
			"session_id", attrs.SessionID,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return r.finishCreate(span, &CreateError{Kind: KindInternalServerError, Err: err})
	}

	r.logger.InfoContext(ctx, "session created",
		"session_id", attrs.SessionID,
		"client_id", attrs.ClientID,
		"request_id", requestcontext.RequestID(ctx),
	)
	r.metrics.IncrementCreate(outcomeOK)
	return nil
}

func (r *Registry) finishCreate(span trace.Span, err *CreateError) error {
	r.metrics.IncrementCreate(string(err.Kind))
	span.SetAttributes(attribute.String("session.error_kind", string(err.Kind)))
	span.SetStatus(codes.Error, string(err.Kind))
	return err
}

func validateNewSession(attrs models.BaseAttributes) error {
	required := []struct {
		name  string
		value string
	}{
		{models.FieldSessionID, attrs.SessionID},
		{models.FieldSubjectIdentifier, attrs.SubjectIdentifier},
		{models.FieldClientID, attrs.ClientID},
		{models.FieldGovukSigninJourneyID, attrs.GovukSigninJourneyID},
		{models.FieldIssuer, attrs.Issuer},
		{models.FieldClientState, attrs.ClientState},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	if attrs.SessionState != models.StateAuthSessionCreated {
		return fmt.Errorf("new sessions start in %s, got %q", models.StateAuthSessionCreated, attrs.SessionState)
	}
	if attrs.CreatedAt <= 0 {
		return fmt.Errorf("%s must be set", models.FieldCreatedAt)
	}
	// timeToLive is in seconds, createdAt in millis.
	if attrs.TimeToLive*1000 <= attrs.CreatedAt+models.FreshnessWindow.Milliseconds() {
		return fmt.Errorf("%s must be later than the freshness window", models.FieldTimeToLive)
	}
	return nil
}
