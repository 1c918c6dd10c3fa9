// Package service drives session lifecycle steps for the handlers that own
// them. Each step goes through the registry and, once the store has accepted
// it, records an audit event.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"idcheck/internal/session/models"
	"idcheck/internal/session/operations"
	"idcheck/internal/session/registry"
	audit "idcheck/pkg/platform/audit"
	"idcheck/pkg/requestcontext"
)

type SessionRegistry interface {
	NewSessionAttributes(ctx context.Context, req registry.SessionRequest) models.BaseAttributes
	CreateSession(ctx context.Context, attrs models.BaseAttributes) error
	UpdateSession(ctx context.Context, sessionID string, op operations.UpdateOperation) (registry.SessionUpdated, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service applies lifecycle steps and audits the ones that took effect.
type Service struct {
	registry       SessionRegistry
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// New constructs a Service.
func New(reg SessionRegistry, opts ...Option) (*Service, error) {
	if reg == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	s := &Service{registry: reg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

// StartSession creates a session in AUTH_SESSION_CREATED for a new
// verification attempt.
func (s *Service) StartSession(ctx context.Context, req registry.SessionRequest) (models.BaseAttributes, error) {
	attrs := s.registry.NewSessionAttributes(ctx, req)
	if err := s.registry.CreateSession(ctx, attrs); err != nil {
		return models.BaseAttributes{}, err
	}
	s.emit(ctx, audit.EventSessionCreated, attrs, "")
	return attrs, nil
}

func (s *Service) IssueBiometricToken(ctx context.Context, sessionID, documentType, opaqueID string) (registry.SessionUpdated, error) {
	return s.transition(ctx, sessionID, operations.BiometricTokenIssued{
		DocumentType: documentType,
		OpaqueID:     opaqueID,
	}, audit.EventBiometricTokenIssued, "")
}

func (s *Service) FinishBiometricSession(ctx context.Context, sessionID, biometricSessionID string) (registry.SessionUpdated, error) {
	return s.transition(ctx, sessionID, operations.BiometricSessionFinished{
		BiometricSessionID: biometricSessionID,
	}, audit.EventBiometricSessionFinished, "")
}

// AbortSession ends the session; reason is recorded on the audit event only.
func (s *Service) AbortSession(ctx context.Context, sessionID, reason string) (registry.SessionUpdated, error) {
	return s.transition(ctx, sessionID, operations.AbortSession{}, audit.EventSessionAborted, reason)
}

// SendResult is safe to repeat: a redelivered call succeeds and is audited
// again.
func (s *Service) SendResult(ctx context.Context, sessionID string) (registry.SessionUpdated, error) {
	return s.transition(ctx, sessionID, operations.ResultSent{}, audit.EventResultSent, "")
}

func (s *Service) transition(ctx context.Context, sessionID string, op operations.UpdateOperation, event audit.AuditEvent, reason string) (registry.SessionUpdated, error) {
	ctx = requestcontext.WithSessionID(ctx, sessionID)
	result, err := s.registry.UpdateSession(ctx, sessionID, op)
	if err != nil {
		return registry.SessionUpdated{}, err
	}
	s.emit(ctx, event, result.Attributes.Base(), reason)
	return result, nil
}

// emit records an audit event. The transition it describes has already been
// stored, so a failed emit is logged and does not fail the caller.
func (s *Service) emit(ctx context.Context, event audit.AuditEvent, attrs models.BaseAttributes, reason string) {
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:    string(event),
		SessionID: attrs.SessionID,
		Subject:   attrs.SubjectIdentifier,
		ClientID:  attrs.ClientID,
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", string(event),
			"session_id", attrs.SessionID,
			"error", err,
		)
	}
}
