//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	audit "idcheck/pkg/platform/audit"
	"idcheck/pkg/platform/audit/store/postgres"
	"idcheck/pkg/testutil/containers"
)

type AuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *AuditStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background(), "audit_events"))
}

func (s *AuditStoreSuite) TestAppendIsIdempotentAndOrdered() {
	ctx := context.Background()
	sessionID := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Microsecond)

	issued := audit.Event{
		ID:        uuid.NewString(),
		Category:  audit.CategoryOperations,
		Timestamp: base,
		Action:    string(audit.EventBiometricTokenIssued),
		SessionID: sessionID,
		Subject:   "subject",
	}
	sent := issued
	sent.ID = uuid.NewString()
	sent.Action = string(audit.EventResultSent)
	sent.Category = audit.CategoryCompliance
	sent.Timestamp = base.Add(time.Minute)

	s.Require().NoError(s.store.Append(ctx, sent))
	s.Require().NoError(s.store.Append(ctx, issued))
	s.Require().NoError(s.store.Append(ctx, issued))

	events, err := s.store.ListBySession(ctx, sessionID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(issued.Action, events[0].Action)
	s.Equal(sent.Action, events[1].Action)
	s.True(sent.Timestamp.Equal(events[1].Timestamp))
}

func (s *AuditStoreSuite) TestAppendRequiresID() {
	s.Error(s.store.Append(context.Background(), audit.Event{SessionID: "x"}))
}
