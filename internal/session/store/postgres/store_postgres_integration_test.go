//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"idcheck/internal/session/models"
	"idcheck/internal/session/store"
	"idcheck/internal/session/store/postgres"
	"idcheck/pkg/platform/sentinel"
	"idcheck/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.PostgresSessionStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(postgres.Migrate(context.Background(), s.postgres.DB))
	s.store = postgres.NewPostgres(s.postgres.DB, postgres.WithClock(func() time.Time { return s.now }))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.now = time.Now()
	s.Require().NoError(s.postgres.Truncate(context.Background(), "sessions"))
}

func (s *PostgresStoreSuite) makeSession(subject string, state models.SessionState, createdAt time.Time) models.Record {
	return models.BaseAttributes{
		SessionID:            uuid.NewString(),
		SubjectIdentifier:    subject,
		ClientID:             "client",
		GovukSigninJourneyID: "journey",
		Issuer:               "https://issuer.example",
		ClientState:          "client-state",
		CreatedAt:            createdAt.UnixMilli(),
		TimeToLive:           createdAt.Add(12 * time.Hour).Unix(),
		SessionState:         state,
	}.Record()
}

func (s *PostgresStoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	item := s.makeSession("subject", models.StateAuthSessionCreated, s.now)
	s.Require().NoError(s.store.Create(ctx, item))

	got, err := s.store.Get(ctx, item.SessionID())
	s.Require().NoError(err)
	attrs, err := models.ParseBaseAttributes(got)
	s.Require().NoError(err)
	s.Equal(item.SessionID(), attrs.SessionID)
	s.Equal(models.StateAuthSessionCreated, attrs.SessionState)

	s.Run("live session id conflicts", func() {
		s.Require().ErrorIs(s.store.Create(ctx, item), sentinel.ErrConflict)
	})

	s.Run("expired rows are invisible and their key reusable", func() {
		expired := s.makeSession("subject", models.StateAuthSessionCreated, s.now.Add(-13*time.Hour))
		s.Require().NoError(s.store.Create(ctx, expired))

		_, err := s.store.Get(ctx, expired.SessionID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)

		fresh := expired.Clone()
		fresh[models.FieldCreatedAt] = s.now.UnixMilli()
		fresh[models.FieldTimeToLive] = s.now.Add(12 * time.Hour).Unix()
		s.Require().NoError(s.store.Create(ctx, fresh))
	})
}

func (s *PostgresStoreSuite) TestConditionalUpdate() {
	ctx := context.Background()
	update := store.Update{
		Set: map[string]any{
			models.FieldSessionState:       string(models.StateBiometricSessionFinished),
			models.FieldBiometricSessionID: "biometric-session",
		},
		Condition: store.Condition{
			EligibleStates: []models.SessionState{models.StateBiometricTokenIssued},
			CreatedAfter:   models.FreshnessCutoff(s.now),
		},
	}

	s.Run("success returns the post-image", func() {
		item := s.makeSession("subject", models.StateBiometricTokenIssued, s.now.Add(-time.Minute))
		s.Require().NoError(s.store.Create(ctx, item))

		post, err := s.store.ConditionalUpdate(ctx, item.SessionID(), update)
		s.Require().NoError(err)
		state, _ := post.String(models.FieldSessionState)
		s.Equal(string(models.StateBiometricSessionFinished), state)
		id, _ := post.String(models.FieldBiometricSessionID)
		s.Equal("biometric-session", id)

		items, err := s.store.Query(ctx, store.Query{
			Index:          store.IndexSubjectIdentifier,
			PartitionValue: "subject",
			State:          models.StateBiometricSessionFinished,
		})
		s.Require().NoError(err)
		s.Len(items, 1, "state column follows the attributes")
	})

	s.Run("absent item fails without a pre-image", func() {
		_, err := s.store.ConditionalUpdate(ctx, uuid.NewString(), update)
		var failed *store.ConditionalCheckFailedError
		s.Require().ErrorAs(err, &failed)
		s.Nil(failed.Item)
	})

	s.Run("ineligible state fails with the pre-image", func() {
		item := s.makeSession("subject", models.StateAuthSessionCreated, s.now.Add(-time.Minute))
		s.Require().NoError(s.store.Create(ctx, item))

		_, err := s.store.ConditionalUpdate(ctx, item.SessionID(), update)
		var failed *store.ConditionalCheckFailedError
		s.Require().ErrorAs(err, &failed)
		s.Require().NotNil(failed.Item)
		state, _ := failed.Item.String(models.FieldSessionState)
		s.Equal(string(models.StateAuthSessionCreated), state)
	})

	s.Run("stale item fails", func() {
		item := s.makeSession("subject", models.StateBiometricTokenIssued, s.now.Add(-61*time.Minute))
		s.Require().NoError(s.store.Create(ctx, item))

		_, err := s.store.ConditionalUpdate(ctx, item.SessionID(), update)
		var failed *store.ConditionalCheckFailedError
		s.Require().ErrorAs(err, &failed)
		s.NotNil(failed.Item)
	})

	s.Run("no eligible states means existence only", func() {
		item := s.makeSession("subject", models.StateAuthSessionCreated, s.now.Add(-3*time.Hour))
		s.Require().NoError(s.store.Create(ctx, item))

		_, err := s.store.ConditionalUpdate(ctx, item.SessionID(), store.Update{
			Set: map[string]any{models.FieldSessionState: string(models.StateResultSent)},
		})
		s.Require().NoError(err)
	})
}

func (s *PostgresStoreSuite) TestConcurrentConditionalUpdate() {
	ctx := context.Background()
	item := s.makeSession("subject", models.StateAuthSessionCreated, s.now)
	s.Require().NoError(s.store.Create(ctx, item))

	update := store.Update{
		Set:       map[string]any{models.FieldSessionState: string(models.StateAuthSessionAborted)},
		Condition: store.Condition{EligibleStates: []models.SessionState{models.StateAuthSessionCreated}},
	}

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount, failedCount, otherErrors atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.ConditionalUpdate(ctx, item.SessionID(), update)
			var failed *store.ConditionalCheckFailedError
			switch {
			case err == nil:
				successCount.Add(1)
			case s.ErrorAs(err, &failed):
				failedCount.Add(1)
			default:
				otherErrors.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one update should succeed")
	s.Equal(int32(goroutines-1), failedCount.Load())
	s.Equal(int32(0), otherErrors.Load(), "no unexpected errors")
}

func (s *PostgresStoreSuite) TestQueryAndDeleteExpired() {
	ctx := context.Background()
	subject := "urn:subject:" + uuid.NewString()
	older := s.makeSession(subject, models.StateAuthSessionCreated, s.now.Add(-40*time.Minute))
	newer := s.makeSession(subject, models.StateAuthSessionCreated, s.now.Add(-4*time.Minute))
	expired := s.makeSession(subject, models.StateAuthSessionCreated, s.now.Add(-20*time.Hour))
	for _, item := range []models.Record{older, newer, expired} {
		s.Require().NoError(s.store.Create(ctx, item))
	}

	items, err := s.store.Query(ctx, store.Query{
		Index:          store.IndexSubjectIdentifier,
		PartitionValue: subject,
		State:          models.StateAuthSessionCreated,
		CreatedAfter:   models.FreshnessCutoff(s.now),
		Limit:          1,
		Descending:     true,
	})
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(newer.SessionID(), items[0].SessionID())

	deleted, err := s.store.DeleteExpired(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)
}
