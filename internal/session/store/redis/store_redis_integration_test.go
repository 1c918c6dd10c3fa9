//go:build integration

package redis_test

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
	sessionredis "idcheck/internal/session/store/redis"
	"idcheck/pkg/platform/sentinel"
	"idcheck/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *sessionredis.RedisSessionStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = sessionredis.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func makeSession(subject string, state models.SessionState, createdAt time.Time) models.Record {
	return models.BaseAttributes{
		SessionID:            uuid.NewString(),
		SubjectIdentifier:    subject,
		ClientID:             "client",
		GovukSigninJourneyID: "journey",
		Issuer:               "https://issuer.example",
		ClientState:          "client-state",
		RedirectURI:          "https://client.example/callback",
		CreatedAt:            createdAt.UnixMilli(),
		TimeToLive:           time.Now().Add(12 * time.Hour).Unix(),
		SessionState:         state,
	}.Record()
}

func (s *RedisStoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	item := makeSession("subject", models.StateAuthSessionCreated, time.Now())
	s.Require().NoError(s.store.Create(ctx, item))

	got, err := s.store.Get(ctx, item.SessionID())
	s.Require().NoError(err)

	attrs, err := models.ParseBaseAttributes(got)
	s.Require().NoError(err)
	s.Equal(item.SessionID(), attrs.SessionID)
	s.Equal(models.StateAuthSessionCreated, attrs.SessionState)
	s.Equal(item[models.FieldCreatedAt], attrs.CreatedAt)

	ttl, err := s.redis.Client.TTL(ctx, "session:"+item.SessionID()).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 11*time.Hour, "key expiry follows timeToLive")

	s.Run("duplicate session id conflicts", func() {
		s.Require().ErrorIs(s.store.Create(ctx, item), sentinel.ErrConflict)
	})

	s.Run("unknown session is not found", func() {
		_, err := s.store.Get(ctx, uuid.NewString())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *RedisStoreSuite) TestConditionalUpdate() {
	ctx := context.Background()
	now := time.Now()
	update := store.Update{
		Set: map[string]any{
			models.FieldSessionState: string(models.StateBiometricTokenIssued),
			models.FieldDocumentType: "NFC_PASSPORT",
			models.FieldOpaqueID:     "opaque",
		},
		Condition: store.Condition{
			EligibleStates: []models.SessionState{models.StateAuthSessionCreated},
			CreatedAfter:   models.FreshnessCutoff(now),
		},
	}

	s.Run("success returns the post-image and keeps the TTL", func() {
		item := makeSession("subject", models.StateAuthSessionCreated, now.Add(-5*time.Minute))
		s.Require().NoError(s.store.Create(ctx, item))

		post, err := s.store.ConditionalUpdate(ctx, item.SessionID(), update)
		s.Require().NoError(err)
		attrs, err := models.ParseBiometricTokenIssuedAttributes(post)
		s.Require().NoError(err)
		s.Equal("NFC_PASSPORT", attrs.DocumentType)
		s.Equal(item[models.FieldCreatedAt], attrs.CreatedAt)

		ttl, err := s.redis.Client.TTL(ctx, "session:"+item.SessionID()).Result()
		s.Require().NoError(err)
		s.Greater(ttl, time.Duration(0))
	})

	s.Run("absent item fails without a pre-image", func() {
		_, err := s.store.ConditionalUpdate(ctx, uuid.NewString(), update)
		var failed *store.ConditionalCheckFailedError
		s.Require().ErrorAs(err, &failed)
		s.Nil(failed.Item)
	})

	s.Run("wrong state fails with the pre-image and leaves the item alone", func() {
		item := makeSession("subject", models.StateAuthSessionAborted, now.Add(-5*time.Minute))
		s.Require().NoError(s.store.Create(ctx, item))

		_, err := s.store.ConditionalUpdate(ctx, item.SessionID(), update)
		var failed *store.ConditionalCheckFailedError
		s.Require().ErrorAs(err, &failed)
		s.Require().NotNil(failed.Item)
		state, _ := failed.Item.String(models.FieldSessionState)
		s.Equal(string(models.StateAuthSessionAborted), state)

		stored, err := s.store.Get(ctx, item.SessionID())
		s.Require().NoError(err)
		_, hasDocument := stored[models.FieldDocumentType]
		s.False(hasDocument)
	})

	s.Run("stale item fails", func() {
		item := makeSession("subject", models.StateAuthSessionCreated, now.Add(-61*time.Minute))
		s.Require().NoError(s.store.Create(ctx, item))

		_, err := s.store.ConditionalUpdate(ctx, item.SessionID(), update)
		var failed *store.ConditionalCheckFailedError
		s.Require().ErrorAs(err, &failed)
		s.NotNil(failed.Item)
	})

	s.Run("no eligible states means existence only", func() {
		item := makeSession("subject", models.StateBiometricSessionFinished, now.Add(-5*time.Hour))
		s.Require().NoError(s.store.Create(ctx, item))

		post, err := s.store.ConditionalUpdate(ctx, item.SessionID(), store.Update{
			Set: map[string]any{models.FieldSessionState: string(models.StateResultSent)},
		})
		s.Require().NoError(err)
		state, _ := post.String(models.FieldSessionState)
		s.Equal(string(models.StateResultSent), state)
	})
}

// TestConcurrentConditionalUpdate verifies the Lua script serializes racing
// clients: exactly one transition out of AUTH_SESSION_CREATED wins.
func (s *RedisStoreSuite) TestConcurrentConditionalUpdate() {
	ctx := context.Background()
	item := makeSession("subject", models.StateAuthSessionCreated, time.Now())
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

func (s *RedisStoreSuite) TestQueryBySubject() {
	ctx := context.Background()
	now := time.Now()
	subject := "urn:subject:" + uuid.NewString()

	older := makeSession(subject, models.StateAuthSessionCreated, now.Add(-20*time.Minute))
	newer := makeSession(subject, models.StateAuthSessionCreated, now.Add(-2*time.Minute))
	stale := makeSession(subject, models.StateAuthSessionCreated, now.Add(-2*time.Hour))
	otherState := makeSession(subject, models.StateResultSent, now.Add(-1*time.Minute))
	for _, item := range []models.Record{older, newer, stale, otherState} {
		s.Require().NoError(s.store.Create(ctx, item))
	}

	items, err := s.store.Query(ctx, store.Query{
		Index:          store.IndexSubjectIdentifier,
		PartitionValue: subject,
		State:          models.StateAuthSessionCreated,
		CreatedAfter:   models.FreshnessCutoff(now),
		Limit:          1,
		Descending:     true,
	})
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(newer.SessionID(), items[0].SessionID())

	items, err = s.store.Query(ctx, store.Query{
		Index:          store.IndexSubjectIdentifier,
		PartitionValue: subject,
		State:          models.StateAuthSessionCreated,
		CreatedAfter:   models.FreshnessCutoff(now),
	})
	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Equal(older.SessionID(), items[0].SessionID(), "ascending by createdAt")
}

func (s *RedisStoreSuite) TestPing() {
	s.Require().NoError(s.store.Ping(context.Background()))
}
