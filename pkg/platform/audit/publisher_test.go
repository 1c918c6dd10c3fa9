package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "idcheck/pkg/platform/audit"
	"idcheck/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		SessionID: "session-1",
		Action:    string(audit.EventResultSent),
	})
	require.NoError(t, err)

	events, err := store.ListBySession(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventResultSent), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublisher_KeepsExplicitFields(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		ID:        "fixed",
		Timestamp: ts,
		Category:  audit.CategorySecurity,
		SessionID: "session-1",
		Action:    string(audit.EventBiometricTokenIssued),
	}))

	events, err := store.ListBySession(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "fixed", events[0].ID)
	assert.Equal(t, ts, events[0].Timestamp)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store, audit.WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			SessionID: "session-1",
			Action:    string(audit.EventBiometricTokenIssued),
		}))
	}

	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close(), "close is idempotent")

	events, err := store.ListBySession(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Len(t, events, 10)
}

func TestPublisher_AsyncConcurrentEmit(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store, audit.WithAsyncBuffer(5))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, pub.Emit(context.Background(), audit.Event{
				SessionID: "session-1",
				Action:    string(audit.EventSessionAborted),
			}))
		}()
	}
	wg.Wait()
	require.NoError(t, pub.Close())

	events, err := store.ListRecent(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, events, 50)
}

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("sink down")
}

func TestPublisher_SyncModeSurfacesStoreErrors(t *testing.T) {
	pub := audit.NewPublisher(failingStore{})
	err := pub.Emit(context.Background(), audit.Event{SessionID: "session-1"})
	assert.EqualError(t, err, "sink down")
}

func TestPublisher_AsyncModeSwallowsStoreErrors(t *testing.T) {
	pub := audit.NewPublisher(failingStore{}, audit.WithAsyncBuffer(1))
	assert.NoError(t, pub.Emit(context.Background(), audit.Event{SessionID: "session-1"}))
	assert.NoError(t, pub.Close())
}

func TestEventCategories(t *testing.T) {
	assert.Equal(t, audit.CategoryCompliance, audit.EventBiometricSessionFinished.Category())
	assert.Equal(t, audit.CategorySecurity, audit.EventSessionAborted.Category())
	assert.Equal(t, audit.CategoryOperations, audit.EventSessionCreated.Category())
	assert.Equal(t, audit.CategoryOperations, audit.AuditEvent("unknown").Category())
}
