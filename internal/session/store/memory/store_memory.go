package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"idcheck/internal/session/models"
	"idcheck/internal/session/store"
	"idcheck/pkg/platform/sentinel"
)

// Clock returns the current time. Injected so tests can move past TTLs.
type Clock func() time.Time

// InMemorySessionStore keeps sessions in a map guarded by a single lock. Every
// conditional update evaluates and applies under the write lock, which gives
// the same per-item atomicity a networked store provides.
type InMemorySessionStore struct {
	mu    sync.RWMutex
	items map[string]models.Record
	clock Clock
}

// Option configures an InMemorySessionStore.
type Option func(*InMemorySessionStore)

// WithClock sets the clock used to expire items past their timeToLive.
func WithClock(clock Clock) Option {
	return func(s *InMemorySessionStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(opts ...Option) *InMemorySessionStore {
	s := &InMemorySessionStore{
		items: make(map[string]models.Record),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live returns the item under key unless it is missing or past its TTL.
// Callers must hold the lock.
func (s *InMemorySessionStore) live(key string) models.Record {
	item, ok := s.items[key]
	if !ok {
		return nil
	}
	if ttl, ok := item.Number(models.FieldTimeToLive); ok && ttl <= s.clock().Unix() {
		return nil
	}
	return item
}

func (s *InMemorySessionStore) Create(_ context.Context, item models.Record) error {
	key := item.SessionID()
	if key == "" {
		return fmt.Errorf("create session: %s is required", models.FieldSessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live(key) != nil {
		return fmt.Errorf("create session %s: %w", key, sentinel.ErrConflict)
	}
	s.items[key] = item.Clone()
	return nil
}

func (s *InMemorySessionStore) ConditionalUpdate(_ context.Context, key string, update store.Update) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.live(key)
	if !update.Condition.Matches(current) {
		return nil, &store.ConditionalCheckFailedError{Item: current.Clone()}
	}
	next := update.Apply(current)
	s.items[key] = next
	return next.Clone(), nil
}

func (s *InMemorySessionStore) Get(_ context.Context, key string) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.live(key)
	if item == nil {
		return nil, sentinel.ErrNotFound
	}
	return item.Clone(), nil
}

func (s *InMemorySessionStore) Query(_ context.Context, q store.Query) ([]models.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var matches []models.Record
	for key := range s.items {
		item := s.live(key)
		if item != nil && q.Matches(item) {
			matches = append(matches, item.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		a, _ := matches[i].Number(models.FieldCreatedAt)
		b, _ := matches[j].Number(models.FieldCreatedAt)
		if q.Descending {
			return a > b
		}
		return a < b
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

// Ping always succeeds; it lets the memory store stand in for networked
// backends in health checks.
func (s *InMemorySessionStore) Ping(_ context.Context) error {
	return nil
}

// Clear removes every item.
func (s *InMemorySessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]models.Record)
}
