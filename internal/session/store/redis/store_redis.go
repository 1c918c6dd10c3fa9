package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"idcheck/internal/session/models"
	"idcheck/internal/session/store"
	"idcheck/pkg/platform/sentinel"
)

const (
	// Redis key prefixes for session items and the subject identifier index.
	sessionKeyPrefix = "session:"
	subjectKeyPrefix = "session_subject:"
)

// Outcome codes returned by updateScript.
const (
	outcomeAbsent          = 0
	outcomeConditionFailed = 1
	outcomeUpdated         = 2
)

// createScript stores a new item only if its key is free and indexes it by
// subject identifier. Sessions are created with a fixed TTL, so the newest
// member always carries the latest expiry for the index key.
//
// KEYS[1] item key, KEYS[2] index key
// ARGV[1] item JSON, ARGV[2] timeToLive (epoch seconds), ARGV[3] createdAt, ARGV[4] session id
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'EXAT', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
redis.call('EXPIREAT', KEYS[2], ARGV[2])
return 1
`)

// updateScript evaluates the condition and applies the assignments in one
// server-side step. The pre-image is returned when the condition fails.
//
// KEYS[1] item key
// ARGV[1] assignments JSON, ARGV[2] createdAt exclusive lower bound (0 disables),
// ARGV[3..n] eligible states (none means any)
var updateScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return {0}
end
local item = cjson.decode(raw)
if #ARGV > 2 then
	local eligible = false
	for i = 3, #ARGV do
		if item['sessionState'] == ARGV[i] then
			eligible = true
			break
		end
	end
	if not eligible then
		return {1, raw}
	end
end
local createdAfter = tonumber(ARGV[2])
if createdAfter ~= 0 then
	local createdAt = tonumber(item['createdAt'])
	if createdAt == nil or createdAt <= createdAfter then
		return {1, raw}
	end
end
for k, v in pairs(cjson.decode(ARGV[1])) do
	item[k] = v
end
local updated = cjson.encode(item)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')
return {2, updated}
`)

// RedisSessionStore persists sessions as JSON strings with native key expiry
// at timeToLive. Conditional updates run as Lua scripts so the check and the
// write cannot interleave with another client.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func subjectKey(subject string) string {
	return subjectKeyPrefix + subject
}

func (s *RedisSessionStore) Create(ctx context.Context, item models.Record) error {
	key := item.SessionID()
	if key == "" {
		return fmt.Errorf("create session: %s is required", models.FieldSessionID)
	}
	subject, _ := item.String(models.FieldSubjectIdentifier)
	ttl, ok := item.Number(models.FieldTimeToLive)
	if !ok {
		return fmt.Errorf("create session: %s is required", models.FieldTimeToLive)
	}
	createdAt, _ := item.Number(models.FieldCreatedAt)

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	created, err := createScript.Run(ctx, s.client,
		[]string{sessionKey(key), subjectKey(subject)},
		payload, ttl, createdAt, key,
	).Int()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("create session %s: %w", key, sentinel.ErrConflict)
	}
	return nil
}

func (s *RedisSessionStore) ConditionalUpdate(ctx context.Context, key string, update store.Update) (models.Record, error) {
	assignments, err := json.Marshal(update.Set)
	if err != nil {
		return nil, fmt.Errorf("marshal session update: %w", err)
	}
	args := []any{assignments, update.Condition.CreatedAfter}
	for _, state := range update.Condition.EligibleStates {
		args = append(args, string(state))
	}

	res, err := updateScript.Run(ctx, s.client, []string{sessionKey(key)}, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	outcome, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("update session: unexpected script reply %v", res)
	}

	switch outcome {
	case outcomeAbsent:
		return nil, &store.ConditionalCheckFailedError{}
	case outcomeConditionFailed, outcomeUpdated:
		raw, _ := res[1].(string)
		item, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		if outcome == outcomeConditionFailed {
			return nil, &store.ConditionalCheckFailedError{Item: item}
		}
		return item, nil
	default:
		return nil, fmt.Errorf("update session: unexpected script outcome %d", outcome)
	}
}

func (s *RedisSessionStore) Get(ctx context.Context, key string) (models.Record, error) {
	raw, err := s.client.Get(ctx, sessionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return decode(raw)
}

// Query ranges the subject index by createdAt and filters the items it points
// at. Index members whose item already expired are skipped.
func (s *RedisSessionStore) Query(ctx context.Context, q store.Query) ([]models.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	by := &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(q.CreatedAfter, 10),
		Max: "+inf",
	}
	var ids []string
	var err error
	if q.Descending {
		ids, err = s.client.ZRevRangeByScore(ctx, subjectKey(q.PartitionValue), by).Result()
	} else {
		ids, err = s.client.ZRangeByScore(ctx, subjectKey(q.PartitionValue), by).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("query session index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	var items []models.Record
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		item, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		if !q.Matches(item) {
			continue
		}
		items = append(items, item)
		if q.Limit > 0 && len(items) == q.Limit {
			break
		}
	}
	return items, nil
}

// Ping checks the connection for health endpoints.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decode(raw []byte) (models.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var item models.Record
	if err := dec.Decode(&item); err != nil {
		return nil, fmt.Errorf("decode session: %w: %w", sentinel.ErrMalformed, err)
	}
	return item, nil
}
