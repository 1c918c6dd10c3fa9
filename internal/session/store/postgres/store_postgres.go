package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"idcheck/internal/session/models"
	"idcheck/internal/session/store"
	"idcheck/pkg/platform/sentinel"
)

// PostgresSessionStore persists sessions in PostgreSQL.
// This store is pure I/O: it evaluates the condition it is given under a row
// lock and never decides which transitions are legal.
type PostgresSessionStore struct {
	db    *sql.DB
	clock func() time.Time
}

// Option configures a PostgresSessionStore.
type Option func(*PostgresSessionStore)

// WithClock sets the clock used to hide rows past their timeToLive. Rows are
// not deleted here; a periodic DELETE on time_to_live reclaims them.
func WithClock(clock func() time.Time) Option {
	return func(s *PostgresSessionStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewPostgres(db *sql.DB, opts ...Option) *PostgresSessionStore {
	s := &PostgresSessionStore{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresSessionStore) Create(ctx context.Context, item models.Record) error {
	key := item.SessionID()
	if key == "" {
		return fmt.Errorf("create session: %s is required", models.FieldSessionID)
	}
	subject, _ := item.String(models.FieldSubjectIdentifier)
	state, _ := item.String(models.FieldSessionState)
	createdAt, _ := item.Number(models.FieldCreatedAt)
	ttl, ok := item.Number(models.FieldTimeToLive)
	if !ok {
		return fmt.Errorf("create session: %s is required", models.FieldTimeToLive)
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	// An expired row still holding the key is replaced; a live one is not.
	query := `
		INSERT INTO sessions (session_id, subject_identifier, session_state, created_at, time_to_live, attributes)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (session_id) DO UPDATE SET
			subject_identifier = EXCLUDED.subject_identifier,
			session_state = EXCLUDED.session_state,
			created_at = EXCLUDED.created_at,
			time_to_live = EXCLUDED.time_to_live,
			attributes = EXCLUDED.attributes
		WHERE sessions.time_to_live <= $7
	`
	result, err := s.db.ExecContext(ctx, query, key, subject, state, createdAt, ttl, string(payload), s.clock().Unix())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create session rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("create session %s: %w", key, sentinel.ErrConflict)
	}
	return nil
}

// ConditionalUpdate locks the row, then updates it only where the condition
// holds. The locked read supplies the pre-image when the update matches
// nothing, so it always reflects the state the condition was checked against.
func (s *PostgresSessionStore) ConditionalUpdate(ctx context.Context, key string, update store.Update) (models.Record, error) {
	assignments, err := json.Marshal(update.Set)
	if err != nil {
		return nil, fmt.Errorf("marshal session update: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var preImage []byte
	err = tx.QueryRowContext(ctx,
		`SELECT attributes FROM sessions WHERE session_id = $1 AND time_to_live > $2 FOR UPDATE`,
		key, s.clock().Unix(),
	).Scan(&preImage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &store.ConditionalCheckFailedError{}
	}
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}

	query := `
		UPDATE sessions SET
			attributes = attributes || $2::jsonb,
			session_state = COALESCE($2::jsonb->>'sessionState', session_state)
		WHERE session_id = $1
			AND (cardinality($3::text[]) = 0 OR session_state = ANY($3::text[]))
			AND ($4::bigint = 0 OR created_at > $4::bigint)
		RETURNING attributes
	`
	var postImage []byte
	err = tx.QueryRowContext(ctx, query,
		key,
		string(assignments),
		pq.Array(models.StateStrings(update.Condition.EligibleStates)),
		update.Condition.CreatedAfter,
	).Scan(&postImage)
	if errors.Is(err, sql.ErrNoRows) {
		item, decodeErr := decode(preImage)
		if decodeErr != nil {
			return nil, decodeErr
		}
		return nil, &store.ConditionalCheckFailedError{Item: item}
	}
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session update: %w", err)
	}
	return decode(postImage)
}

func (s *PostgresSessionStore) Get(ctx context.Context, key string) (models.Record, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT attributes FROM sessions WHERE session_id = $1 AND time_to_live > $2`,
		key, s.clock().Unix(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return decode(raw)
}

func (s *PostgresSessionStore) Query(ctx context.Context, q store.Query) ([]models.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	notExpiredAt := q.NotExpiredAt
	if now := s.clock().Unix(); now > notExpiredAt {
		notExpiredAt = now
	}

	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT attributes FROM sessions
		WHERE subject_identifier = $1
			AND created_at > $2
			AND ($3 = '' OR session_state = $3)
			AND time_to_live > $4
		ORDER BY created_at %s`, order)
	args := []any{q.PartitionValue, q.CreatedAfter, string(q.State), notExpiredAt}
	if q.Limit > 0 {
		query += " LIMIT $5"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var items []models.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		item, err := decode(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return items, nil
}

// DeleteExpired removes rows whose timeToLive has passed and reports how many
// went.
func (s *PostgresSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE time_to_live <= $1`, s.clock().Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// Ping checks the connection for health endpoints.
func (s *PostgresSessionStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
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
