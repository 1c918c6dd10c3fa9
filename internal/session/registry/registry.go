// Package registry is the only entry point for reading and advancing
// verification sessions. It turns operations into conditional store writes
// and classifies every outcome into an ErrorKind; no store error reaches the
// caller unclassified.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"idcheck/internal/session/metrics"
	"idcheck/internal/session/models"
	"idcheck/internal/session/operations"
	"idcheck/internal/session/store"
	"idcheck/pkg/platform/sentinel"
	"idcheck/pkg/requestcontext"
)

const tracerName = "idcheck/internal/session/registry"

// DefaultSessionTTL is how long the store keeps a session after creation.
const DefaultSessionTTL = 12 * time.Hour

// Outcome label recorded for successful calls.
const outcomeOK = "ok"

// Store is the storage protocol the registry needs. The memory, redis and
// postgres backends all satisfy it.
type Store interface {
	// Create stores a new item. sentinel.ErrConflict when the key is taken.
	Create(ctx context.Context, item models.Record) error
	// ConditionalUpdate returns the post-image on success and
	// *store.ConditionalCheckFailedError when the item is absent or the
	// condition does not hold.
	ConditionalUpdate(ctx context.Context, key string, update store.Update) (models.Record, error)
	// Get returns sentinel.ErrNotFound for absent or expired items.
	Get(ctx context.Context, key string) (models.Record, error)
	Query(ctx context.Context, q store.Query) ([]models.Record, error)
}

// SessionUpdated is the result of a successful transition.
type SessionUpdated struct {
	Attributes models.Attributes
}

// Registry reads and advances sessions. It holds no locks; concurrent
// transitions on one session are serialized by the store's conditional write.
type Registry struct {
	store      Store
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	sessionTTL time.Duration
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithSessionTTL sets the store lifetime of new sessions. Values that do not
// outlast the freshness window are ignored.
func WithSessionTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > models.FreshnessWindow {
			r.sessionTTL = ttl
		}
	}
}

// New constructs a Registry over st.
func New(st Store, opts ...Option) (*Registry, error) {
	if st == nil {
		return nil, fmt.Errorf("session store is required")
	}
	r := &Registry{
		store:      st,
		logger:     slog.New(slog.DiscardHandler),
		tracer:     otel.Tracer(tracerName),
		sessionTTL: DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// UpdateSession applies op to the session atomically. The condition is
// existence, a current state in op's eligible starting states and, when op
// requires it, a createdAt inside the freshness window.
func (r *Registry) UpdateSession(ctx context.Context, sessionID string, op operations.UpdateOperation) (SessionUpdated, error) {
	ctx, span := r.tracer.Start(ctx, "session.update", trace.WithAttributes(
		attribute.String("session.operation", op.Name()),
		attribute.String("session.target_state", string(op.TargetState())),
	))
	defer span.End()

	update := store.Update{
		Set:       op.Mutations(),
		Condition: store.Condition{EligibleStates: op.EligibleStartingStates()},
	}
	if op.RequiresFreshness() {
		update.Condition.CreatedAfter = models.FreshnessCutoff(requestcontext.Now(ctx))
	}

	start := time.Now()
	item, err := r.store.ConditionalUpdate(ctx, sessionID, update)
	r.metrics.ObserveStoreLatency("conditional_update", time.Since(start))
	if err != nil {
		return SessionUpdated{}, r.updateFailed(ctx, span, sessionID, op, update, err)
	}

	attrs, err := op.ReinterpretRecord(item, false)
	if err != nil {
		// The write happened but the post-image does not have the shape the
		// transition produces.
		r.logger.ErrorContext(ctx, "session update wrote unexpected attributes",
			r.updateLogAttrs(ctx, sessionID, op, update,
				"post_image", item,
				"error", err,
			)...,
		)
		return SessionUpdated{}, r.finishUpdate(span, op, &UpdateError{
			Kind:      KindInternalServerError,
			Operation: op.Name(),
			Err:       err,
		})
	}

	r.logger.InfoContext(ctx, "session updated",
		"session_id", sessionID,
		"operation", op.Name(),
		"session_state", op.TargetState(),
		"request_id", requestcontext.RequestID(ctx),
	)
	r.metrics.IncrementUpdate(op.Name(), outcomeOK)
	return SessionUpdated{Attributes: attrs}, nil
}

// updateFailed classifies a failed conditional write. The pre-image tells
// "never existed" apart from "exists but not eligible" without a second read.
func (r *Registry) updateFailed(ctx context.Context, span trace.Span, sessionID string, op operations.UpdateOperation, update store.Update, err error) error {
	var failed *store.ConditionalCheckFailedError
	if !errors.As(err, &failed) {
		r.logger.ErrorContext(ctx, "session update failed",
			r.updateLogAttrs(ctx, sessionID, op, update, "error", err)...,
		)
		return r.finishUpdate(span, op, &UpdateError{
			Kind:      KindInternalServerError,
			Operation: op.Name(),
			Err:       err,
		})
	}

	if failed.Item == nil {
		r.logger.WarnContext(ctx, "session not found for update",
			r.updateLogAttrs(ctx, sessionID, op, update)...,
		)
		return r.finishUpdate(span, op, &UpdateError{
			Kind:      KindSessionNotFound,
			Operation: op.Name(),
			Err:       err,
		})
	}

	attrs, parseErr := op.ReinterpretRecord(failed.Item, true)
	if parseErr != nil {
		r.logger.ErrorContext(ctx, "session update rejected and stored session is malformed",
			r.updateLogAttrs(ctx, sessionID, op, update,
				"pre_image", failed.Item,
				"error", parseErr,
			)...,
		)
		return r.finishUpdate(span, op, &UpdateError{
			Kind:      KindInternalServerError,
			Operation: op.Name(),
			Err:       parseErr,
		})
	}

	r.logger.WarnContext(ctx, "session update condition not met",
		r.updateLogAttrs(ctx, sessionID, op, update, "pre_image", failed.Item)...,
	)
	return r.finishUpdate(span, op, &UpdateError{
		Kind:       KindConditionalCheckFailure,
		Operation:  op.Name(),
		Attributes: attrs,
		Err:        err,
	})
}

func (r *Registry) finishUpdate(span trace.Span, op operations.UpdateOperation, err *UpdateError) error {
	r.metrics.IncrementUpdate(op.Name(), string(err.Kind))
	span.SetAttributes(attribute.String("session.error_kind", string(err.Kind)))
	span.SetStatus(codes.Error, string(err.Kind))
	if err.Kind == KindInternalServerError {
		span.RecordError(err)
	}
	return err
}

func (r *Registry) updateLogAttrs(ctx context.Context, sessionID string, op operations.UpdateOperation, update store.Update, extra ...any) []any {
	attrs := []any{
		"session_id", sessionID,
		"operation", op.Name(),
		"target_state", op.TargetState(),
		"eligible_states", models.StateStrings(update.Condition.EligibleStates),
		"created_after", update.Condition.CreatedAfter,
		"request_id", requestcontext.RequestID(ctx),
	}
	return append(attrs, extra...)
}

// GetSession reads the session op describes. For point reads key is a session
// id; for index reads it is the partition value, e.g. a subject identifier.
//
// Every rejection of a record that was found (malformed, wrong state, stale)
// is reported as KindSessionNotFound. The specific reason is logged and kept
// on the RetrievalError.
func (r *Registry) GetSession(ctx context.Context, key string, op operations.GetOperation) (models.Attributes, error) {
	ctx, span := r.tracer.Start(ctx, "session.get", trace.WithAttributes(
		attribute.String("session.operation", op.Name()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	item, err := r.lookup(ctx, op.Lookup(key, now))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			r.logger.InfoContext(ctx, "session not found",
				"session_key", key,
				"operation", op.Name(),
				"request_id", requestcontext.RequestID(ctx),
			)
			return nil, r.finishRead(span, op, &RetrievalError{
				Kind:      KindSessionNotFound,
				Operation: op.Name(),
				Err:       err,
			})
		}
		r.logger.ErrorContext(ctx, "session read failed",
			"session_key", key,
			"operation", op.Name(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, r.finishRead(span, op, &RetrievalError{
			Kind:      KindInternalServerError,
			Operation: op.Name(),
			Err:       err,
		})
	}

	attrs, err := op.Parse(item)
	if err != nil {
		r.logger.WarnContext(ctx, "stored session does not match the expected shape",
			"session_key", key,
			"operation", op.Name(),
			"record", item,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, r.finishRead(span, op, &RetrievalError{
			Kind:      KindSessionNotFound,
			Operation: op.Name(),
			Record:    item,
			Err:       err,
		})
	}

	if invalid := op.Validate(attrs, now); len(invalid) > 0 {
		invalidErr := &operations.InvalidAttributesError{Attributes: invalid}
		r.logger.WarnContext(ctx, "stored session is not valid for this read",
			"session_key", key,
			"operation", op.Name(),
			"invalid_attributes", invalidErr.Error(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, r.finishRead(span, op, &RetrievalError{
			Kind:              KindSessionNotFound,
			Operation:         op.Name(),
			Record:            item,
			Attributes:        attrs,
			InvalidAttributes: invalid,
			Err:               invalidErr,
		})
	}

	r.metrics.IncrementRead(op.Name(), outcomeOK)
	return attrs, nil
}

// lookup performs the point read or index query. An empty query result is
// reported as sentinel.ErrNotFound.
func (r *Registry) lookup(ctx context.Context, l operations.Lookup) (models.Record, error) {
	if l.Query == nil {
		start := time.Now()
		item, err := r.store.Get(ctx, l.Key)
		r.metrics.ObserveStoreLatency("get", time.Since(start))
		return item, err
	}

	start := time.Now()
	items, err := r.store.Query(ctx, *l.Query)
	r.metrics.ObserveStoreLatency("query", time.Since(start))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return items[0], nil
}

func (r *Registry) finishRead(span trace.Span, op operations.GetOperation, err *RetrievalError) error {
	r.metrics.IncrementRead(op.Name(), string(err.Kind))
	span.SetAttributes(attribute.String("session.error_kind", string(err.Kind)))
	span.SetStatus(codes.Error, string(err.Kind))
	if err.Kind == KindInternalServerError {
		span.RecordError(err)
	}
	return err
}
