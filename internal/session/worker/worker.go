// Package worker consumes session commands from Kafka and applies them
// through the session service.
//
// Delivery is at-least-once. A command is committed once it has taken effect
// or failed for a reason redelivery cannot fix (missing session, wrong state,
// bad payload). Store failures are retried in place, which holds back the
// rest of the partition until the store recovers.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"idcheck/internal/session/models"
	"idcheck/internal/session/registry"
	"idcheck/pkg/requestcontext"
)

// Client is the subset of *kgo.Client the worker uses.
type Client interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// SessionService applies lifecycle steps.
type SessionService interface {
	StartSession(ctx context.Context, req registry.SessionRequest) (models.BaseAttributes, error)
	IssueBiometricToken(ctx context.Context, sessionID, documentType, opaqueID string) (registry.SessionUpdated, error)
	FinishBiometricSession(ctx context.Context, sessionID, biometricSessionID string) (registry.SessionUpdated, error)
	AbortSession(ctx context.Context, sessionID, reason string) (registry.SessionUpdated, error)
	SendResult(ctx context.Context, sessionID string) (registry.SessionUpdated, error)
}

type Worker struct {
	client     Client
	service    SessionService
	logger     *slog.Logger
	retryDelay time.Duration
	now        func() time.Time
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithRetryDelay sets the pause between attempts at a command that failed
// with a store error.
func WithRetryDelay(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.retryDelay = d
		}
	}
}

func New(client Client, service SessionService, opts ...Option) *Worker {
	w := &Worker{
		client:     client,
		service:    service,
		logger:     slog.New(slog.DiscardHandler),
		retryDelay: time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled or the client is closed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		fetches := w.client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			w.logger.ErrorContext(ctx, "session command fetch failed",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var done []*kgo.Record
		fetches.EachRecord(func(record *kgo.Record) {
			if ctx.Err() != nil {
				return
			}
			if w.process(ctx, record) {
				done = append(done, record)
			}
		})
		if len(done) == 0 {
			continue
		}
		if err := w.client.CommitRecords(ctx, done...); err != nil {
			w.logger.ErrorContext(ctx, "failed to commit session commands",
				"count", len(done),
				"error", err,
			)
		}
	}
}

// process retries a record until it is settled. It reports false only when
// ctx ends first.
func (w *Worker) process(ctx context.Context, record *kgo.Record) bool {
	for attempt := 1; ; attempt++ {
		err := w.Handle(ctx, record)
		if err == nil {
			return true
		}
		w.logger.WarnContext(ctx, "session command failed, retrying",
			"topic", record.Topic,
			"partition", record.Partition,
			"offset", record.Offset,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.retryDelay):
		}
	}
}

// Handle applies one record. It returns an error only when the command should
// be retried.
func (w *Worker) Handle(ctx context.Context, record *kgo.Record) error {
	ctx = requestcontext.WithTime(ctx, w.now())
	ctx = requestcontext.WithRequestID(ctx, recordID(record))

	cmd, err := DecodeCommand(record.Value)
	if err != nil {
		w.logger.ErrorContext(ctx, "dropping malformed session command",
			"offset", record.Offset,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil
	}

	err = w.apply(ctx, cmd)
	if err == nil {
		return nil
	}
	switch registry.KindOf(err) {
	case registry.KindInternalServerError, "":
		return err
	default:
		w.logger.InfoContext(ctx, "session command rejected",
			"type", string(cmd.Type),
			"session_id", cmd.SessionID,
			"kind", string(registry.KindOf(err)),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil
	}
}

func (w *Worker) apply(ctx context.Context, cmd Command) error {
	var err error
	switch cmd.Type {
	case CommandStartSession:
		_, err = w.service.StartSession(ctx, registry.SessionRequest{
			SubjectIdentifier:    cmd.SubjectIdentifier,
			ClientID:             cmd.ClientID,
			GovukSigninJourneyID: cmd.GovukSigninJourneyID,
			Issuer:               cmd.Issuer,
			ClientState:          cmd.ClientState,
			RedirectURI:          cmd.RedirectURI,
		})
	case CommandBiometricTokenIssued:
		_, err = w.service.IssueBiometricToken(ctx, cmd.SessionID, cmd.DocumentType, cmd.OpaqueID)
	case CommandBiometricSessionFinished:
		_, err = w.service.FinishBiometricSession(ctx, cmd.SessionID, cmd.BiometricSessionID)
	case CommandAbortSession:
		_, err = w.service.AbortSession(ctx, cmd.SessionID, cmd.Reason)
	case CommandResultSent:
		_, err = w.service.SendResult(ctx, cmd.SessionID)
	}
	return err
}

func recordID(record *kgo.Record) string {
	for _, h := range record.Headers {
		if h.Key == "request_id" {
			return string(h.Value)
		}
	}
	return fmt.Sprintf("%s/%d/%d", record.Topic, record.Partition, record.Offset)
}
