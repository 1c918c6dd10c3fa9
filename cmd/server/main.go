package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	httpapi "idcheck/internal/http"
	"idcheck/internal/platform/config"
	"idcheck/internal/platform/httpserver"
	"idcheck/internal/platform/logger"
	platformpostgres "idcheck/internal/platform/postgres"
	platformredis "idcheck/internal/platform/redis"
	"idcheck/internal/session/metrics"
	"idcheck/internal/session/registry"
	"idcheck/internal/session/service"
	sessionmemory "idcheck/internal/session/store/memory"
	sessionpostgres "idcheck/internal/session/store/postgres"
	sessionredis "idcheck/internal/session/store/redis"
	"idcheck/internal/session/worker"
	audit "idcheck/pkg/platform/audit"
	auditkafka "idcheck/pkg/platform/audit/kafka"
	auditmemory "idcheck/pkg/platform/audit/store/memory"
	auditpostgres "idcheck/pkg/platform/audit/store/postgres"
)

const (
	auditBufferSize = 256
	sweepInterval   = 15 * time.Minute
)

// main wires high-level dependencies and keeps the process lifecycle small.
// Session rules live in internal/session.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("idcheck exited", "error", err)
		os.Exit(1)
	}
	log.Info("idcheck stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close(log)

	reg, err := registry.New(b.store,
		registry.WithLogger(log),
		registry.WithMetrics(metrics.New()),
		registry.WithSessionTTL(cfg.Session.TTL),
	)
	if err != nil {
		return err
	}

	auditStore := b.audit
	var kafkaClient *kgo.Client
	if cfg.KafkaEnabled() {
		kafkaClient, err = auditkafka.NewClient(cfg.Audit.KafkaBrokers,
			kgo.ConsumerGroup(cfg.Worker.ConsumerGroup),
			kgo.ConsumeTopics(cfg.Worker.CommandTopic),
			kgo.DisableAutoCommit(),
		)
		if err != nil {
			return err
		}
		defer kafkaClient.Close()
		auditStore = auditkafka.NewSink(kafkaClient, cfg.Audit.KafkaTopic)
	}
	publisher := audit.NewPublisher(auditStore,
		audit.WithLogger(log),
		audit.WithAsyncBuffer(auditBufferSize),
	)
	defer publisher.Close()

	svc, err := service.New(reg,
		service.WithLogger(log),
		service.WithAuditPublisher(publisher),
	)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.NewHandler(b.store, log), promhttp.Handler())
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting idcheck",
			"addr", cfg.Server.Addr,
			"session_backend", cfg.Session.Backend,
			"kafka", cfg.KafkaEnabled(),
		)
		return httpserver.Run(gctx, srv)
	})
	if kafkaClient != nil {
		w := worker.New(kafkaClient, svc,
			worker.WithLogger(log),
			worker.WithRetryDelay(cfg.Worker.RetryDelay),
		)
		g.Go(func() error { return w.Run(gctx) })
	}
	if b.sweep != nil {
		g.Go(func() error {
			b.sweep(gctx)
			return nil
		})
	}
	return g.Wait()
}

type sessionStore interface {
	registry.Store
	httpapi.Pinger
}

// backend is the selected session store plus the local audit sink that goes
// with it.
type backend struct {
	store   sessionStore
	audit   audit.Store
	sweep   func(ctx context.Context)
	closers []func() error
}

func (b *backend) close(log *slog.Logger) {
	for _, c := range b.closers {
		if err := c(); err != nil {
			log.Warn("failed to close backend", "error", err)
		}
	}
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (*backend, error) {
	switch cfg.Session.Backend {
	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:   sessionredis.NewRedis(client),
			audit:   auditmemory.NewInMemoryStore(),
			closers: []func() error{client.Close},
		}, nil

	case config.BackendPostgres:
		db, err := platformpostgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := sessionpostgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		auditStore := auditpostgres.New(db)
		if err := auditStore.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		st := sessionpostgres.NewPostgres(db)
		return &backend{
			store:   st,
			audit:   auditStore,
			sweep:   func(ctx context.Context) { sweepExpired(ctx, st, log) },
			closers: []func() error{db.Close},
		}, nil

	default:
		return &backend{
			store: sessionmemory.New(),
			audit: auditmemory.NewInMemoryStore(),
		}, nil
	}
}

// sweepExpired deletes rows past their timeToLive. Reads already hide them;
// this only reclaims space.
func sweepExpired(ctx context.Context, st *sessionpostgres.PostgresSessionStore, log *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.DeleteExpired(ctx)
			if err != nil {
				log.Warn("failed to sweep expired sessions", "error", err)
				continue
			}
			if n > 0 {
				log.Info("swept expired sessions", "count", n)
			}
		}
	}
}
