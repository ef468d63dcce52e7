package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"registrar/internal/chain"
	"registrar/internal/channel"
	"registrar/internal/dedup"
	"registrar/internal/judgement/handler"
	"registrar/internal/judgement/models"
	"registrar/internal/judgement/service"
	"registrar/internal/judgement/store"
	"registrar/internal/platform/config"
	"registrar/internal/platform/kafka"
	"registrar/internal/platform/metrics"
	"registrar/internal/platform/postgres"
	"registrar/internal/platform/redis"
	id "registrar/pkg/domain"
	"registrar/pkg/platform/audit/publisher"
	auditmemory "registrar/pkg/platform/audit/store/memory"
	auditpostgres "registrar/pkg/platform/audit/store/postgres"
	"registrar/pkg/platform/audit/worker"
	"registrar/pkg/platform/circuit"
	txcontext "registrar/pkg/platform/tx"
)

// requestStore is what the service, scanner and reconciler need from one
// backing store.
type requestStore interface {
	InsertIfNoActive(ctx context.Context, r *models.JudgementRequest) (bool, error)
	Query(ctx context.Context, p models.Predicate) ([]*models.JudgementRequest, error)
	FindByID(ctx context.Context, requestID id.RequestID) (*models.JudgementRequest, error)
	UpdateIf(ctx context.Context, requestID id.RequestID, cond models.Predicate, upd models.Update) (bool, error)
	Cursor(ctx context.Context, chainName string) (uint64, bool, error)
	SetCursor(ctx context.Context, chainName string, height uint64) error
}

type txRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// infra holds the process-wide backing services. Postgres, Redis and Kafka
// are optional; each falls back to an in-process implementation.
type infra struct {
	requests requestStore
	rooms    channel.RoomStore
	tx       txRunner
	guard    dedup.Guard
	events   *publisher.Publisher
	relay    *worker.Worker
	health   map[string]handler.HealthCheck

	closers []func()
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) (*infra, error) {
	in := &infra{health: make(map[string]handler.HealthCheck)}
	if err := in.openGuard(ctx, cfg, log); err != nil {
		in.Close()
		return nil, err
	}
	if err := in.openStores(ctx, cfg, log, m); err != nil {
		in.Close()
		return nil, err
	}
	return in, nil
}

func (in *infra) openGuard(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if client == nil {
		log.InfoContext(ctx, "using in-memory dedup guard", "capacity", cfg.Registrar.GuardCapacity)
		in.guard = dedup.NewInMemoryGuard(cfg.Registrar.GuardCapacity)
		return nil
	}
	in.guard = dedup.NewRedisGuard(client.Client)
	in.health["redis"] = client.Health
	in.closers = append(in.closers, func() { _ = client.Close() })
	return nil
}

func (in *infra) openStores(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) error {
	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		in.closers = append(in.closers, p.Close)
		if err := p.EnsureTopic(ctx, cfg.Kafka.Partitions, -1); err != nil {
			return err
		}
		in.health["kafka"] = p.Ping
		producer = p
	}

	if cfg.Postgres.DSN == "" {
		log.WarnContext(ctx, "DATABASE_URL not set, requests are kept in memory")
		in.requests = store.NewInMemory()
		in.rooms = channel.NewInMemoryRoomStore()
		in.tx = txcontext.NoopRunner{}
		if producer != nil {
			in.events = publisher.NewPublisher(producer, publisher.WithAsyncBuffer(1024), publisher.WithLogger(log))
		} else {
			in.events = publisher.NewPublisher(auditmemory.NewInMemoryStore(), publisher.WithLogger(log))
		}
		in.closers = append(in.closers, in.events.Close)
		return nil
	}

	db, err := postgres.Open(ctx, postgres.Config{
		DSN:          cfg.Postgres.DSN,
		MaxOpenConns: cfg.Postgres.MaxOpenConns,
		MaxIdleConns: cfg.Postgres.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	in.closers = append(in.closers, func() { _ = db.Close() })
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	in.health["postgres"] = db.PingContext

	in.requests = store.NewPostgres(db)
	in.rooms = channel.NewPostgresRoomStore(db)
	in.tx = txcontext.NewRunner(db)

	// Events join the store transaction through the outbox, so emission is
	// synchronous.
	outbox := auditpostgres.New(db)
	in.events = publisher.NewPublisher(outbox, publisher.WithLogger(log))
	if producer != nil {
		in.relay = worker.NewWorker(outbox, producer, cfg.Kafka.RelayInterval,
			worker.WithLogger(log),
			worker.WithRelayHook(m.AddEventsPublished),
		)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (in *infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
}

func chainOptions(cfg config.Config, log *slog.Logger) []chain.Option {
	opts := []chain.Option{chain.WithLogger(log)}
	if cfg.Chain.RequestTimeout > 0 {
		opts = append(opts, chain.WithHTTPClient(&http.Client{Timeout: cfg.Chain.RequestTimeout}))
	}
	if cfg.Chain.ProxyFor != "" {
		opts = append(opts, chain.WithProxy(cfg.Chain.ProxyFor))
	}
	if cfg.Chain.InclusionTimeout > 0 {
		opts = append(opts, chain.WithInclusion(cfg.Chain.InclusionTimeout, 0))
	}
	return opts
}

// buildDrivers returns a breaker-guarded driver per configured channel.
// Email always has a driver; without SMTP it only logs the message.
func buildDrivers(cfg config.Config, links *channel.Linker, rooms channel.RoomStore, log *slog.Logger) []service.Driver {
	var mailer channel.Mailer = &channel.LogMailer{Logger: log}
	if cfg.Email.SMTPAddr != "" {
		mailer = channel.NewSMTPMailer(cfg.Email.SMTPAddr, cfg.Email.From, cfg.Email.Username, cfg.Email.Password)
	}
	drivers := []channel.Driver{channel.NewEmailDriver(mailer, links)}
	if cfg.Social.BearerToken != "" {
		drivers = append(drivers, channel.NewSocialDriver(cfg.Social.APIBaseURL, cfg.Social.BearerToken, links))
	} else {
		log.Info("social channel disabled, SOCIAL_BEARER_TOKEN not set")
	}
	if cfg.Chat.HomeserverURL != "" && cfg.Chat.AccessToken != "" {
		drivers = append(drivers, channel.NewChatDriver(cfg.Chat.HomeserverURL, cfg.Chat.AccessToken, rooms, links))
	} else {
		log.Info("chat channel disabled, CHAT_HOMESERVER_URL or CHAT_ACCESS_TOKEN not set")
	}

	out := make([]service.Driver, 0, len(drivers))
	for _, d := range drivers {
		breaker := circuit.New(string(d.Channel()),
			circuit.WithFailureThreshold(5),
			circuit.WithCooldown(time.Minute),
		)
		out = append(out, channel.WithBreaker(d, breaker, log))
	}
	return out
}
