package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"registrar/internal/chain"
	"registrar/internal/challenge"
	"registrar/internal/channel"
	"registrar/internal/judgement/handler"
	"registrar/internal/judgement/reconciler"
	"registrar/internal/judgement/scanner"
	"registrar/internal/judgement/service"
	"registrar/internal/platform/config"
	"registrar/internal/platform/httpserver"
	"registrar/internal/platform/logger"
	"registrar/internal/platform/metrics"
	"registrar/internal/scheduler"
)

// main wires dependencies, starts the background loops and the HTTP server,
// and stops everything on SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(string(cfg.Environment), cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("registrar stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("registrar stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	m := metrics.New()

	infra, err := openInfra(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer infra.Close()

	registrarIndex := uint32(cfg.Registrar.Index)
	judgement, err := chain.ParseJudgement(cfg.Registrar.DefaultJudgement)
	if err != nil {
		return fmt.Errorf("default judgement: %w", err)
	}

	client := chain.NewClient(cfg.Chain.NodeURL,
		chain.NewHTTPSigner(cfg.Chain.SignerURL, cfg.Chain.SignerKey),
		cfg.Chain.RegistrarAcc,
		chainOptions(cfg, log)...,
	)

	tokens := challenge.NewTokenService(cfg.Token.Secret, cfg.Token.TTL)
	links := channel.NewLinker(cfg.Server.PublicBaseURL, tokens)
	drivers := buildDrivers(cfg, links, infra.rooms, log)

	svc, err := service.New(infra.requests, registrarIndex, drivers,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditPublisher(infra.events),
		service.WithTxRunner(infra.tx),
		service.WithDispatchTimeout(cfg.Registrar.DispatchTimeout),
	)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer svc.Wait()

	scan, err := scanner.New(client, svc, infra.requests, infra.guard, scanner.Config{
		ChainName:        cfg.Chain.Name,
		RegistrarIndex:   registrarIndex,
		PollInterval:     cfg.Registrar.PollInterval,
		MaxBlocksPerTick: cfg.Registrar.MaxBlocksPerTick,
	}, scanner.WithLogger(log), scanner.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("create scanner: %w", err)
	}

	rec, err := reconciler.New(infra.requests, client, infra.guard, reconciler.Config{
		RegistrarIndex: registrarIndex,
		Interval:       cfg.Registrar.JudgementInterval,
		Judgement:      judgement,
		Parallelism:    cfg.Registrar.SubmitParallelism,
	},
		reconciler.WithLogger(log),
		reconciler.WithMetrics(m),
		reconciler.WithAuditPublisher(infra.events),
		reconciler.WithTxRunner(infra.tx),
	)
	if err != nil {
		return fmt.Errorf("create reconciler: %w", err)
	}

	sched := scheduler.New(log)
	sched.Add("scanner", scan)
	sched.Add("reconciler", rec)
	for _, d := range drivers {
		ch := d.Channel()
		sched.Every("redispatch-"+string(ch), cfg.Registrar.RedispatchInterval,
			scheduler.RedispatchTick(svc, infra.guard, ch, cfg.Registrar.RedispatchInterval, cfg.Registrar.RedispatchMinAge, log))
	}
	if infra.relay != nil {
		sched.Add("outbox-relay", infra.relay)
	}

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	handlerOpts := []handler.Option{
		handler.WithLogger(log),
		handler.WithChainName(cfg.Chain.Name),
	}
	for name, check := range infra.health {
		handlerOpts = append(handlerOpts, handler.WithHealthCheck(name, check))
	}
	if cfg.Admin.PasswordHash != "" {
		handlerOpts = append(handlerOpts, handler.WithAdmin(rec, cfg.Admin.Username, cfg.Admin.PasswordHash))
	}
	handler.New(svc, tokens, handlerOpts...).Register(router)

	sched.Add("http", scheduler.JobFunc(func(ctx context.Context) error {
		return httpserver.Serve(ctx, httpserver.New(cfg.Server.Addr, router), log)
	}))

	log.InfoContext(ctx, "registrar starting",
		"chain", cfg.Chain.Name,
		"registrar_index", registrarIndex,
		"addr", cfg.Server.Addr,
		"channels", len(drivers),
	)
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
