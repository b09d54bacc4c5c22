package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/config"
	"github.com/shohag/mediarelay/internal/credential"
	"github.com/shohag/mediarelay/internal/delivery"
	"github.com/shohag/mediarelay/internal/egress"
	"github.com/shohag/mediarelay/internal/escalation"
	"github.com/shohag/mediarelay/internal/extractor"
	"github.com/shohag/mediarelay/internal/messenger"
	"github.com/shohag/mediarelay/internal/metrics"
	"github.com/shohag/mediarelay/internal/platform"
	"github.com/shohag/mediarelay/internal/queue"
	"github.com/shohag/mediarelay/internal/storage"
)

// app holds the components shared by serve and the operator commands.
type app struct {
	collector *metrics.Collector
	egress    *egress.Pool
	creds     *credential.Pool
	msgr      messenger.Messenger
	registry  *platform.Registry
	queue     *queue.Queue
	notifier  *escalation.Notifier
	scheduler *delivery.Scheduler
}

func buildApp(ctx context.Context, cfg *config.Config, store storage.Storage, log zerolog.Logger) (*app, error) {
	a := &app{
		collector: metrics.NewCollector(cfg.Metrics.RecentCapacity),
		egress: egress.New(cfg.Egress.Endpoints,
			egress.WithThreshold(cfg.Egress.FailureThreshold),
			egress.WithCooldown(cfg.Egress.Cooldown),
			egress.WithLogger(log),
		),
		creds: credential.NewPool(store, cfg.Credentials.CookiesDir, log),
	}
	if err := a.creds.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if a.egress.Len() == 0 {
		log.Warn().Msg("no egress endpoints configured, every download will fail")
	}

	executor := delivery.NewExecutor(
		extractor.NewYTDLP(cfg.Extractor.Binary, log),
		a.egress, a.creds, a.collector, log,
		delivery.WithSocketTimeout(cfg.Extractor.SocketTimeoutMin, cfg.Extractor.SocketTimeoutMax),
		delivery.WithUserAgents(cfg.Extractor.UserAgents),
	)

	if cfg.Gateway.URL != "" {
		a.msgr = messenger.NewGateway(cfg.Gateway.URL, cfg.Gateway.Secret, cfg.Gateway.Timeout, log,
			messenger.WithUploadTimeout(cfg.Gateway.UploadTimeout),
		)
	} else {
		log.Warn().Msg("gateway.url is empty, outbound messages are only logged")
		a.msgr = messenger.NewLog(log)
	}

	media, err := platform.NewMediaHandler(cfg.Extractor, cfg.Delivery.DedupeWindow, executor, a.msgr, log)
	if err != nil {
		return nil, err
	}
	a.registry = platform.NewRegistry(media)

	a.queue = queue.New(store, a.registry, a.collector, log)

	a.notifier, err = escalation.NewNotifier(cfg.Escalation, a.msgr, store, a.queue, a.collector, log)
	if err != nil {
		return nil, err
	}

	a.scheduler = delivery.NewScheduler(cfg.Delivery, a.registry, a.msgr, a.queue, a.notifier, a.collector, log)
	return a, nil
}
