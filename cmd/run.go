package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
	"github.com/nextlevelbuilder/tgrelay/internal/channels"
	"github.com/nextlevelbuilder/tgrelay/internal/channels/telegram"
	"github.com/nextlevelbuilder/tgrelay/internal/config"
	"github.com/nextlevelbuilder/tgrelay/internal/delivery"
	"github.com/nextlevelbuilder/tgrelay/internal/gateway"
	"github.com/nextlevelbuilder/tgrelay/internal/media"
	"github.com/nextlevelbuilder/tgrelay/internal/relay"
	"github.com/nextlevelbuilder/tgrelay/internal/routing"
	"github.com/nextlevelbuilder/tgrelay/internal/stats"
	"github.com/nextlevelbuilder/tgrelay/internal/store"
	"github.com/nextlevelbuilder/tgrelay/internal/store/file"
	"github.com/nextlevelbuilder/tgrelay/internal/topic"
	"github.com/nextlevelbuilder/tgrelay/internal/tracing"
)

func runRelay(ctx context.Context) error {
	setupLogging()

	cfgPath := config.ResolvePath(cfgFile)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if cfg.Telegram.Token == "" {
		return errors.New("RELAY_TELEGRAM_TOKEN environment variable is not set")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	routes, err := openRouteStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open route store: %w", err)
	}
	defer routes.Close()

	src, err := telegram.New(cfg.Telegram, cfg.Media.MaxBytes)
	if err != nil {
		return err
	}

	fetcher, err := media.NewFetcher(src, media.Config{
		Dir:          cfg.Media.Dir,
		BaseURL:      cfg.Media.BaseURL,
		MaxBytes:     cfg.Media.MaxBytes,
		AvatarMaxAge: cfg.Media.AvatarMaxAge.D(),
	})
	if err != nil {
		return err
	}

	counters := &stats.Counters{}
	queue := bus.NewQueue(cfg.Relay.QueueSize, counters)
	cache := routing.NewCache(routes, cfg.Relay.RouteCacheTTL.D())

	client := delivery.NewClient(delivery.Options{
		Timeout:       cfg.Delivery.Timeout.D(),
		BackoffUnit:   cfg.Delivery.BackoffUnit.D(),
		MaxConcurrent: cfg.Delivery.MaxConcurrent,
		EndpointRate:  rate.Limit(cfg.Delivery.EndpointRate),
		EndpointBurst: cfg.Delivery.EndpointBurst,
	})

	pipeline := relay.NewPipeline(relay.PipelineConfig{
		Resolver:    topic.NewResolver(src, cfg.Relay.LookbackTimeout.D(), cfg.Relay.MaxTraceHops),
		Router:      cache,
		Media:       fetcher,
		Senders:     src,
		Delivery:    client,
		Counters:    counters,
		MaxAttempts: cfg.Delivery.MaxAttempts,
	})
	pool := relay.NewPool(queue, pipeline, cfg.Relay.Workers, cfg.Relay.ProcessTimeout.D())

	reporter := stats.NewReporter(counters, queue.Len, cfg.Stats.Interval.D())
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := reporter.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	logBanner(ctx, src, routes)

	supervisor := &channels.Supervisor{
		Source:     src,
		Backoff:    cfg.Telegram.ReconnectBackoff.D(),
		MaxBackoff: cfg.Telegram.MaxReconnectBackoff.D(),
	}
	ingest := func(msg *bus.Message) {
		if !queue.Offer(msg) {
			slog.Warn("ingestion queue full, message dropped", "chat_id", msg.ChatID, "message_id", msg.ID)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		supervisor.Run(gctx, ingest)
		return nil
	})
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		reporter.Run(gctx)
		return nil
	})
	if fs, ok := routes.(*file.RouteStore); ok {
		g.Go(func() error {
			return fs.Watch(gctx, func() {
				cache.Purge()
				slog.Info("routes file changed, cache purged", "path", cfg.Database.RoutesFile)
			})
		})
	}
	if cfg.Server.Listen != "" {
		server := gateway.NewServer(cfg.Server, cfg.Media.Dir, reporter, registry)
		g.Go(func() error { return server.Start(gctx) })
	}

	err = g.Wait()
	fetcher.Wait()

	s := reporter.Snapshot()
	slog.Info("relay stopped",
		"received", s.Received, "processed", s.Processed, "failed", s.Failed, "skipped", s.Skipped)
	return err
}

// logBanner reports the bot identity and the number of monitored groups.
func logBanner(ctx context.Context, src channels.Identity, routes store.RouteStore) {
	self, err := src.Self(ctx)
	if err != nil {
		slog.Warn("could not read bot identity", "error", err)
		self = "unknown"
	}
	groups, err := routes.ListGroups(ctx)
	if err != nil {
		slog.Warn("could not list monitored groups", "error", err)
	}
	slog.Info("tgrelay started", "version", Version, "bot", self, "groups", len(groups))
}
