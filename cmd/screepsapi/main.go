package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"screepsapi/internal/api"
	"screepsapi/internal/config"
	"screepsapi/internal/discovery"
	"screepsapi/internal/logging"
	"screepsapi/internal/metrics"
	"screepsapi/internal/poller"
	"screepsapi/internal/request"
	"screepsapi/internal/screeps"
	"screepsapi/internal/storage"
	"screepsapi/internal/storage/postgres"
	"screepsapi/internal/storage/sqlite"
)

const journalQueueSize = 256

func main() {
	if err := run(); err != nil {
		log.Fatalf("application failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	// Create a context that is canceled on OS signals like SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("application shut down gracefully")
	return nil
}

type closingStore interface {
	storage.Storer
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (closingStore, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		return sqlite.New(ctx, cfg.DatabaseURL)
	case "postgres":
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

// serve wires every component, runs until ctx is canceled and then shuts down in order.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	logger.Info("initializing storage", zap.String("driver", cfg.DatabaseDriver))
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.DatabaseDriver, err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	collector := metrics.New()
	journal := storage.NewJournal(store, journalQueueSize, logger.Named("journal"))

	cell := discovery.NewHostCell()
	if cfg.NeedsPrivateHost() {
		resolver := discovery.NewResolver(discovery.ResolverConfig{
			Candidates: cfg.ProbeCandidates,
			Port:       cfg.PrivatePort,
			Timeout:    cfg.ProbeTimeout,
			Interval:   cfg.ProbeInterval,
			MaxRounds:  cfg.ProbeMaxRounds,
		}, discovery.NewProber(nil, logger.Named("prober")), cell, logger.Named("resolver")).WithObserver(collector)
		go func() {
			if err := resolver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("private host resolution stopped", zap.Error(err))
			}
		}()
	}

	builder := request.NewBuilder(cell)
	builder.PublicHost = cfg.PublicHost
	builder.PublicPort = cfg.PublicPort
	builder.PrivatePort = cfg.PrivatePort

	executor, err := request.NewExecutor(logger.Named("request"),
		request.WithDeadline(cfg.RequestTimeout),
		request.WithSink(journal),
		request.WithSink(collector),
	)
	if err != nil {
		journal.Close()
		return fmt.Errorf("failed to initialize request executor: %w", err)
	}

	client := screeps.NewClient(builder, executor, cell, logger.Named("screeps"))
	pollerSvc := poller.New(client, store, poller.Options{
		Users:            cfg.Users,
		Interval:         cfg.PollInterval,
		MaxConcurrency:   cfg.MaxConcurrency,
		FetchGlobalStats: cfg.FetchGlobalStats,
		Hosts:            cell,
	}, logger.Named("poller"))
	server := api.NewServer(cfg.HTTPPort, api.NewRouter(store, cell, collector.Handler(), logger.Named("api")), logger.Named("api"))

	pollerSvc.Start()
	serverErr := server.Start()
	logger.Info("application is running")

	var listenErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, starting graceful shutdown")
	case listenErr = <-serverErr:
		logger.Error("HTTP server failed", zap.Error(listenErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	// Stop the poller first so no new requests are issued.
	pollerSvc.Stop()
	if listenErr != nil {
		err = multierr.Append(err, fmt.Errorf("http server error: %w", listenErr))
	} else if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("http server shutdown error: %w", shutdownErr))
	}
	// Flush pending request records before the store is closed.
	journal.Close()
	return err
}
