// Package main wires together the frontier service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/lookuply/frontier/internal/api"
	"github.com/lookuply/frontier/internal/clock/system"
	"github.com/lookuply/frontier/internal/config"
	"github.com/lookuply/frontier/internal/frontier"
	"github.com/lookuply/frontier/internal/id/uuid"
	"github.com/lookuply/frontier/internal/logging"
	"github.com/lookuply/frontier/internal/metrics"
	memorypublisher "github.com/lookuply/frontier/internal/publisher/memory"
	pubsubpublisher "github.com/lookuply/frontier/internal/publisher/pubsub"
	memorystorage "github.com/lookuply/frontier/internal/storage/memory"
	"github.com/lookuply/frontier/internal/storage/postgres"
	"github.com/lookuply/frontier/internal/sweeper"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	instanceID, err := uuid.NewUUIDGenerator().NewID()
	if err != nil {
		fmt.Fprintf(os.Stderr, "instance id generation failed: %v\n", err)
		os.Exit(1)
	}
	logger = logger.With(zap.String("instance_id", instanceID))
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store  frontier.Store
		pinger api.Pinger
	)
	if cfg.DB.DSN != "" {
		pgStore, err := postgres.NewFrontierStore(ctx, postgres.FrontierStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMins) * time.Minute,
		})
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
		pinger = pgStore
		logger.Info("using postgres store", zap.String("table", cfg.DB.Table))
	} else {
		store = memorystorage.NewFrontierStore()
		logger.Info("using in-memory store")
	}

	var publisher frontier.Publisher = memorypublisher.New()
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("pubsub client close failed", zap.Error(closeErr))
			}
		}()
		topic := client.Topic(cfg.PubSub.TopicName)
		defer topic.Stop()
		publisher = pubsubpublisher.New(topic)
		logger.Info("using pubsub publisher", zap.String("topic", cfg.PubSub.TopicName))
	}

	clock := system.New()
	service := frontier.NewService(
		store,
		clock,
		frontier.Policy{
			LeaseDuration:     cfg.Lease(),
			MaxRetries:        cfg.Frontier.MaxRetries,
			BackoffBase:       cfg.BackoffBase(),
			BackoffCeiling:    cfg.BackoffCeiling(),
			DispatchOverfetch: cfg.Frontier.DispatchOverfetch,
			SweepBatch:        cfg.Frontier.SweepBatch,
		},
		publisher,
		cfg.PubSub.TopicName,
		logger.Named("frontier"),
	)

	sweep := sweeper.New(service, clock, cfg.ReclaimInterval(), cfg.RequeueInterval(), logger.Named("sweeper"))
	apiServer := api.NewServer(service, pinger, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go sweep.Run(ctx)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
