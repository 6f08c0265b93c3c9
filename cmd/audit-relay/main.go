// Package main provides the audit-export relay entry point.
// Drains the transactional outbox and publishes audit entries downstream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wellmind/medtrack/internal/config"
	"github.com/wellmind/medtrack/internal/infrastructure/postgres"
	"github.com/wellmind/medtrack/internal/infrastructure/stream"
)

func main() {
	cfg, err := config.Load(os.Getenv("MEDTRACK_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required for the relay")
	}

	pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	logger.Info("connected to database")

	producerCfg := stream.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers

	producer, err := stream.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to broker", zap.Strings("brokers", cfg.Kafka.Brokers))

	// Make sure the export topics exist before draining
	admin, err := stream.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(context.Background()); err != nil {
		logger.Warn("topic creation failed", zap.Error(err))
	}
	admin.Close()

	outboxCfg := postgres.DefaultOutboxConfig()
	outbox := postgres.NewOutbox(pool, producer, outboxCfg, logger)

	outbox.Start()
	logger.Info("audit relay started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	outbox.Stop()
	logger.Info("audit relay stopped")
}
