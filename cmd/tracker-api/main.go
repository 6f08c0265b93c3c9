// Package main provides the tracker API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wellmind/medtrack/internal/api/handlers"
	"github.com/wellmind/medtrack/internal/api/middleware"
	"github.com/wellmind/medtrack/internal/config"
	"github.com/wellmind/medtrack/internal/fda"
	"github.com/wellmind/medtrack/internal/infrastructure/postgres"
	"github.com/wellmind/medtrack/internal/infrastructure/stream"
	"github.com/wellmind/medtrack/internal/observability/metrics"
	"github.com/wellmind/medtrack/internal/observability/tracing"
	"github.com/wellmind/medtrack/internal/tracker"
	"github.com/wellmind/medtrack/pkg/idempotency"
)

func main() {
	cfg, err := config.Load(os.Getenv("MEDTRACK_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	// Tracing is opt-in
	if cfg.Telemetry.Enabled {
		tcfg := tracing.DefaultConfig(cfg.Telemetry.ServiceName)
		tcfg.Endpoint = cfg.Telemetry.OTLPEndpoint
		shutdownTracing, err := tracing.Setup(ctx, tcfg)
		if err != nil {
			logger.Fatal("tracing setup failed", zap.Error(err))
		}
		defer shutdownTracing(context.Background())
		logger.Info("tracing enabled", zap.String("endpoint", cfg.Telemetry.OTLPEndpoint))
	}

	m := metrics.New()

	opts := []tracker.Option{tracker.WithLogger(logger)}

	// An FDA endpoint selects the remote client; otherwise the offline stub
	if cfg.FDA.Endpoint != "" {
		fdaCfg := fda.DefaultClientConfig()
		fdaCfg.Endpoint = cfg.FDA.Endpoint
		if cfg.FDA.Timeout > 0 {
			fdaCfg.Timeout = cfg.FDA.Timeout
		}
		client, err := fda.NewClient(fdaCfg, logger)
		if err != nil {
			logger.Fatal("fda client init failed", zap.Error(err))
		}
		opts = append(opts, tracker.WithFDAValidator(client))
		logger.Info("using remote FDA validator", zap.String("endpoint", cfg.FDA.Endpoint))
	}

	// A database URL enables the durable audit store and the request inbox
	var (
		pool  *pgxpool.Pool
		inbox *idempotency.Inbox
	)
	if cfg.Database.URL != "" {
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		logger.Info("connected to database")

		auditStore := postgres.NewAuditStore(pool, logger)
		if err := auditStore.Migrate(ctx); err != nil {
			logger.Fatal("audit store migration failed", zap.Error(err))
		}
		opts = append(opts, tracker.WithAuditLogger(auditStore))

		inbox = idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
		if err := inbox.Migrate(ctx); err != nil {
			logger.Fatal("inbox migration failed", zap.Error(err))
		}
		inbox.StartCleanup()
		defer inbox.Stop()
	}

	// Domain events go to the medication.events topic when enabled
	if cfg.Kafka.PublishEvents {
		producerCfg := stream.DefaultProducerConfig()
		producerCfg.Brokers = cfg.Kafka.Brokers
		producer, err := stream.NewProducer(producerCfg, logger)
		if err != nil {
			logger.Fatal("event producer init failed", zap.Error(err))
		}
		defer producer.Close()
		opts = append(opts, tracker.WithObserver(stream.NewEventPublisher(producer, logger)))
		logger.Info("publishing domain events", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	trk := tracker.New(opts...)
	handler := handlers.NewMedicationHandler(trk, inbox, m, logger)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("tracker-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if len(cfg.APIKeys) > 0 {
			r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		}
		r.Use(middleware.Session)
		r.Mount("/medications", handler.Routes())
		r.Mount("/adherence", handler.AdherenceRoutes())
		r.Mount("/audit", handler.AuditRoutes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting tracker API", zap.Int("port", cfg.Server.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"tracker-api","version":"1.0.0"}`)
}
