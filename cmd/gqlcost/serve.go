package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/gql-cost-analyzer/internal/analyzer"
	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
	"github.com/couchcryptid/gql-cost-analyzer/internal/calibrate"
	"github.com/couchcryptid/gql-cost-analyzer/internal/config"
	"github.com/couchcryptid/gql-cost-analyzer/internal/database"
	"github.com/couchcryptid/gql-cost-analyzer/internal/kafka"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
	"github.com/couchcryptid/gql-cost-analyzer/internal/server"
	"github.com/couchcryptid/gql-cost-analyzer/internal/store"
)

// requestTimeoutMargin is added to the calibration total timeout so that
// POST /calibrate can finish before the handler timeout fires.
const requestTimeoutMargin = 10 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	var maxInFlight int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis HTTP API",
		Long: `Serve exposes POST /analyze, the stored report history and calibration
snapshots over HTTP. Reports and calibrations are persisted to Postgres when
DATABASE_URL is set; query submissions are consumed from Kafka when
KAFKA_BROKERS is set as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := config.LoadService()
			if err != nil {
				return &exitError{code: budget.ExitError, err: err}
			}
			cfg, err := config.Load(g.configFile, cmd.Flags())
			if err != nil {
				return &exitError{code: budget.ExitError, err: err}
			}
			if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
				svc.LogLevel = g.logLevel
			}
			if f := cmd.Flags().Lookup("log-format"); f != nil && f.Changed {
				svc.LogFormat = g.logFormat
			}
			return serve(cmd.Context(), svc, cfg, maxInFlight)
		},
	}
	cmd.Flags().IntVar(&maxInFlight, "max-in-flight", server.DefaultMaxInFlight, "concurrent analysis requests before answering 503")
	return cmd
}

func serve(parent context.Context, svc *config.Service, cfg *config.Config, maxInFlight int) error {
	logger := observability.NewLogger(svc.LogLevel, svc.LogFormat)
	metrics := observability.NewMetrics()

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := analyzer.FromConfig(cfg, metrics, logger)
	if err != nil {
		return &exitError{code: budget.ExitError, err: err}
	}

	opts := server.Options{
		Classes:     cfg.Classes(),
		MaxInFlight: maxInFlight,
	}
	readiness := &observability.Readiness{}
	opts.Readiness = readiness
	if cfg.Calibration.URL != "" {
		opts.Calibrator = calibrate.New(cfg.CalibratorConfig(), nil, metrics, logger)
	}

	// Database
	var s *store.Store
	if svc.DatabaseEnabled() {
		version, err := database.RunMigrations(svc.DatabaseURL)
		if err != nil {
			return err
		}
		logger.Info("database migrated", "version", version)

		pool, err := database.NewPool(ctx, svc.DatabaseURL, 0)
		if err != nil {
			return err
		}
		defer pool.Close()
		go collectPoolStats(ctx, pool, metrics)

		s = store.New(pool, metrics)
		opts.Store = s
		readiness.Add("database", database.NewPoolReadiness(pool))

		entries, err := s.LoadCalibration(ctx)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			a = a.WithModel(a.Model().WithOverrides(entries), nil)
			logger.Info("loaded stored calibration", "edges", len(entries))
		}
	} else {
		logger.Warn("DATABASE_URL not set; reports will not be persisted")
	}

	holder := analyzer.NewHolder(a)
	opts.Analyzers = holder

	// Kafka consumer
	switch {
	case svc.KafkaEnabled() && s != nil:
		consumer := kafka.NewBatchConsumer(kafka.Config{
			Brokers:       svc.KafkaBrokers,
			Topic:         svc.KafkaTopic,
			GroupID:       svc.KafkaGroupID,
			BatchSize:     svc.BatchSize,
			FlushInterval: svc.BatchFlushInterval,
		}, holder, cfg.Classes(), s, metrics, logger)
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Error("kafka consumer close", "error", err)
			}
		}()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("kafka consumer", "error", err)
			}
		}()
	case svc.KafkaEnabled():
		logger.Warn("kafka intake needs DATABASE_URL; consumer disabled")
	}

	handlerTimeout := cfg.Calibration.TotalTimeout + requestTimeoutMargin
	httpServer := &http.Server{
		Addr:              ":" + svc.Port,
		Handler:           http.TimeoutHandler(server.New(opts, metrics, logger).Routes(), handlerTimeout, `{"error":"request timeout"}`),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      handlerTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), svc.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("server started", "port", svc.Port)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

func collectPoolStats(ctx context.Context, pool *pgxpool.Pool, metrics *observability.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			metrics.DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
			metrics.DBPoolConnections.WithLabelValues("active").Set(float64(stat.AcquiredConns()))
			metrics.DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
		}
	}
}
