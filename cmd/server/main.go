package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/labsight/deidgate/internal/api"
	"github.com/labsight/deidgate/internal/artifact"
	"github.com/labsight/deidgate/internal/audit"
	"github.com/labsight/deidgate/internal/config"
	"github.com/labsight/deidgate/internal/database"
	"github.com/labsight/deidgate/internal/deid"
	"github.com/labsight/deidgate/internal/domain"
	"github.com/labsight/deidgate/internal/identity"
	"github.com/labsight/deidgate/internal/llm"
	"github.com/labsight/deidgate/internal/middleware"
	"github.com/labsight/deidgate/internal/notify"
	"github.com/labsight/deidgate/internal/pipeline"
	"github.com/labsight/deidgate/internal/report"
	"github.com/labsight/deidgate/internal/store"
)

func main() {
	configFile := flag.StringP("config", "c", "", "path to a YAML configuration file")
	flag.Parse()

	// A missing .env file is not an error.
	_ = godotenv.Load()

	logger := logrus.New()
	if err := run(*configFile, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
}

func run(configFile string, logger *logrus.Logger) error {
	configManager, err := config.NewManager(configFile)
	if err != nil {
		return err
	}
	if err := configManager.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	cfg := configManager.GetConfig()
	configureLogger(logger, cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConfig := database.ConfigFrom(cfg.Database)
	db, err := database.NewConnection(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	sqlDB, err := database.OpenSQL(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to open identity database: %w", err)
	}
	defer sqlDB.Close()

	records, err := openRecordStore(cfg.Store, db, logger)
	if err != nil {
		return err
	}
	defer records.Close()

	sink, err := audit.OpenSink(cfg.Audit.Output)
	if err != nil {
		return fmt.Errorf("failed to open audit sink: %w", err)
	}
	defer sink.Close()

	stats, err := audit.NewBlockStats(cfg.Cache)
	if err != nil {
		return err
	}
	defer stats.Close()

	pseudonyms, err := deid.NewPseudonymGenerator(cfg.Pseudonym.Mode, cfg.Pseudonym.Salt)
	if err != nil {
		return err
	}

	renderer, err := report.NewRenderer()
	if err != nil {
		return err
	}

	pipelineConfig := pipeline.Config{
		Gate:         deid.NewGate(pseudonyms),
		Invoker:      llm.NewClient(cfg.LLM, logger),
		Audit:        audit.NewLogger(sink, stats, logger),
		Records:      records,
		Identity:     identity.NewStore(sqlDB, logger),
		Renderer:     renderer,
		RecentOrders: cfg.Cache.RecentOrders,
	}

	if cfg.Artifact.Enabled {
		client, err := artifact.NewMinioClient(cfg.Artifact)
		if err != nil {
			return err
		}
		pipelineConfig.Artifacts = artifact.NewStore(client, cfg.Artifact.Bucket, logger)
	}

	if cfg.Notify.Enabled {
		conn, ch, err := notify.Dial(cfg.Notify.URL, cfg.Notify.Queue)
		if err != nil {
			return err
		}
		defer conn.Close()
		defer ch.Close()
		pipelineConfig.Notifier = notify.NewPublisher(ch, cfg.Notify.Queue, logger)
	}

	service, err := pipeline.NewService(pipelineConfig, logger)
	if err != nil {
		return err
	}

	deps := api.Dependencies{
		Pipeline: service,
		Stats:    stats,
		Checks: map[string]api.HealthCheck{
			"database": db.Health,
			"identity": sqlDB.PingContext,
			"redis":    stats.Ping,
		},
	}
	if configManager.AuthEnabled() {
		deps.Verifier = middleware.NewTokenVerifier(cfg.Auth)
	} else {
		logger.Warn("Authentication is disabled; order ownership is not checked")
	}

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Server.Environment,
		"store":       cfg.Store.Driver,
	}).Info("Starting deidgate")

	if err := api.NewServer(configManager, deps, logger).Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

func openRecordStore(cfg domain.StoreConfig, db *database.DB, logger *logrus.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	default:
		return store.NewPostgresStore(db.Pool, logger), nil
	}
}

func configureLogger(logger *logrus.Logger, cfg domain.LoggingConfig) {
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	logger.SetOutput(os.Stderr)
}
