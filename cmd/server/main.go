package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/x402wrap/x402wrap/config"
	appmodel "github.com/x402wrap/x402wrap/internal/app/model"
	apprepository "github.com/x402wrap/x402wrap/internal/app/repository"
	appserver "github.com/x402wrap/x402wrap/internal/app/server"
	appservice "github.com/x402wrap/x402wrap/internal/app/service"
	"github.com/x402wrap/x402wrap/internal/infra/logger"
	infraMetrics "github.com/x402wrap/x402wrap/internal/infra/metrics"
	infraNATS "github.com/x402wrap/x402wrap/internal/infra/nats"
	infraPostgres "github.com/x402wrap/x402wrap/internal/infra/postgres"
	infraRedis "github.com/x402wrap/x402wrap/internal/infra/redis"
	infraSolana "github.com/x402wrap/x402wrap/internal/infra/solana"
	infraSQLite "github.com/x402wrap/x402wrap/internal/infra/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	ctx := context.Background()

	isDev := os.Getenv("APP_ENV") != "production"
	log := logger.MustInit(logger.Config{
		Development: isDev,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("server_addr", cfg.Server.Addr),
		zap.String("solana_rpc", cfg.Solana.RPCURL),
		zap.String("solana_commitment", cfg.Solana.Commitment),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("nats_host", cfg.NATS.Host),
	)

	gormDB, pgPool := mustOpenStorage(ctx, log, cfg)
	if pgPool != nil {
		defer pgPool.Close()
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}

	redisClient := connectRedis(ctx, log, cfg, isDev)
	if redisClient != nil {
		defer redisClient.Close()
	}

	linkRepo := apprepository.NewLinkRepository(gormDB)
	usageRepo := apprepository.NewUsageRepository(gormDB)
	auditRepo := apprepository.NewAuditRepository(gormDB)

	var auditPublisher *appservice.AuditPublisher
	natsConn, js, err := infraNATS.Connect(cfg.NATS)
	if err != nil {
		if !isDev {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		log.Warn("NATS unavailable, audit events disabled", zap.Error(err))
	} else {
		defer natsConn.Drain()
		log.Info("Connected to NATS successfully")

		auditPublisher = appservice.NewAuditPublisher(js)
		auditConsumer := appservice.NewAuditConsumer(js, log, auditRepo)
		if err := auditConsumer.Start(); err != nil {
			log.Fatal("Failed to start audit consumer", zap.Error(err))
		}
	}

	if !isDev {
		promServer := infraMetrics.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server",
				zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	ledgerClient, err := infraSolana.NewClient(cfg.Solana)
	if err != nil {
		log.Fatal("Failed to build Solana client", zap.Error(err))
	}

	verifier := appservice.NewPaymentVerifier(ledgerClient, usageRepo, redisClient, log, appservice.VerifierConfig{
		USDCMint:      cfg.Solana.USDCMint,
		MaxProofAge:   parseDuration(log, cfg.Solana.MaxProofAge, 10*time.Minute),
		LookupTimeout: parseDuration(log, cfg.Solana.RequestTimeout, 10*time.Second),
	})

	forwarder := appservice.NewForwarder(parseDuration(log, cfg.Gateway.ForwardTimeout, 30*time.Second), log)

	gateway := appservice.NewGatewayService(appservice.GatewayDeps{
		Links:     linkRepo,
		Usage:     usageRepo,
		Verifier:  verifier,
		Forwarder: forwarder,
		Audit:     auditPublisher,
		Logger:    log,
	})

	linkService := appservice.NewLinkService(linkRepo, usageRepo, cfg.Gateway.RecentUsageLimit)

	if pgPool != nil {
		checker := appservice.NewIntegrityChecker(log, pgPool,
			parseDuration(log, cfg.Gateway.IntegrityCheckInterval, 5*time.Minute))
		checker.Start()
		defer checker.Stop()
	}

	srv := appserver.New(appserver.Dependencies{
		Logger:      log,
		Redis:       redisClient,
		LinkService: linkService,
		Gateway:     gateway,
	})

	if err := srv.Listen(cfg.Server.Addr); err != nil {
		log.Fatal("Fiber server exited", zap.Error(err))
	}
}

// mustOpenStorage opens the configured storage backend, runs migrations and,
// for postgres, also opens the pgx pool used by the integrity checker.
func mustOpenStorage(ctx context.Context, log *zap.Logger, cfg *config.Config) (*gorm.DB, *pgxpool.Pool) {
	switch cfg.Storage.Backend {
	case "sqlite":
		gormDB, err := infraSQLite.NewGorm(cfg.SQLite)
		if err != nil {
			log.Fatal("Failed to open SQLite connection", zap.Error(err))
		}
		if err := migrate(ctx, gormDB); err != nil {
			log.Fatal("Failed to run database migrations", zap.Error(err))
		}
		log.Info("Using SQLite storage backend", zap.String("path", cfg.SQLite.Path))
		return gormDB, nil

	default: // postgres
		gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to open GORM connection", zap.Error(err))
		}
		if err := migrate(ctx, gormDB); err != nil {
			log.Fatal("Failed to run database migrations", zap.Error(err))
		}

		pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		log.Info("Connected to Postgres successfully")
		return gormDB, pool
	}
}

func migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(
		&appmodel.Link{},
		&appmodel.UsageRecord{},
		&appmodel.AuditEvent{},
	)
}

// connectRedis returns nil in development when Redis is unreachable; rate
// limiting and the replay reservation degrade gracefully without it.
func connectRedis(ctx context.Context, log *zap.Logger, cfg *config.Config, isDev bool) *redis.Client {
	client, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		if !isDev {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		log.Warn("Redis unavailable, continuing without it", zap.Error(err))
		return nil
	}
	log.Info("Connected to Redis successfully")
	return client
}

func parseDuration(log *zap.Logger, raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn("Invalid duration in config, using default",
			zap.String("value", raw),
			zap.Duration("default", fallback))
		return fallback
	}
	return d
}
