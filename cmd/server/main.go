package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appfiscal "github.com/caixadigital/nfse-gateway/internal/application/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/config"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/logger"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/persistence"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/provider"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/scheduler"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/secrets"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/worker"
	"github.com/caixadigital/nfse-gateway/internal/interfaces/http/handler"
	"github.com/caixadigital/nfse-gateway/internal/interfaces/http/middleware"
	"github.com/caixadigital/nfse-gateway/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting NFSe Gateway",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database connection with zap-backed GORM logging
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, log, gormLogLevel)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Credential encryption at rest
	encryptor, err := secrets.NewEncryptor(cfg.Secrets.MasterKey, cfg.Secrets.Salt)
	if err != nil {
		log.Fatal("Failed to initialize credential encryptor", zap.Error(err))
	}

	// Repositories
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	eventRepo := persistence.NewGormFiscalEventRepository(db.DB)
	configRepo := persistence.NewGormBackendConfigRepository(db.DB, encryptor)
	issuerRepo := persistence.NewGormIssuerRepository(db.DB)
	callLogRepo := persistence.NewGormAPICallLogRepository(db.DB)

	// Provider clients share one audited transport
	transport := provider.NewTransport(callLogRepo, log)
	registry := provider.DefaultRegistry(transport, log)

	// Emission queue: Redis in normal operation, in-memory as fallback when
	// Redis is not configured.
	var queue worker.Queue
	if cfg.Redis.Host != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Error("Error closing redis client", zap.Error(err))
			}
		}()
		queue = worker.NewRedisQueue(redisClient, cfg.Worker.QueueName)
		log.Info("Using redis emission queue", zap.String("queue", cfg.Worker.QueueName))
	} else {
		queue = worker.NewMemoryQueue(1024)
		log.Warn("Redis not configured, using in-memory emission queue")
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Error("Error closing emission queue", zap.Error(err))
		}
	}()

	// Application services
	emissionService := appfiscal.NewEmissionService(invoiceRepo, eventRepo, configRepo, issuerRepo, registry, queue, log)
	webhookService := appfiscal.NewWebhookService(invoiceRepo, eventRepo, configRepo, log)
	reconciliationService := appfiscal.NewReconciliationService(invoiceRepo, eventRepo, configRepo, issuerRepo, registry, log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Background emission workers
	var emissionWorker *worker.EmissionWorker
	if cfg.Worker.Enabled {
		emissionWorker = worker.NewEmissionWorker(cfg.Worker, queue, emissionService, log)
		if err := emissionWorker.Start(ctx); err != nil {
			log.Fatal("Failed to start emission worker", zap.Error(err))
		}
		defer emissionWorker.Stop()
	}

	// Reconciliation poller for invoices stuck in submission
	var poller *scheduler.ReconciliationPoller
	if cfg.Poller.Enabled {
		poller = scheduler.NewReconciliationPoller(cfg.Poller, reconciliationService, log)
		if err := poller.Start(ctx); err != nil {
			log.Fatal("Failed to start reconciliation poller", zap.Error(err))
		}
		defer poller.Stop()
	}

	// HTTP surface
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(log))
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Invalid trusted proxies", zap.Error(err))
		}
	}

	r := router.NewRouter(engine)
	r.Register(handler.NewInvoiceHandler(emissionService))
	r.Register(handler.NewWebhookHandler(webhookService))
	r.Register(handler.NewSystemHandler(db))
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
