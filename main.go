package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/transitgo/ticketing-service/internal/di"
	"github.com/transitgo/ticketing-service/internal/middleware"
	"github.com/transitgo/ticketing-service/pkg/config"
	"github.com/transitgo/ticketing-service/pkg/database"
	"github.com/transitgo/ticketing-service/pkg/kafka"
	"github.com/transitgo/ticketing-service/pkg/logger"
	pkgredis "github.com/transitgo/ticketing-service/pkg/redis"
	"github.com/transitgo/ticketing-service/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("starting ticketing service",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx := context.Background()

	// Telemetry
	otelCfg := &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}
	if _, err := telemetry.Init(ctx, otelCfg); err != nil {
		appLog.Fatal("failed to initialize tracing", zap.Error(err))
	}
	if err := telemetry.InitMetrics(ctx, otelCfg); err != nil {
		appLog.Fatal("failed to initialize metrics", zap.Error(err))
	}

	// Write store
	writeDB, err := database.NewPostgres(ctx, pgConfig(cfg.WriteDatabase, cfg.OTel))
	if err != nil {
		appLog.Fatal("write database connection failed", zap.Error(err))
	}
	defer writeDB.Close()
	appLog.Info("write database connected", zap.String("dbname", cfg.WriteDatabase.DBName))

	// Read store
	readDB, err := database.NewPostgres(ctx, pgConfig(cfg.ReadDatabase, cfg.OTel))
	if err != nil {
		appLog.Fatal("read database connection failed", zap.Error(err))
	}
	defer readDB.Close()
	appLog.Info("read database connected", zap.String("dbname", cfg.ReadDatabase.DBName))

	// Cache
	redisClient, err := pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		appLog.Fatal("redis connection failed", zap.Error(err))
	}
	defer redisClient.Close()
	appLog.Info("redis connected", zap.String("addr", cfg.Redis.Addr()))

	// Event bus. A missing broker degrades to dropped events rather than
	// blocking the write path.
	var producer *kafka.Producer
	producer, err = kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Warn("kafka connection failed, events will be dropped", zap.Error(err))
		producer = nil
	} else {
		defer producer.Close()
		appLog.Info("kafka producer connected")
	}

	container := di.NewContainer(&di.ContainerConfig{
		Config:   cfg,
		WriteDB:  writeDB,
		ReadDB:   readDB,
		Redis:    redisClient,
		Producer: producer,
	})

	// Expiry sweeper
	if err := container.ExpiryWorker.Start(ctx); err != nil {
		appLog.Fatal("failed to start expiry worker", zap.Error(err))
	}

	// HTTP
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(telemetry.TracingMiddleware(cfg.App.Name))

	container.HealthHandler.RegisterRoutes(router)
	container.TicketHandler.RegisterRoutes(router, middleware.Auth(cfg.JWT),
		middleware.Idempotency(&middleware.IdempotencyConfig{Store: redisClient}))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info("ticketing service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http server forced to shut down", zap.Error(err))
	}

	container.ExpiryWorker.Stop()

	if producer != nil {
		if err := producer.Flush(shutdownCtx); err != nil {
			appLog.Warn("producer flush failed", zap.Error(err))
		}
	}

	if err := telemetry.ShutdownMetrics(shutdownCtx); err != nil {
		appLog.Warn("metrics shutdown failed", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("tracing shutdown failed", zap.Error(err))
	}

	appLog.Info("ticketing service exited")
}

func pgConfig(db config.DatabaseConfig, otel config.OTelConfig) *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            db.Host,
		Port:            db.Port,
		User:            db.User,
		Password:        db.Password,
		Database:        db.DBName,
		SSLMode:         db.SSLMode,
		MaxConns:        int32(db.MaxConns),
		MinConns:        int32(db.MinConns),
		MaxConnLifetime: db.ConnMaxLifetime,
		MaxConnIdleTime: db.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		EnableTracing:   otel.Enabled,
		ServiceName:     otel.ServiceName,
	}
}
