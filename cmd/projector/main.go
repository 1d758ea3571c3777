package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/transitgo/ticketing-service/internal/metrics"
	"github.com/transitgo/ticketing-service/internal/projector"
	"github.com/transitgo/ticketing-service/internal/repository"
	"github.com/transitgo/ticketing-service/pkg/config"
	"github.com/transitgo/ticketing-service/pkg/database"
	"github.com/transitgo/ticketing-service/pkg/kafka"
	"github.com/transitgo/ticketing-service/pkg/logger"
	pkgredis "github.com/transitgo/ticketing-service/pkg/redis"
	"github.com/transitgo/ticketing-service/pkg/telemetry"
)

// The projector is a separate binary so the read model can be rebuilt or
// scaled independently of the API.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.Ticketing.ProjectionName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("starting ticket projector",
		zap.String("projection", cfg.Ticketing.ProjectionName),
		zap.String("topic", cfg.Ticketing.EventsTopic),
	)

	ctx := context.Background()

	otelCfg := &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.Ticketing.ProjectionName,
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

	readDB, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.ReadDatabase.Host,
		Port:            cfg.ReadDatabase.Port,
		User:            cfg.ReadDatabase.User,
		Password:        cfg.ReadDatabase.Password,
		Database:        cfg.ReadDatabase.DBName,
		SSLMode:         cfg.ReadDatabase.SSLMode,
		MaxConns:        int32(cfg.ReadDatabase.MaxConns),
		MinConns:        int32(cfg.ReadDatabase.MinConns),
		MaxConnLifetime: cfg.ReadDatabase.ConnMaxLifetime,
		MaxConnIdleTime: cfg.ReadDatabase.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		EnableTracing:   cfg.OTel.Enabled,
		ServiceName:     cfg.Ticketing.ProjectionName,
	})
	if err != nil {
		appLog.Fatal("read database connection failed", zap.Error(err))
	}
	defer readDB.Close()

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

	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		GroupID:       cfg.Kafka.ConsumerGroup,
		Topics:        []string{cfg.Ticketing.EventsTopic},
		ClientID:      cfg.Kafka.ClientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Fatal("kafka consumer connection failed", zap.Error(err))
	}
	defer consumer.Close()

	// DLQ producer for events that exhaust their retries
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID + "-dlq",
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Fatal("kafka producer connection failed", zap.Error(err))
	}
	defer producer.Close()

	readRepo := repository.NewPostgresReadRepository(readDB.Pool())
	cache := repository.NewRedisCacheRepository(redisClient, cfg.Ticketing.TicketCacheTTL, cfg.Ticketing.TicketPageCacheTTL)
	m := metrics.NewTicketMetrics()

	p := projector.NewProjector(consumer, readRepo, cache, producer, m, cfg.Ticketing)
	if err := p.Start(ctx); err != nil {
		appLog.Fatal("failed to start projector", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("shutting down")

	p.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := producer.Flush(shutdownCtx); err != nil {
		appLog.Warn("producer flush failed", zap.Error(err))
	}
	if err := telemetry.ShutdownMetrics(shutdownCtx); err != nil {
		appLog.Warn("metrics shutdown failed", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("tracing shutdown failed", zap.Error(err))
	}

	appLog.Info("ticket projector exited")
}
