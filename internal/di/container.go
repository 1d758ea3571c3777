package di

import (
	"github.com/transitgo/ticketing-service/internal/handler"
	"github.com/transitgo/ticketing-service/internal/metrics"
	"github.com/transitgo/ticketing-service/internal/repository"
	"github.com/transitgo/ticketing-service/internal/service"
	"github.com/transitgo/ticketing-service/internal/worker"
	"github.com/transitgo/ticketing-service/pkg/config"
	"github.com/transitgo/ticketing-service/pkg/database"
	"github.com/transitgo/ticketing-service/pkg/kafka"
	"github.com/transitgo/ticketing-service/pkg/redis"
)

// Container holds all dependencies of the ticketing service
type Container struct {
	// Infrastructure
	WriteDB  *database.PostgresDB
	ReadDB   *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer

	// Repositories
	BookingRepo repository.BookingRepository
	ReadRepo    repository.ReadModelRepository
	Cache       repository.TicketCacheRepository

	// Publishers
	EventPublisher service.EventPublisher

	// Services
	Metrics        *metrics.TicketMetrics
	CommandService *service.TicketCommandService
	QueryService   *service.TicketQueryService

	// Workers
	ExpiryWorker *worker.ExpiryWorker

	// Handlers
	TicketHandler *handler.TicketHandler
	HealthHandler *handler.HealthHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config   *config.Config
	WriteDB  *database.PostgresDB
	ReadDB   *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer // nil means events are dropped (local development)
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		WriteDB:  cfg.WriteDB,
		ReadDB:   cfg.ReadDB,
		Redis:    cfg.Redis,
		Producer: cfg.Producer,
	}

	ticketing := cfg.Config.Ticketing

	// Repositories
	c.BookingRepo = repository.NewPostgresBookingRepository(cfg.WriteDB.Pool())
	c.ReadRepo = repository.NewPostgresReadRepository(cfg.ReadDB.Pool())
	c.Cache = repository.NewRedisCacheRepository(cfg.Redis, ticketing.TicketCacheTTL, ticketing.TicketPageCacheTTL)

	// Publisher
	if cfg.Producer != nil {
		c.EventPublisher = service.NewKafkaEventPublisher(cfg.Producer, ticketing.EventsTopic)
	} else {
		c.EventPublisher = service.NoOpEventPublisher{}
	}

	// Services
	c.Metrics = metrics.NewTicketMetrics()
	c.CommandService = service.NewTicketCommandService(c.BookingRepo, c.EventPublisher, c.Metrics, ticketing)
	c.QueryService = service.NewTicketQueryService(c.ReadRepo, c.Cache, c.Metrics)

	// Workers
	c.ExpiryWorker = worker.NewExpiryWorker(c.CommandService, &worker.ExpiryWorkerConfig{
		SweepInterval: ticketing.SweepInterval,
	})

	// Handlers
	c.TicketHandler = handler.NewTicketHandler(c.CommandService, c.QueryService)

	c.HealthHandler = handler.NewHealthHandler(cfg.Config.App.Name, cfg.Config.App.Version)
	c.HealthHandler.AddCheck("write_database", c.BookingRepo.HealthCheck)
	c.HealthHandler.AddCheck("read_database", c.ReadRepo.HealthCheck)
	c.HealthHandler.AddCheck("cache", c.Cache.HealthCheck)
	if cfg.Producer != nil {
		c.HealthHandler.AddCheck("event_bus", cfg.Producer.Ping)
	}

	return c
}
