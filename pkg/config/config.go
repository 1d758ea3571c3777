package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App           AppConfig       `mapstructure:"app"`
	Server        ServerConfig    `mapstructure:"server"`
	WriteDatabase DatabaseConfig  `mapstructure:"write_database"` // command-side store (bookings, events, seats)
	ReadDatabase  DatabaseConfig  `mapstructure:"read_database"`  // query-side store (ticket views, checkpoints)
	Redis         RedisConfig     `mapstructure:"redis"`
	Kafka         KafkaConfig     `mapstructure:"kafka"`
	JWT           JWTConfig       `mapstructure:"jwt"`
	OTel          OTelConfig      `mapstructure:"otel"`
	Services      ServicesConfig  `mapstructure:"services"`
	Ticketing     TicketingConfig `mapstructure:"ticketing"`
}

// ServicesConfig holds URLs of other microservices
type ServicesConfig struct {
	RouteServiceURL   string `mapstructure:"route_service_url"`
	PaymentServiceURL string `mapstructure:"payment_service_url"`
	AuthServiceURL    string `mapstructure:"auth_service_url"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ClientID      string   `mapstructure:"client_id"`
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// TicketingConfig holds booking lifecycle settings
type TicketingConfig struct {
	DefaultCurrency           string        `mapstructure:"default_currency"`
	DefaultReservationMinutes int           `mapstructure:"default_reservation_minutes"`
	MinReservationMinutes     int           `mapstructure:"min_reservation_minutes"`
	MaxReservationMinutes     int           `mapstructure:"max_reservation_minutes"`
	SweepInterval             time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize            int           `mapstructure:"sweep_batch_size"`
	EventsTopic               string        `mapstructure:"events_topic"`
	ProjectionName            string        `mapstructure:"projection_name"`
	TicketCacheTTL            time.Duration `mapstructure:"ticket_cache_ttl"`
	TicketPageCacheTTL        time.Duration `mapstructure:"ticket_page_cache_ttl"`
	DLQMaxAttempts            int           `mapstructure:"dlq_max_attempts"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// Read from .env file (optional)
	if err := v.ReadInConfig(); err != nil {
		// It's okay if .env doesn't exist, we'll use environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// We still continue because env vars might be set
		}
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "ticketing-service")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Write database (bookings, booking_events, seat_availability)
	v.SetDefault("WRITE_DATABASE_HOST", "localhost")
	v.SetDefault("WRITE_DATABASE_PORT", 5432)
	v.SetDefault("WRITE_DATABASE_USER", "postgres")
	v.SetDefault("WRITE_DATABASE_PASSWORD", "postgres")
	v.SetDefault("WRITE_DATABASE_DBNAME", "ticketing_db")
	v.SetDefault("WRITE_DATABASE_SSLMODE", "disable")
	v.SetDefault("WRITE_DATABASE_MAX_CONNS", 100)
	v.SetDefault("WRITE_DATABASE_MIN_CONNS", 10)
	v.SetDefault("WRITE_DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("WRITE_DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Read database (user_tickets_view, schedule_availability_view, projection_checkpoints)
	v.SetDefault("READ_DATABASE_HOST", "localhost")
	v.SetDefault("READ_DATABASE_PORT", 5432)
	v.SetDefault("READ_DATABASE_USER", "postgres")
	v.SetDefault("READ_DATABASE_PASSWORD", "postgres")
	v.SetDefault("READ_DATABASE_DBNAME", "ticketing_read_db")
	v.SetDefault("READ_DATABASE_SSLMODE", "disable")
	v.SetDefault("READ_DATABASE_MAX_CONNS", 100)
	v.SetDefault("READ_DATABASE_MIN_CONNS", 10)
	v.SetDefault("READ_DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("READ_DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "ticketing-projector")
	v.SetDefault("KAFKA_CLIENT_ID", "ticketing-service")

	// JWT defaults
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("JWT_ISSUER", "transitgo")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", true)
	v.SetDefault("OTEL_SERVICE_NAME", "ticketing-service")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Services
	v.SetDefault("SERVICES_ROUTE_SERVICE_URL", "http://localhost:8081")
	v.SetDefault("SERVICES_PAYMENT_SERVICE_URL", "http://localhost:8082")
	v.SetDefault("SERVICES_AUTH_SERVICE_URL", "http://localhost:8083")

	// Ticketing defaults
	v.SetDefault("TICKETING_DEFAULT_CURRENCY", "USD")
	v.SetDefault("TICKETING_DEFAULT_RESERVATION_MINUTES", 15)
	v.SetDefault("TICKETING_MIN_RESERVATION_MINUTES", 5)
	v.SetDefault("TICKETING_MAX_RESERVATION_MINUTES", 60)
	v.SetDefault("TICKETING_SWEEP_INTERVAL", "30s")
	v.SetDefault("TICKETING_SWEEP_BATCH_SIZE", 100)
	v.SetDefault("TICKETING_EVENTS_TOPIC", "ticket-events")
	v.SetDefault("TICKETING_PROJECTION_NAME", "user-tickets")
	v.SetDefault("TICKETING_TICKET_CACHE_TTL", "300s")
	v.SetDefault("TICKETING_TICKET_PAGE_CACHE_TTL", "60s")
	v.SetDefault("TICKETING_DLQ_MAX_ATTEMPTS", 5)
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Write database
	cfg.WriteDatabase.Host = v.GetString("WRITE_DATABASE_HOST")
	cfg.WriteDatabase.Port = v.GetInt("WRITE_DATABASE_PORT")
	cfg.WriteDatabase.User = v.GetString("WRITE_DATABASE_USER")
	cfg.WriteDatabase.Password = v.GetString("WRITE_DATABASE_PASSWORD")
	cfg.WriteDatabase.DBName = v.GetString("WRITE_DATABASE_DBNAME")
	cfg.WriteDatabase.SSLMode = v.GetString("WRITE_DATABASE_SSLMODE")
	cfg.WriteDatabase.MaxConns = v.GetInt("WRITE_DATABASE_MAX_CONNS")
	cfg.WriteDatabase.MinConns = v.GetInt("WRITE_DATABASE_MIN_CONNS")
	cfg.WriteDatabase.ConnMaxLifetime = v.GetDuration("WRITE_DATABASE_CONN_MAX_LIFETIME")
	cfg.WriteDatabase.ConnMaxIdleTime = v.GetDuration("WRITE_DATABASE_CONN_MAX_IDLE_TIME")

	// Read database
	cfg.ReadDatabase.Host = v.GetString("READ_DATABASE_HOST")
	cfg.ReadDatabase.Port = v.GetInt("READ_DATABASE_PORT")
	cfg.ReadDatabase.User = v.GetString("READ_DATABASE_USER")
	cfg.ReadDatabase.Password = v.GetString("READ_DATABASE_PASSWORD")
	cfg.ReadDatabase.DBName = v.GetString("READ_DATABASE_DBNAME")
	cfg.ReadDatabase.SSLMode = v.GetString("READ_DATABASE_SSLMODE")
	cfg.ReadDatabase.MaxConns = v.GetInt("READ_DATABASE_MAX_CONNS")
	cfg.ReadDatabase.MinConns = v.GetInt("READ_DATABASE_MIN_CONNS")
	cfg.ReadDatabase.ConnMaxLifetime = v.GetDuration("READ_DATABASE_CONN_MAX_LIFETIME")
	cfg.ReadDatabase.ConnMaxIdleTime = v.GetDuration("READ_DATABASE_CONN_MAX_IDLE_TIME")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	brokersStr := v.GetString("KAFKA_BROKERS")
	cfg.Kafka.Brokers = strings.Split(brokersStr, ",")
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Services
	cfg.Services.RouteServiceURL = v.GetString("SERVICES_ROUTE_SERVICE_URL")
	cfg.Services.PaymentServiceURL = v.GetString("SERVICES_PAYMENT_SERVICE_URL")
	cfg.Services.AuthServiceURL = v.GetString("SERVICES_AUTH_SERVICE_URL")

	// Ticketing
	cfg.Ticketing.DefaultCurrency = v.GetString("TICKETING_DEFAULT_CURRENCY")
	cfg.Ticketing.DefaultReservationMinutes = v.GetInt("TICKETING_DEFAULT_RESERVATION_MINUTES")
	cfg.Ticketing.MinReservationMinutes = v.GetInt("TICKETING_MIN_RESERVATION_MINUTES")
	cfg.Ticketing.MaxReservationMinutes = v.GetInt("TICKETING_MAX_RESERVATION_MINUTES")
	cfg.Ticketing.SweepInterval = v.GetDuration("TICKETING_SWEEP_INTERVAL")
	cfg.Ticketing.SweepBatchSize = v.GetInt("TICKETING_SWEEP_BATCH_SIZE")
	cfg.Ticketing.EventsTopic = v.GetString("TICKETING_EVENTS_TOPIC")
	cfg.Ticketing.ProjectionName = v.GetString("TICKETING_PROJECTION_NAME")
	cfg.Ticketing.TicketCacheTTL = v.GetDuration("TICKETING_TICKET_CACHE_TTL")
	cfg.Ticketing.TicketPageCacheTTL = v.GetDuration("TICKETING_TICKET_PAGE_CACHE_TTL")
	cfg.Ticketing.DLQMaxAttempts = v.GetInt("TICKETING_DLQ_MAX_ATTEMPTS")

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	// Refuse the default JWT secret in production
	if c.App.Environment == "production" && c.JWT.Secret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.Ticketing.MinReservationMinutes <= 0 ||
		c.Ticketing.MaxReservationMinutes < c.Ticketing.MinReservationMinutes {
		return fmt.Errorf("invalid reservation duration bounds: min=%d max=%d",
			c.Ticketing.MinReservationMinutes, c.Ticketing.MaxReservationMinutes)
	}

	if c.Ticketing.EventsTopic == "" {
		return fmt.Errorf("ticket events topic is required")
	}

	return nil
}

// ValidateWriteDatabase validates write database configuration
func (c *Config) ValidateWriteDatabase() error {
	if c.WriteDatabase.Host == "" {
		return fmt.Errorf("WRITE_DATABASE_HOST is required")
	}
	if c.WriteDatabase.DBName == "" {
		return fmt.Errorf("WRITE_DATABASE_DBNAME is required")
	}
	return nil
}

// ValidateReadDatabase validates read database configuration
func (c *Config) ValidateReadDatabase() error {
	if c.ReadDatabase.Host == "" {
		return fmt.Errorf("READ_DATABASE_HOST is required")
	}
	if c.ReadDatabase.DBName == "" {
		return fmt.Errorf("READ_DATABASE_DBNAME is required")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
