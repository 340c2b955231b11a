package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/marketplace"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type Config struct {
	AppName                       string `env:"APP_NAME" env-default:"clover"`
	Version                       string `env:"APP_VERSION" env-default:"dev"`
	Port                          int    `env:"PORT" env-default:"3000"`
	LogLevel                      string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool   `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int    `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"300"`
	HttpServerReadTimeoutSeconds  int    `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerIdleTimeoutSeconds  int    `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"60"`
	// Upper bound for a POSTed card batch
	HttpBodyLimit      string `env:"HTTP_BODY_LIMIT" env-default:"64M"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	DatabaseHost            string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort            string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName        string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword        string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName            string        `env:"DB_NAME" env-default:"clover"`
	DatabaseSSLMode         string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`

	DatabaseMigrationFolderPath   string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      uint   `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int    `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool   `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`
	// Run migrations as part of startup
	DatabaseMigrateOnStart bool `env:"DB_MIGRATE_ON_START" env-default:"true"`

	// Redis is optional; an empty host disables the aggregation run lock.
	RedisHost     string `env:"REDIS_HOST" env-default:""`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Kafka is optional; no brokers disables change events.
	KafkaBrokers      string `env:"KAFKA_BROKERS" env-default:""`
	KafkaChangesTopic string `env:"KAFKA_CHANGES_TOPIC" env-default:"clover.changes"`
	KafkaCompression  string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	MarketplaceContentURL    string        `env:"MARKETPLACE_CONTENT_URL" env-default:"https://content-api.wildberries.ru"`
	MarketplaceAdvertURL     string        `env:"MARKETPLACE_ADVERT_URL" env-default:"https://advert-api.wildberries.ru"`
	MarketplaceAnalyticsURL  string        `env:"MARKETPLACE_ANALYTICS_URL" env-default:"https://seller-analytics-api.wildberries.ru"`
	MarketplaceToken         string        `env:"MARKETPLACE_TOKEN" env-default:""`
	MarketplaceTimeout       time.Duration `env:"MARKETPLACE_TIMEOUT" env-default:"60s"`
	MarketplaceContentRate   float64       `env:"MARKETPLACE_CONTENT_RATE" env-default:"1.4"`
	MarketplaceAdvertRate    float64       `env:"MARKETPLACE_ADVERT_RATE" env-default:"0.05"`
	MarketplaceAnalyticsRate float64       `env:"MARKETPLACE_ANALYTICS_RATE" env-default:"0.05"`
	MarketplaceMaxRetries    int           `env:"MARKETPLACE_MAX_RETRIES" env-default:"2"`
	MarketplaceRetryBackoff  time.Duration `env:"MARKETPLACE_RETRY_BACKOFF" env-default:"65s"`

	CatalogExclusionsPath    string        `env:"CATALOG_EXCLUSIONS_PATH" env-default:""`
	CatalogHaltOnRejection   bool          `env:"CATALOG_HALT_ON_REJECTION" env-default:"true"`
	AdvStatsMinViews         int           `env:"ADV_STATS_MIN_VIEWS" env-default:"1"`
	AdvStatsLookbackDays     int           `env:"ADV_STATS_LOOKBACK_DAYS" env-default:"7"`
	AdvStatsCampaignStatuses []int         `env:"ADV_STATS_CAMPAIGN_STATUSES" env-default:"7,9,11"`
	AggregationLockTTL       time.Duration `env:"AGGREGATION_LOCK_TTL" env-default:"10m"`
	// IANA zone that decides the report day of conversion stats
	CrStatsTimezone string `env:"CR_STATS_TIMEZONE" env-default:"Europe/Moscow"`

	// OTLP/HTTP collector endpoint; empty records spans without exporting them
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:""`
	OTLPInsecure bool   `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.AdvStatsMinViews < 0 {
		return fmt.Errorf("ADV_STATS_MIN_VIEWS must not be negative, got %d", c.AdvStatsMinViews)
	}
	if c.AdvStatsLookbackDays < 1 || c.AdvStatsLookbackDays > marketplace.MaxFullstatsDays {
		return fmt.Errorf("ADV_STATS_LOOKBACK_DAYS must be within [1, %d], got %d", marketplace.MaxFullstatsDays, c.AdvStatsLookbackDays)
	}
	if c.AggregationLockTTL <= 0 {
		return fmt.Errorf("AGGREGATION_LOCK_TTL must be positive")
	}
	if _, err := time.LoadLocation(c.CrStatsTimezone); err != nil {
		return fmt.Errorf("CR_STATS_TIMEZONE %q is not a known time zone: %w", c.CrStatsTimezone, err)
	}
	return nil
}

func (c *Config) Database() database.ConnectionConfig {
	return database.ConnectionConfig{
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) Migration() *database.MigrationConfig {
	return &database.MigrationConfig{
		MigrationFolderPath: c.DatabaseMigrationFolderPath,
		Version:             c.DatabaseMigrationVersion,
		Force:               c.DatabaseMigrationForce,
		AutoRollback:        c.DatabaseMigrationAutoRollback,
	}
}

func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func (c *Config) Redis() redis.Config {
	return redis.Config{
		Addr:     fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort),
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func (c *Config) KafkaEnabled() bool {
	return len(c.kafkaBrokers()) > 0
}

func (c *Config) Kafka() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:     c.kafkaBrokers(),
		Topic:       c.KafkaChangesTopic,
		Compression: c.KafkaCompression,
	}
}

func (c *Config) kafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c *Config) Marketplace() marketplace.Config {
	return marketplace.Config{
		ContentBaseURL:   c.MarketplaceContentURL,
		AdvertBaseURL:    c.MarketplaceAdvertURL,
		AnalyticsBaseURL: c.MarketplaceAnalyticsURL,
		Token:            c.MarketplaceToken,
		Timeout:          c.MarketplaceTimeout,
		ContentRate:      c.MarketplaceContentRate,
		AdvertRate:       c.MarketplaceAdvertRate,
		AnalyticsRate:    c.MarketplaceAnalyticsRate,
		MaxRetries:       c.MarketplaceMaxRetries,
		RetryBackoff:     c.MarketplaceRetryBackoff,
	}
}

// CrStatsLocation is the loaded CR_STATS_TIMEZONE. Validate has already checked it.
func (c *Config) CrStatsLocation() *time.Location {
	loc, err := time.LoadLocation(c.CrStatsTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Tracing() tracing.Config {
	return tracing.Config{
		ServiceName: c.AppName,
		Endpoint:    c.OTLPEndpoint,
		Insecure:    c.OTLPInsecure,
	}
}
