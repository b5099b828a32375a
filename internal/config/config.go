package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the attribution engine.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	ClickHouse  ClickHouseConfig
	Ingest      IngestConfig
	Attribution AttributionConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Geo         GeoConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the high-volume event store.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
}

// IngestConfig configures the event ingestion gateway.
type IngestConfig struct {
	// EventsPerMinute is the per-brand rate limit on the tracking endpoint.
	EventsPerMinute int
	// TrustProxyHeaders enables X-Forwarded-For / X-Real-IP parsing.
	TrustProxyHeaders bool
}

// AttributionConfig configures path reconstruction and credit models.
type AttributionConfig struct {
	// LookbackWindow bounds how far before a conversion touchpoints count.
	LookbackWindow time.Duration
	// HalfLife is the time-decay model half-life.
	HalfLife time.Duration
	// CollapseInterval deduplicates rapid same-channel touchpoints.
	CollapseInterval time.Duration
	// ConversionTypes lists the event types that terminate a path.
	ConversionTypes []string
}

// RateLimitConfig configures the per-IP limiter on management endpoints.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP enrichment of ingested events.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("PULSE_HTTP_ADDR", ":8080"),
			Env:             getEnv("PULSE_ENV", "development"),
			ShutdownTimeout: getDurationEnv("PULSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("PULSE_DB_ENABLED", true),
			Host:     getEnv("PULSE_DB_HOST", "localhost"),
			Port:     getIntEnv("PULSE_DB_PORT", 5432),
			User:     getEnv("PULSE_DB_USER", "pulse"),
			Password: getEnv("PULSE_DB_PASSWORD", "pulse_secret"),
			DBName:   getEnv("PULSE_DB_NAME", "pulse"),
			SSLMode:  getEnv("PULSE_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("PULSE_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("PULSE_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("PULSE_REDIS_ENABLED", true),
			Addr:     getEnv("PULSE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("PULSE_REDIS_PASSWORD", ""),
			DB:       getIntEnv("PULSE_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("PULSE_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("PULSE_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("PULSE_CLICKHOUSE_DB", "pulse"),
			User:     getEnv("PULSE_CLICKHOUSE_USER", "default"),
			Password: getEnv("PULSE_CLICKHOUSE_PASSWORD", ""),
		},
		Ingest: IngestConfig{
			EventsPerMinute:   getIntEnv("PULSE_INGEST_EVENTS_PER_MINUTE", 1000),
			TrustProxyHeaders: getBoolEnv("PULSE_INGEST_TRUST_PROXY", true),
		},
		Attribution: AttributionConfig{
			LookbackWindow:   getDurationEnv("PULSE_ATTRIBUTION_LOOKBACK", 30*24*time.Hour),
			HalfLife:         getDurationEnv("PULSE_ATTRIBUTION_HALF_LIFE", 7*24*time.Hour),
			CollapseInterval: getDurationEnv("PULSE_ATTRIBUTION_COLLAPSE", 5*time.Minute),
			ConversionTypes: getSliceEnv("PULSE_ATTRIBUTION_CONVERSION_TYPES",
				[]string{"trial_started", "subscription_started", "payment_succeeded"}),
		},
		RateLimit: RateLimitConfig{
			Enabled: getBoolEnv("PULSE_RATE_LIMIT_ENABLED", true),
			RPS:     getFloatEnv("PULSE_RATE_LIMIT_RPS", 100),
			Burst:   getIntEnv("PULSE_RATE_LIMIT_BURST", 50),
		},
		Log: LogConfig{
			Level:  getEnv("PULSE_LOG_LEVEL", "info"),
			Format: getEnv("PULSE_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("PULSE_METRICS_ENABLED", true),
			Path:    getEnv("PULSE_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("PULSE_GEO_ENABLED", false),
			DatabasePath: getEnv("PULSE_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
			CacheSize:    getIntEnv("PULSE_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("PULSE_GEO_CACHE_TTL", 1*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Ingest.EventsPerMinute <= 0 {
		return fmt.Errorf("PULSE_INGEST_EVENTS_PER_MINUTE must be positive")
	}
	if c.Attribution.LookbackWindow <= 0 {
		return fmt.Errorf("PULSE_ATTRIBUTION_LOOKBACK must be positive")
	}
	if c.Attribution.HalfLife <= 0 {
		return fmt.Errorf("PULSE_ATTRIBUTION_HALF_LIFE must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
