package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the attribution service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Report     ReportConfig     `yaml:"report"`
	Cache      CacheConfig      `yaml:"cache"`
	CORS       CORSConfig       `yaml:"cors"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Env             string        `yaml:"env"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// ClickHouseConfig configures the visit log store. When disabled, visits are
// read from PostgreSQL.
type ClickHouseConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Database string        `yaml:"database"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`
	MasterKey string   `yaml:"master_key"`
	SkipPaths []string `yaml:"skip_paths"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ReportConfig bounds report pagination and source fetching.
type ReportConfig struct {
	DefaultLimit int           `yaml:"default_limit"`
	MaxLimit     int           `yaml:"max_limit"`
	Timezone     string        `yaml:"timezone"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// Location resolves the timezone used to interpret calendar dates.
func (r ReportConfig) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.Timezone)
}

// CacheConfig configures the read-through cache for coupons and agencies.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Prefix  string        `yaml:"prefix"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Env:             "development",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5432,
			User:     "orion",
			Password: "orion_secret",
			DBName:   "orion",
			SSLMode:  "disable",
			MaxConns: 25,
			MinConns: 5,
		},
		ClickHouse: ClickHouseConfig{
			Addr:     "localhost:9000",
			Database: "default",
			User:     "default",
			Timeout:  10 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Auth: AuthConfig{
			Enabled:   true,
			SkipPaths: []string{"/api/health", "/metrics"},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     50,
			Burst:   20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Report: ReportConfig{
			DefaultLimit: 50,
			MaxLimit:     500,
			Timezone:     "UTC",
			FetchTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     5 * time.Minute,
			Prefix:  "orion:",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// ORION_CONFIG_FILE, and ORION_* environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("ORION_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("ORION_HTTP_ADDR", c.Server.Addr)
	c.Server.Env = getEnv("ORION_ENV", c.Server.Env)
	c.Server.ReadTimeout = getDurationEnv("ORION_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationEnv("ORION_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getDurationEnv("ORION_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.Enabled = getBoolEnv("ORION_DB_ENABLED", c.Database.Enabled)
	c.Database.Host = getEnv("ORION_DB_HOST", c.Database.Host)
	c.Database.Port = getIntEnv("ORION_DB_PORT", c.Database.Port)
	c.Database.User = getEnv("ORION_DB_USER", c.Database.User)
	c.Database.Password = getEnv("ORION_DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("ORION_DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("ORION_DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxConns = getIntEnv("ORION_DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getIntEnv("ORION_DB_MIN_CONNS", c.Database.MinConns)

	c.ClickHouse.Enabled = getBoolEnv("ORION_CLICKHOUSE_ENABLED", c.ClickHouse.Enabled)
	c.ClickHouse.Addr = getEnv("ORION_CLICKHOUSE_ADDR", c.ClickHouse.Addr)
	c.ClickHouse.Database = getEnv("ORION_CLICKHOUSE_DB", c.ClickHouse.Database)
	c.ClickHouse.User = getEnv("ORION_CLICKHOUSE_USER", c.ClickHouse.User)
	c.ClickHouse.Password = getEnv("ORION_CLICKHOUSE_PASSWORD", c.ClickHouse.Password)
	c.ClickHouse.Timeout = getDurationEnv("ORION_CLICKHOUSE_TIMEOUT", c.ClickHouse.Timeout)

	c.Redis.Addr = getEnv("ORION_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("ORION_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntEnv("ORION_REDIS_DB", c.Redis.DB)

	c.Auth.Enabled = getBoolEnv("ORION_AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.MasterKey = getEnv("ORION_API_KEY", c.Auth.MasterKey)
	c.Auth.SkipPaths = getSliceEnv("ORION_AUTH_SKIP_PATHS", c.Auth.SkipPaths)

	c.RateLimit.Enabled = getBoolEnv("ORION_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RPS = getFloatEnv("ORION_RATE_LIMIT_RPS", c.RateLimit.RPS)
	c.RateLimit.Burst = getIntEnv("ORION_RATE_LIMIT_BURST", c.RateLimit.Burst)

	c.Log.Level = getEnv("ORION_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("ORION_LOG_FORMAT", c.Log.Format)

	c.Metrics.Enabled = getBoolEnv("ORION_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Path = getEnv("ORION_METRICS_PATH", c.Metrics.Path)

	c.Report.DefaultLimit = getIntEnv("ORION_REPORT_DEFAULT_LIMIT", c.Report.DefaultLimit)
	c.Report.MaxLimit = getIntEnv("ORION_REPORT_MAX_LIMIT", c.Report.MaxLimit)
	c.Report.Timezone = getEnv("ORION_REPORT_TIMEZONE", c.Report.Timezone)
	c.Report.FetchTimeout = getDurationEnv("ORION_REPORT_FETCH_TIMEOUT", c.Report.FetchTimeout)

	c.Cache.Enabled = getBoolEnv("ORION_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.TTL = getDurationEnv("ORION_CACHE_TTL", c.Cache.TTL)
	c.Cache.Prefix = getEnv("ORION_CACHE_PREFIX", c.Cache.Prefix)

	c.CORS.AllowedOrigins = getSliceEnv("ORION_CORS_ORIGINS", c.CORS.AllowedOrigins)
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("ORION_API_KEY is required when auth is enabled")
	}
	if c.Report.DefaultLimit <= 0 {
		return fmt.Errorf("report default limit must be positive, got %d", c.Report.DefaultLimit)
	}
	if c.Report.MaxLimit < c.Report.DefaultLimit {
		return fmt.Errorf("report max limit %d is below default limit %d", c.Report.MaxLimit, c.Report.DefaultLimit)
	}
	if _, err := c.Report.Location(); err != nil {
		return fmt.Errorf("invalid report timezone %q: %w", c.Report.Timezone, err)
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
