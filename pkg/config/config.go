package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store and lease backends
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	OTEL        OTELConfig
	Queue       QueueConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	// Enabled turns the Redis event bus and lease backend on
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// QueueConfig holds patient flow settings that are not stored in system_settings
type QueueConfig struct {
	// Timezone decides the facility calendar day for tickets, loads and pins
	Timezone         string
	LeaseTTL         time.Duration
	LeaseBackend     string
	StoreBackend     string
	SchedulerEnabled bool
	// EmergencyPin is the fallback when system_settings has no emergency_pin row
	EmergencyPin string
	SeedFile     string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "patient_flow"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "patient-flow"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
		Queue: QueueConfig{
			Timezone:         getEnv("QUEUE_TIMEZONE", "Asia/Qatar"),
			LeaseTTL:         getEnvAsDuration("QUEUE_LEASE_TTL", 10*time.Second),
			LeaseBackend:     strings.ToLower(getEnv("QUEUE_LEASE_BACKEND", BackendPostgres)),
			StoreBackend:     strings.ToLower(getEnv("QUEUE_STORE_BACKEND", BackendPostgres)),
			SchedulerEnabled: getEnvAsBool("QUEUE_SCHEDULER_ENABLED", true),
			EmergencyPin:     getEnv("QUEUE_EMERGENCY_PIN", "999"),
			SeedFile:         getEnv("QUEUE_SEED_FILE", ""),
		},
	}

	if err := cfg.Queue.Validate(cfg.Redis.Enabled); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the queue settings for values the engines cannot run with
func (c *QueueConfig) Validate(redisEnabled bool) error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid QUEUE_TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("QUEUE_LEASE_TTL must be positive, got %s", c.LeaseTTL)
	}
	switch c.LeaseBackend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unsupported QUEUE_LEASE_BACKEND %q", c.LeaseBackend)
	}
	if c.LeaseBackend == BackendRedis && !redisEnabled {
		return fmt.Errorf("QUEUE_LEASE_BACKEND=redis requires REDIS_ENABLED")
	}
	switch c.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unsupported QUEUE_STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

// Location returns the facility time zone
func (c *QueueConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
