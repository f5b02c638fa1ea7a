// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Ledger       LedgerClientConfig
	Notification NotificationConfig
	Business     BusinessConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

// LedgerClientConfig points the movement service at the account ledger service.
type LedgerClientConfig struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
}

type NotificationConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// BusinessConfig carries money-movement policy. Overdraft is a per-deployment
// decision, not a hard-coded rule.
type BusinessConfig struct {
	AllowOverdraft   bool
	OverdraftFloor   string // decimal string, e.g. "-1000.0000"
	AllocatorRetries int
}

func Load() *Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-secret"),
		},
		Ledger: LedgerClientConfig{
			BaseURL:        getEnv("ACCOUNT_SERVICE_URL", "http://localhost:8081"),
			Token:          getEnv("ACCOUNT_SERVICE_TOKEN", ""),
			RequestTimeout: getDurationEnv("ACCOUNT_SERVICE_TIMEOUT", 5*time.Second),
		},
		Notification: NotificationConfig{
			BaseURL:        getEnv("NOTIFICATION_SERVICE_URL", ""),
			RequestTimeout: getDurationEnv("NOTIFICATION_SERVICE_TIMEOUT", 3*time.Second),
		},
		Business: BusinessConfig{
			AllowOverdraft:   getBoolEnv("ALLOW_OVERDRAFT", false),
			OverdraftFloor:   getEnv("OVERDRAFT_FLOOR", "-1000.0000"),
			AllocatorRetries: getIntEnv("ACCOUNT_NUMBER_RETRIES", 10),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}
