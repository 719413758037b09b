package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds database configuration.
type Config struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string

	// Path is the sqlite database file; ":memory:" for an in-memory store.
	Path string

	// PostgreSQL connection settings (used when Driver is "postgres").
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads database configuration from environment variables.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "5"))

	return Config{
		Driver:          getEnvOrDefault("DB_DRIVER", "sqlite"),
		Path:            getEnvOrDefault("DB_PATH", "./maestro.db"),
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("DB_USER", "maestro"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnvOrDefault("DB_NAME", "maestro"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

// InMemory returns a config for a throwaway in-memory sqlite store.
// Used by tests and available for ephemeral deployments.
func InMemory() Config {
	return Config{Driver: "sqlite", Path: ":memory:", Database: "maestro"}
}

// driverDSN resolves the database/sql driver name and DSN.
func (c Config) driverDSN() (string, string) {
	if c.Driver == "postgres" {
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
		)
		return "pgx", dsn
	}
	path := c.Path
	if path == "" {
		path = ":memory:"
	}
	if path == ":memory:" {
		// Shared cache keeps the schema visible across the pool's single conn.
		return "sqlite3", "file::memory:?cache=shared"
	}
	return "sqlite3", path
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
