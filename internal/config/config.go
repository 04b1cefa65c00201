package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hong710/nexhub/internal/migrations"
	_ "modernc.org/sqlite"
)

// Config holds all configuration for the nexhub service
type Config struct {
	DBPath    string
	Port      string
	AgentKey  string // Shared key for the agent ingestion endpoint
	LogLevel  string
	LogFormat string
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		DBPath:    "~/nexhub/data/nexhub.db",
		Port:      "8080",
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load builds the configuration from defaults, an optional .env file,
// and NEXHUB_* environment variables, in increasing precedence.
func Load() *Config {
	// Best effort; absence of a .env file is normal
	_ = godotenv.Load()

	c := NewConfig()
	if v := os.Getenv("NEXHUB_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("NEXHUB_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("NEXHUB_AGENT_KEY"); v != "" {
		c.AgentKey = v
	}
	if v := os.Getenv("NEXHUB_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("NEXHUB_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	return c
}

// InitializeDatabase creates and configures the database connection
func (c *Config) InitializeDatabase() (*sql.DB, error) {
	dbPath := c.expandPath(c.DBPath)

	// Ensure database directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	OptimizeDatabaseConnection(db)

	if err := ApplyPragmaOptimizations(db); err != nil {
		return nil, fmt.Errorf("failed to apply performance optimizations: %w", err)
	}

	if err := c.runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// expandPath expands ~ to home directory
func (c *Config) expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Return original path if we can't get home dir
		return path
	}

	return filepath.Join(homeDir, path[2:])
}

// runMigrations runs all database migrations
func (c *Config) runMigrations(db *sql.DB) error {
	migrator := migrations.NewMigrator(db)

	for _, migration := range migrations.All() {
		migrator.AddMigration(migration)
	}

	return migrator.RunMigrations()
}
