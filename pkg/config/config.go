// Package config loads server configuration from the environment (with
// .env support) and, when COLLAB_SHEETS_CONFIG points at a YAML file, from
// that file. File values override environment values.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Driver names accepted for STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds everything the server needs to start.
type Config struct {
	ServerHost string `yaml:"server_host"`
	ServerPort string `yaml:"server_port"`

	StoreDriver string `yaml:"store_driver"`

	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBSSLMode  string `yaml:"db_sslmode"`

	SQLitePath string `yaml:"sqlite_path"`
}

// Load reads configuration. A missing .env file is fine; a configured but
// unreadable YAML file is logged and skipped.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost:  getEnv("SERVER_HOST", ""),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		StoreDriver: getEnv("STORE_DRIVER", DriverPostgres),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "collab_sheets"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		SQLitePath:  getEnv("SQLITE_PATH", "collab-sheets.sqlite3"),
	}

	if path := os.Getenv("COLLAB_SHEETS_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			slog.Warn("ignoring config file", "path", path, "err", err)
		}
	}
	return cfg
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse yaml: %w", err)
	}
	overlay(&c.ServerHost, file.ServerHost)
	overlay(&c.ServerPort, file.ServerPort)
	overlay(&c.StoreDriver, file.StoreDriver)
	overlay(&c.DBHost, file.DBHost)
	overlay(&c.DBPort, file.DBPort)
	overlay(&c.DBUser, file.DBUser)
	overlay(&c.DBPassword, file.DBPassword)
	overlay(&c.DBName, file.DBName)
	overlay(&c.DBSSLMode, file.DBSSLMode)
	overlay(&c.SQLitePath, file.SQLitePath)
	return nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// GetServerAddr returns the listen address.
func (c *Config) GetServerAddr() string {
	return c.ServerHost + ":" + c.ServerPort
}

// GetDatabaseConnectionString builds the PostgreSQL connection string.
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
