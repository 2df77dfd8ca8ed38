// Package config loads engine configuration from config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for askwise-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (passwords,
// API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8870"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Embedding backend chain configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Answer generation collaborator configuration
	Generation GenerationConfig `yaml:"generation"`

	// Expiration sweep configuration
	Expiry ExpiryConfig `yaml:"expiry"`

	// OrgConfigPath points to the per-organization category/threshold file.
	OrgConfigPath string `yaml:"org_config_path" env:"ORG_CONFIG_PATH" env-default:"orgs.yaml"`

	// MigrationsPath is the directory containing SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"askwise"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"askwise_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// EmbeddingConfig configures the backend fallback chain. Remote is tried
// first, then local, then the deterministic hashing fallback which is always
// enabled. All backends must produce vectors of Dimension.
type EmbeddingConfig struct {
	Dimension int `yaml:"dimension" env:"EMBEDDING_DIMENSION" env-default:"768"`

	RemoteBaseURL string  `yaml:"remote_base_url" env:"EMBEDDING_REMOTE_BASE_URL" env-default:""`
	RemoteModel   string  `yaml:"remote_model" env:"EMBEDDING_REMOTE_MODEL" env-default:"text-embedding-3-small"`
	RemoteAPIKey  string  `yaml:"-" env:"EMBEDDING_REMOTE_API_KEY"` // Secret - not in YAML
	RemoteRPS     float64 `yaml:"remote_rps" env:"EMBEDDING_REMOTE_RPS" env-default:"10"`

	LocalBaseURL string `yaml:"local_base_url" env:"EMBEDDING_LOCAL_BASE_URL" env-default:""`
	LocalModel   string `yaml:"local_model" env:"EMBEDDING_LOCAL_MODEL" env-default:"nomic-embed-text"`

	TimeoutSeconds int `yaml:"timeout_seconds" env:"EMBEDDING_TIMEOUT_SECONDS" env-default:"15"`
}

// Timeout returns the per-call embedding timeout.
func (c *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RemoteAvailable reports whether the remote backend is configured.
func (c *EmbeddingConfig) RemoteAvailable() bool { return c.RemoteBaseURL != "" }

// LocalAvailable reports whether the local backend is configured.
func (c *EmbeddingConfig) LocalAvailable() bool { return c.LocalBaseURL != "" }

// GenerationConfig selects and configures the text-generation collaborator.
type GenerationConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"GENERATION_PROVIDER" env-default:"openai"`

	BaseURL string `yaml:"base_url" env:"GENERATION_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model   string `yaml:"model" env:"GENERATION_MODEL" env-default:"gpt-4o-mini"`
	APIKey  string `yaml:"-" env:"GENERATION_API_KEY"` // Secret - not in YAML

	MaxTokens      int     `yaml:"max_tokens" env:"GENERATION_MAX_TOKENS" env-default:"1024"`
	Temperature    float64 `yaml:"temperature" env:"GENERATION_TEMPERATURE" env-default:"0.2"`
	TimeoutSeconds int     `yaml:"timeout_seconds" env:"GENERATION_TIMEOUT_SECONDS" env-default:"30"`
}

// Timeout returns the per-call generation timeout.
func (c *GenerationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ExpiryConfig configures the daily expiration sweep.
type ExpiryConfig struct {
	IntervalHours int `yaml:"interval_hours" env:"EXPIRY_INTERVAL_HOURS" env-default:"24"`
}

// Interval returns the sweep interval.
func (c *ExpiryConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if cfg.Embedding.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Embedding.Dimension)
	}

	return cfg, nil
}
