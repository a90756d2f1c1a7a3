package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/kotoba/pkg/models"
	"github.com/pario-ai/kotoba/pkg/retry"
)

// Environments.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds all Kotoba configuration.
type Config struct {
	Listen      string                           `yaml:"listen"`
	Environment string                           `yaml:"environment"`
	DBPath      string                           `yaml:"db_path"`
	EnvFiles    []string                         `yaml:"env_files"`
	Upstream    UpstreamConfig                   `yaml:"upstream"`
	Retry       retry.Policy                     `yaml:"retry"`
	Routes      map[models.Operation]RouteConfig `yaml:"routes"`
	Cache       CacheConfig                      `yaml:"cache"`
	Server      ServerConfig                     `yaml:"server"`
	Ledger      LedgerConfig                     `yaml:"ledger"`
}

// UpstreamConfig defines the generative model API.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// RouteConfig overrides the model and retry policy for one operation.
type RouteConfig struct {
	Model       string        `yaml:"model"`
	Retry       RetryOverride `yaml:"retry"`
	Temperature *float64      `yaml:"temperature"`
}

// RetryOverride holds the retry fields a route sets. Unset fields inherit
// the default policy; max_retries: 0 disables retries for the route.
type RetryOverride struct {
	MaxRetries        *int          `yaml:"max_retries"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// Apply returns base with the override's set fields replacing its own.
func (o RetryOverride) Apply(base retry.Policy) retry.Policy {
	if o.MaxRetries != nil {
		base.MaxRetries = *o.MaxRetries
	}
	if o.InitialDelay != 0 {
		base.InitialDelay = o.InitialDelay
	}
	if o.MaxDelay != 0 {
		base.MaxDelay = o.MaxDelay
	}
	if o.BackoffMultiplier != 0 {
		base.BackoffMultiplier = o.BackoffMultiplier
	}
	return base
}

// CacheConfig controls the analysis response cache.
type CacheConfig struct {
	Enabled            bool          `yaml:"enabled"`
	MaxEntries         int           `yaml:"max_entries"`
	TTL                time.Duration `yaml:"ttl"`
	UpdateRecencyOnGet bool          `yaml:"update_recency_on_get"`
	// Coalesce shares one upstream call between concurrent identical misses.
	Coalesce bool `yaml:"coalesce"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	APIKeys          []string      `yaml:"api_keys"`
	MaxImageBytes    int           `yaml:"max_image_bytes"`
	MaxPhraseLength  int           `yaml:"max_phrase_length"`
	MaxContextLength int           `yaml:"max_context_length"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// LedgerConfig controls the upstream call ledger.
type LedgerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:      ":8080",
		Environment: EnvProduction,
		DBPath:      "kotoba.db",
		Upstream: UpstreamConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Timeout: 60 * time.Second,
		},
		Retry: retry.DefaultPolicy(),
		Routes: map[models.Operation]RouteConfig{
			models.OpIdentify: {Model: "gemini-2.0-flash"},
			models.OpAnalyze:  {Model: "gemini-2.0-flash"},
			models.OpExtract:  {Model: "gemini-2.0-flash"},
		},
		Cache: CacheConfig{
			Enabled:            true,
			MaxEntries:         1000,
			TTL:                time.Hour,
			UpdateRecencyOnGet: true,
		},
		Server: ServerConfig{
			MaxImageBytes:    10 << 20,
			MaxPhraseLength:  500,
			MaxContextLength: 2000,
			ShutdownTimeout:  10 * time.Second,
		},
		Ledger: LedgerConfig{
			Enabled: true,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
// Variables from the configured env_files (default ".env") are loaded
// first; missing env files are ignored.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var pre struct {
		EnvFiles []string `yaml:"env_files"`
	}
	_ = yaml.Unmarshal(data, &pre)
	if err := loadEnvFiles(pre.EnvFiles); err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks values that would make the proxy misbehave.
func (c *Config) Validate() error {
	if c.Environment != EnvProduction && c.Environment != EnvDevelopment {
		return fmt.Errorf("environment must be %q or %q, got %q", EnvProduction, EnvDevelopment, c.Environment)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	for op := range c.Routes {
		if _, err := models.ParseOperation(string(op)); err != nil {
			return fmt.Errorf("routes: %w", err)
		}
	}
	if c.Cache.Enabled && c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be >= 1, got %d", c.Cache.MaxEntries)
	}
	if c.Server.MaxImageBytes < 1 {
		return fmt.Errorf("server.max_image_bytes must be >= 1")
	}
	return nil
}

// IsDevelopment reports whether internal error details may be exposed.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// APIKey returns the upstream key, falling back to GEMINI_API_KEY when the
// config leaves it empty.
func (c *Config) APIKey() string {
	if c.Upstream.APIKey != "" {
		return c.Upstream.APIKey
	}
	return os.Getenv("GEMINI_API_KEY")
}
