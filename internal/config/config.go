package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Store      StoreConfig      `mapstructure:"store"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Routes     []RouteConfig    `mapstructure:"routes"`
}

// ProviderConfig is one upstream credential block. APIKey and SecretKey
// support "ENV:VAR_NAME" indirection so config files never hold secrets.
type ProviderConfig struct {
	ID         string            `json:"id" yaml:"id" mapstructure:"id" validate:"required"`
	Type       string            `json:"type" yaml:"type" mapstructure:"type" validate:"required"`
	Name       string            `json:"name" yaml:"name" mapstructure:"name"`
	APIKey     string            `json:"api_key" yaml:"api_key" mapstructure:"api_key" validate:"required"`
	SecretKey  string            `json:"secret_key" yaml:"secret_key" mapstructure:"secret_key"`
	BaseURL    string            `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Region     string            `json:"region" yaml:"region" mapstructure:"region"`
	APIVersion string            `json:"api_version" yaml:"api_version" mapstructure:"api_version"`
	Config     map[string]string `json:"config" yaml:"config" mapstructure:"config"`
	Enabled    bool              `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// RouteConfig maps a friendly alias onto a concrete provider/model target.
// Responses echo the alias back in the model field.
type RouteConfig struct {
	Alias  string `json:"alias" yaml:"alias" mapstructure:"alias"`
	Target string `json:"target" yaml:"target" mapstructure:"target"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
	Key  string `mapstructure:"key"` // inbound bearer token, empty disables auth
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite
	DSN    string `mapstructure:"dsn"`
}

// ResilienceConfig bounds the retry policy for upstream calls.
type ResilienceConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// JobsConfig bounds the submit-then-poll engine.
type JobsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxDuration  time.Duration `mapstructure:"max_duration"`
}

// CatalogConfig controls the background model catalog refresh.
type CatalogConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./internal/config")

	// Default Values
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "refract.db")
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.base_delay", "500ms")
	v.SetDefault("resilience.max_delay", "30s")
	v.SetDefault("jobs.poll_interval", "2s")
	v.SetDefault("jobs.max_duration", "10m")
	v.SetDefault("catalog.refresh_interval", "15m")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Resolve secrets
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = resolveEnvRef(v, cfg.Providers[i].APIKey)
		cfg.Providers[i].SecretKey = resolveEnvRef(v, cfg.Providers[i].SecretKey)
	}

	return &cfg, nil
}

// resolveEnvRef expands "ENV:VAR_NAME" values from the process environment,
// falling back to viper's view. Anything else passes through untouched.
func resolveEnvRef(v *viper.Viper, value string) string {
	if !strings.HasPrefix(value, "ENV:") {
		return value
	}
	envVar := strings.TrimPrefix(value, "ENV:")
	// Check process environment first (explicit override)
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return v.GetString(envVar)
}
