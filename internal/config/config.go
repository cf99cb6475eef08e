// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	StoreDriver string `mapstructure:"STORE_DRIVER" validate:"oneof=postgres memory"`
	DBURL       string `mapstructure:"DB_URL" validate:"required_if=StoreDriver postgres"`

	EnabledConnectors []string `mapstructure:"ENABLED_CONNECTORS"`
	GithubHost        string   `mapstructure:"GITHUB_HOST" validate:"required,hostname_port|hostname"`
	GithubAPIURL      string   `mapstructure:"GITHUB_API_URL" validate:"omitempty,url"`
	GithubSecretName  string   `mapstructure:"GITHUB_SECRET_NAME" validate:"required"`
	GithubRateLimit   float64  `mapstructure:"GITHUB_RATE_LIMIT" validate:"gt=0"`

	SecretsProvider       string `mapstructure:"SECRETS_PROVIDER" validate:"oneof=environment keyring"`
	SecretsEnvPrefix      string `mapstructure:"SECRETS_ENV_PREFIX"`
	SecretsKeyringService string `mapstructure:"SECRETS_KEYRING_SERVICE"`

	FetchTimeout           time.Duration `mapstructure:"FETCH_TIMEOUT" validate:"gt=0"`
	FetchMaxAttempts       int           `mapstructure:"FETCH_MAX_ATTEMPTS" validate:"gte=1,lte=10"`
	DeleteOnPartialFailure bool          `mapstructure:"DELETE_ON_PARTIAL_FAILURE"`
	DryRun                 bool          `mapstructure:"DRY_RUN"`

	Workers       int    `mapstructure:"WORKERS" validate:"gte=1,lte=64"`
	QueueDriver   string `mapstructure:"QUEUE_DRIVER" validate:"oneof=memory redis"`
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required_if=QueueDriver redis"`
	RedisQueueKey string `mapstructure:"REDIS_QUEUE_KEY"`
	SyncSchedule  string `mapstructure:"SYNC_SCHEDULE" validate:"required"`

	HTTPAddr string `mapstructure:"HTTP_ADDR"`
}

var defaults = map[string]any{
	"LOG_LEVEL":                 "info",
	"STORE_DRIVER":              "postgres",
	"DB_URL":                    "",
	"ENABLED_CONNECTORS":        "github,yml_remote",
	"GITHUB_HOST":               "github.com",
	"GITHUB_API_URL":            "",
	"GITHUB_SECRET_NAME":        "github",
	"GITHUB_RATE_LIMIT":         1.2,
	"SECRETS_PROVIDER":          "environment",
	"SECRETS_ENV_PREFIX":        "REPOSYNC_SECRET_",
	"SECRETS_KEYRING_SERVICE":   "repository-reconciler",
	"FETCH_TIMEOUT":             "30s",
	"FETCH_MAX_ATTEMPTS":        3,
	"DELETE_ON_PARTIAL_FAILURE": false,
	"DRY_RUN":                   false,
	"WORKERS":                   5,
	"QUEUE_DRIVER":              "memory",
	"REDIS_ADDR":                "",
	"REDIS_QUEUE_KEY":           "reposync:accounts",
	"SYNC_SCHEDULE":             "@every 1h",
	"HTTP_ADDR":                 ":8080",
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Every key needs a default so that AutomaticEnv values reach Unmarshal.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.EnabledConnectors = normalizeList(cfg.EnabledConnectors)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// normalizeList trims entries and drops blanks, keeping order.
func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
