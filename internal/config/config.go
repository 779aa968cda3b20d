package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Server
	Host string `env:"STOREPLANE_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"STOREPLANE_PORT" envDefault:"8080"`

	// Database. Defaults to a local SQLite file — this control plane is a
	// single-writer process with no cross-replica coordination.
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:storeplane.db"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Helm
	HelmChartPath        string        `env:"HELM_CHART_PATH" envDefault:"helm/store"`
	HelmValuesFile       string        `env:"HELM_VALUES_FILE" envDefault:"values.yaml"`
	HelmEnvValuesFile    string        `env:"HELM_ENV_VALUES_FILE" envDefault:"values-local.yaml"`
	HelmExecutionTimeout time.Duration `env:"HELM_EXECUTION_TIMEOUT" envDefault:"120s"`

	// Provisioning
	ProvisioningTimeoutSeconds      int `env:"PROVISIONING_TIMEOUT_SECONDS" envDefault:"600"`
	ProvisioningPollIntervalSeconds int `env:"PROVISIONING_POLL_INTERVAL_SECONDS" envDefault:"5"`
	ProvisioningMaxWorkers          int `env:"PROVISIONING_MAX_WORKERS" envDefault:"5"`

	// Store URLs
	BaseDomain string `env:"BASE_DOMAIN" envDefault:"localhost"`
	TLSEnabled bool   `env:"TLS_ENABLED" envDefault:"false"`

	// Kubernetes
	Kubeconfig string `env:"KUBECONFIG"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProvisioningTimeout is the overall readiness-poll timeout as a duration.
func (c *Config) ProvisioningTimeout() time.Duration {
	return time.Duration(c.ProvisioningTimeoutSeconds) * time.Second
}

// ProvisioningPollInterval is the poll-loop tick cadence as a duration.
func (c *Config) ProvisioningPollInterval() time.Duration {
	return time.Duration(c.ProvisioningPollIntervalSeconds) * time.Second
}

// Scheme returns the URL scheme to use for store_url, chosen by TLSEnabled.
func (c *Config) Scheme() string {
	if c.TLSEnabled {
		return "https"
	}
	return "http"
}
